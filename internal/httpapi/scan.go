package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/qrgate/service"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	scanner, ok := requirePerson(w, r)
	if !ok {
		return
	}

	var req types.ScanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	out, err := s.engine.Validate(r.Context(), types.ScanInput{
		Channel:           types.ChannelCamera,
		RawPayload:        req.ScannedQRData,
		DeviceFingerprint: req.DeviceFingerprint,
		DeviceTrustToken:  req.DeviceTrustToken,
		ScannerPersonID:   scanner,
		Latitude:          req.GPSLat,
		Longitude:         req.GPSLng,
	})
	if err != nil {
		s.scanUnavailable(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, scanResponse(out, false))
}

// handleTerminalScan accepts JSON or protobuf and answers in the same
// encoding.
func (s *Server) handleTerminalScan(w http.ResponseWriter, r *http.Request) {
	scanner, ok := requirePerson(w, r)
	if !ok {
		return
	}

	proto := isProtobuf(r)
	var req types.TerminalScanRequest
	if proto {
		body, err := readBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_body", "could not read body")
			return
		}
		if req, err = terminalScanFromProto(body); err != nil {
			writeError(w, http.StatusBadRequest, "bad_proto", "invalid protobuf body")
			return
		}
	} else if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	out, err := s.engine.Validate(r.Context(), types.ScanInput{
		Channel:           types.ChannelTerminal,
		RawPayload:        req.ScannedQRData,
		DeviceFingerprint: req.DeviceFingerprint,
		DeviceTrustToken:  req.DeviceTrustToken,
		ScannerPersonID:   scanner,
		ActionPointID:     req.ActionPointID,
	})
	if err != nil {
		s.scanUnavailable(w, r, err)
		return
	}

	resp := scanResponse(out, true)
	if proto {
		writeProto(w, http.StatusOK, scanResponseToProto(resp))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// scanResponse renders a verdict. Rejections are answers, not errors, so
// every verdict is sent with 200.
func scanResponse(out service.Outcome, withPerson bool) types.ScanResponse {
	resp := types.ScanResponse{
		Success:          out.Verdict.Result() == types.ResultSuccess,
		Message:          types.Message(out.Verdict),
		ValidationResult: out.Verdict.Result(),
		ActionType:       out.Entry.ActionType,
		ScanLogID:        out.Entry.ID,
	}
	if withPerson {
		resp.PersonID = out.Entry.PersonID
	}
	return resp
}

func (s *Server) scanUnavailable(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("scan validation unavailable",
		zap.String("request_id", requestID(r)),
		zap.Error(err))
	writeError(w, http.StatusServiceUnavailable, "unavailable", "scan could not be validated, try again")
}

func (s *Server) handleIssueIdentity(w http.ResponseWriter, r *http.Request) {
	var req types.IdentityTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	issued, err := s.identity.IssueForDevice(r.Context(), personID(r), req.DeviceFingerprint, req.DeviceTrustToken)
	if err != nil {
		s.writeServiceError(w, r, "identity issue", err)
		return
	}

	writeJSON(w, http.StatusOK, types.IdentityTokenResponse{
		Token:      issued.Token,
		IssuedAt:   issued.IssuedAt.Format(timeLayout),
		ExpiresAt:  issued.ExpiresAt.Format(timeLayout),
		TTLSeconds: int(issued.TTL.Seconds()),
	})
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, map[string]any{
		"algorithm":   "EdDSA",
		"curve":       "Ed25519",
		"public_key":  s.identity.PublicKey(),
		"ttl_seconds": int(s.identity.TTL().Seconds()),
	})
}
