package httpapi

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/qrgate/service"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

const timeLayout = time.RFC3339

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	person, ok := requirePerson(w, r)
	if !ok {
		return
	}

	var req types.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	reg, err := s.registrar.StartRegistration(r.Context(), person, req.PhoneNumber, req.DeviceInfo.Fingerprint)
	if err != nil {
		s.writeServiceError(w, r, "register", err)
		return
	}

	msg := "dev mode: the device is verified on the first status poll"
	if !reg.DevMode {
		msg = "send an SMS from this phone number to verify the device"
		if reg.InboundNumber != "" {
			msg = fmt.Sprintf("send an SMS from this phone number to %s to verify the device", reg.InboundNumber)
		}
	}

	writeJSON(w, http.StatusCreated, types.RegisterResponse{
		VerificationID:      reg.VerificationID,
		DevMode:             reg.DevMode,
		PollIntervalSeconds: int(reg.PollInterval.Seconds()),
		MaxPolls:            reg.MaxPolls,
		InboundNumber:       reg.InboundNumber,
		Message:             msg,
	})
}

func (s *Server) handleVerifyStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.registrar.CheckStatus(r.Context(), chi.URLParam(r, "verificationID"))
	if err != nil {
		s.writeServiceError(w, r, "verify status", err)
		return
	}

	resp := types.VerifyStatusResponse{
		Status:           st.Status,
		DeviceTrustToken: st.Token,
		Message:          st.Message,
	}
	if st.TokenExpiresAt != nil {
		resp.TokenExpiresAt = st.TokenExpiresAt.UTC().Format(timeLayout)
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// handleInboundSMS is the SMS provider's webhook. The sender number is the
// possession proof; the body is not interpreted.
func (s *Server) handleInboundSMS(w http.ResponseWriter, r *http.Request) {
	if s.webhookSecret != "" {
		got := r.Header.Get(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.webhookSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "bad_webhook_secret", "webhook secret mismatch")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_form", "invalid form body")
		return
	}

	id, err := s.registrar.HandleInboundSMS(r.Context(), r.PostForm.Get("From"), r.PostForm.Get("Body"))
	if errors.Is(err, service.ErrNoPendingAttempt) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}
	if err != nil {
		s.writeServiceError(w, r, "inbound sms", err)
		return
	}

	s.logger.Info("inbound sms verified device", zap.String("verification_id", id))
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified", "verification_id": id})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	person, ok := requirePerson(w, r)
	if !ok {
		return
	}

	recs, err := s.registrar.ListDevices(r.Context(), person)
	if err != nil {
		s.writeServiceError(w, r, "list devices", err)
		return
	}
	if recs == nil {
		recs = []types.DeviceTrustRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": recs})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	person, ok := requirePerson(w, r)
	if !ok {
		return
	}

	if err := s.registrar.Revoke(r.Context(), chi.URLParam(r, "fingerprint"), person); err != nil {
		s.writeServiceError(w, r, "revoke", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
