package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/qrgate/service"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func requirePerson(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := personID(r)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing "+personHeader+" header")
		return "", false
	}
	return id, true
}

// writeServiceError maps service sentinels to HTTP statuses. Anything it
// does not recognise is logged and reported as a 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidPersonID):
		writeError(w, http.StatusBadRequest, "invalid_person_id", err.Error())
	case errors.Is(err, service.ErrInvalidPhone):
		writeError(w, http.StatusBadRequest, "invalid_phone", err.Error())
	case errors.Is(err, service.ErrInvalidFingerprint):
		writeError(w, http.StatusBadRequest, "invalid_fingerprint", err.Error())
	case errors.Is(err, service.ErrInvalidActionPoint):
		writeError(w, http.StatusBadRequest, "invalid_action_point", err.Error())
	case errors.Is(err, service.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, "too_many_attempts", err.Error())
	case errors.Is(err, service.ErrVerificationNotFound):
		writeError(w, http.StatusNotFound, "verification_not_found", err.Error())
	case errors.Is(err, service.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, "device_not_found", err.Error())
	case errors.Is(err, service.ErrActionPointNotFound):
		writeError(w, http.StatusNotFound, "action_point_not_found", err.Error())
	case errors.Is(err, service.ErrActionPointExists):
		writeError(w, http.StatusConflict, "action_point_exists", err.Error())
	case errors.Is(err, service.ErrNotPrintable):
		writeError(w, http.StatusConflict, "not_printable", err.Error())
	case errors.Is(err, service.ErrNoPendingAttempt):
		writeError(w, http.StatusAccepted, "no_pending_attempt", err.Error())
	case errors.Is(err, service.ErrDeviceRevoked), errors.Is(err, service.ErrDeviceExpired):
		writeError(w, http.StatusForbidden, "revoked_device", err.Error())
	case errors.Is(err, service.ErrDeviceTokenInvalid),
		errors.Is(err, service.ErrDeviceFingerprintMismatch),
		errors.Is(err, service.ErrDeviceUnregistered),
		errors.Is(err, service.ErrDeviceOwnerMismatch):
		writeError(w, http.StatusForbidden, "device_mismatch", err.Error())
	default:
		s.logger.Error(op+" failed",
			zap.String("request_id", requestID(r)),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}
