package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"mentora/internal/gateway"
	"mentora/internal/referral"
	"mentora/internal/repo"
	"mentora/internal/settlement"
	"mentora/internal/verify"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func (s *Server) ok(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

func (s *Server) fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

func (s *Server) unauthorized(w http.ResponseWriter, message string) {
	s.fail(w, http.StatusUnauthorized, message)
}

func (s *Server) forbidden(w http.ResponseWriter, message string) {
	s.fail(w, http.StatusForbidden, message)
}

// respondError maps domain errors onto HTTP statuses. Anything unmapped is
// logged and reported as a generic 500 so internals never leak to clients.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		s.fail(w, http.StatusNotFound, "Not found.")
	case errors.Is(err, repo.ErrAlreadyProcessed):
		s.fail(w, http.StatusBadRequest, "Already processed.")
	case errors.Is(err, repo.ErrInsufficientBalance):
		s.fail(w, http.StatusBadRequest, "Insufficient balance for disbursement.")
	case errors.Is(err, gateway.ErrSignatureMismatch):
		s.fail(w, http.StatusBadRequest, "Payment verification failed.")
	case errors.Is(err, referral.ErrSelfReferral):
		s.fail(w, http.StatusBadRequest, "You cannot use your own referral code.")
	case errors.Is(err, referral.ErrCodeAlreadyUsed):
		s.fail(w, http.StatusBadRequest, "Referral code already used.")
	case errors.Is(err, settlement.ErrInvalidAmount):
		s.fail(w, http.StatusBadRequest, "Amount must be a positive number.")
	case errors.Is(err, verify.ErrCooldownActive):
		s.fail(w, http.StatusTooManyRequests, "OTP recently sent. Please wait before retrying.")
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("http").Inc()
		}
		s.fail(w, http.StatusInternalServerError, "Internal server error.")
	}
}

func decodeJSON(r *http.Request, dest any) error {
	return json.NewDecoder(r.Body).Decode(dest)
}
