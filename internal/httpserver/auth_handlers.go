package httpserver

import (
	"net/http"
	"regexp"
	"strings"

	"mentora/internal/auth"
	"mentora/internal/repo"
	"mentora/internal/verify"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)

func normalisePhone(raw string) (string, bool) {
	phone := strings.TrimSpace(raw)
	phone = strings.ReplaceAll(phone, " ", "")
	phone = strings.ReplaceAll(phone, "-", "")
	if !phonePattern.MatchString(phone) {
		return "", false
	}
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return phone, true
}

func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	phone, ok := normalisePhone(req.PhoneNumber)
	if !ok {
		s.fail(w, http.StatusBadRequest, "A valid phone number is required.")
		return
	}

	if err := s.deps.Verifier.Start(r.Context(), phone); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.ok(w, "OTP sent successfully.", nil)
}

// userPayload is the user shape returned after login and on the profile
// endpoints.
type userPayload struct {
	ID           string  `json:"id"`
	PhoneNumber  string  `json:"phoneNumber"`
	Name         *string `json:"name"`
	Age          *int    `json:"age"`
	ReferralCode *string `json:"referralCode"`
	HasPurchased bool    `json:"hasPurchased"`
	Role         string  `json:"role"`
}

func (s *Server) userRole(phone string) string {
	for _, admin := range s.deps.AdminPhones {
		if admin == phone {
			return auth.RoleAdmin
		}
	}
	return auth.RoleUser
}

func toUserPayload(u *repo.User, role string) userPayload {
	return userPayload{
		ID:           u.ID,
		PhoneNumber:  u.PhoneNumber,
		Name:         u.Name,
		Age:          u.Age,
		ReferralCode: u.ReferralCode,
		HasPurchased: u.HasPurchased,
		Role:         role,
	}
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string `json:"phoneNumber"`
		Code        string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	phone, ok := normalisePhone(req.PhoneNumber)
	if !ok || req.Code == "" {
		s.fail(w, http.StatusBadRequest, "Phone number and code are required.")
		return
	}

	result, err := s.deps.Verifier.Check(r.Context(), phone, req.Code)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if result.Status != verify.StatusApproved {
		s.fail(w, http.StatusUnauthorized, "Invalid or expired OTP.")
		return
	}

	user, err := s.deps.Repository.UpsertUserByPhone(r.Context(), phone)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	role := s.userRole(phone)
	token, err := s.deps.Tokens.Issue(user.ID, user.PhoneNumber, role)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.logger.Info("user logged in", "user_id", user.ID, "role", role)
	s.ok(w, "Login successful.", map[string]any{
		"token": token,
		"user":  toUserPayload(user, role),
	})
}

// handleLogout exists for client symmetry; tokens are stateless, so the
// client discarding its copy is the whole operation.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.ok(w, "Logged out successfully.", nil)
}
