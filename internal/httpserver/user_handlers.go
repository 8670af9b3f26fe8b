package httpserver

import (
	"net/http"
	"strings"

	"mentora/internal/auth"
	"mentora/internal/repo"
)

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	user, err := s.deps.Repository.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.ok(w, "", map[string]any{"user": toUserPayload(user, claims.Role)})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req struct {
		Name *string `json:"name"`
		Age  *int    `json:"age"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.Name == nil && req.Age == nil {
		s.fail(w, http.StatusBadRequest, "Nothing to update.")
		return
	}
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if trimmed == "" {
			s.fail(w, http.StatusBadRequest, "Name cannot be empty.")
			return
		}
		req.Name = &trimmed
	}
	if req.Age != nil && (*req.Age < 1 || *req.Age > 120) {
		s.fail(w, http.StatusBadRequest, "Age must be between 1 and 120.")
		return
	}

	user, err := s.deps.Repository.UpdateUserProfile(r.Context(), claims.UserID, repo.ProfileUpdate{Name: req.Name, Age: req.Age})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.ok(w, "Profile updated successfully.", map[string]any{"user": toUserPayload(user, claims.Role)})
}
