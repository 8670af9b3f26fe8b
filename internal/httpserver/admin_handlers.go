package httpserver

import "net/http"

func (s *Server) handlePendingDisbursements(w http.ResponseWriter, r *http.Request) {
	pending, err := s.deps.Settlement.PendingDisbursements(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.ok(w, "", map[string]any{"disbursements": pending})
}

func (s *Server) handleApproveDisbursement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletID       string `json:"walletId"`
		DisbursementID string `json:"disbursementId"`
		UserID         string `json:"userId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.WalletID == "" || req.DisbursementID == "" {
		s.fail(w, http.StatusBadRequest, "Wallet and disbursement identifiers are required.")
		return
	}

	disbursement, err := s.deps.Settlement.ApproveDisbursement(r.Context(), req.WalletID, req.DisbursementID, req.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.ok(w, "Disbursement approved.", map[string]any{"disbursement": disbursement})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.Settlement.UsersWithStats(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.ok(w, "", map[string]any{"users": users})
}
