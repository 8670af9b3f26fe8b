package httpserver

import (
	"net/http"
	"strings"

	"mentora/internal/auth"
)

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req struct {
		Amount       int64  `json:"amount"`
		ServiceName  string `json:"serviceName"`
		ReferralCode string `json:"referralCode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if strings.TrimSpace(req.ServiceName) == "" {
		s.fail(w, http.StatusBadRequest, "Service name is required.")
		return
	}

	result, err := s.deps.Settlement.CreateOrder(r.Context(), claims.UserID, req.Amount, req.ServiceName, strings.TrimSpace(req.ReferralCode))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.ok(w, "Order created successfully.", result)
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	// Field names follow the gateway checkout callback verbatim.
	var req struct {
		OrderID       string `json:"razorpay_order_id"`
		PaymentID     string `json:"razorpay_payment_id"`
		Signature     string `json:"razorpay_signature"`
		TransactionID string `json:"transactionId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" || req.TransactionID == "" {
		s.fail(w, http.StatusBadRequest, "Order, payment, signature and transaction identifiers are required.")
		return
	}

	txn, err := s.deps.Settlement.VerifyPayment(r.Context(), claims.UserID, req.OrderID, req.PaymentID, req.Signature, req.TransactionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.ok(w, "Payment verified successfully.", map[string]any{"transaction": txn})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	transactions, err := s.deps.Settlement.ListTransactions(r.Context(), claims.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.ok(w, "", map[string]any{"transactions": transactions})
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	summary, err := s.deps.Settlement.GetWallet(r.Context(), claims.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.ok(w, "", summary)
}

func (s *Server) handleRequestDisbursement(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	disbursement, err := s.deps.Settlement.RequestDisbursement(r.Context(), claims.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.ok(w, "Disbursement requested successfully.", map[string]any{"disbursement": disbursement})
}
