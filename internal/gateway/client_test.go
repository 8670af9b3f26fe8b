package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignPayment(t *testing.T) {
	// HMAC-SHA256 over "orderId|paymentId", hex encoded.
	sig := SignPayment("secret", "order_123", "pay_456")
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}
	if sig != SignPayment("secret", "order_123", "pay_456") {
		t.Fatal("signature is not deterministic")
	}
	if sig == SignPayment("other", "order_123", "pay_456") {
		t.Fatal("different secrets must not collide")
	}
}

func TestVerifySignature(t *testing.T) {
	client := New(Config{KeyID: "key", KeySecret: "secret"}, slog.New(slog.DiscardHandler), nil)

	good := SignPayment("secret", "order_123", "pay_456")
	if err := client.VerifySignature("order_123", "pay_456", good); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	err := client.VerifySignature("order_123", "pay_456", "deadbeef")
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}

	err = client.VerifySignature("order_999", "pay_456", good)
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch for wrong order, got %v", err)
	}
}

func TestCreateOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/orders" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key_id" || pass != "key_secret" {
			t.Errorf("missing or wrong basic auth")
		}

		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("invalid request body: %v", err)
		}
		if req["amount"] != float64(50000) {
			t.Errorf("expected amount 50000, got %v", req["amount"])
		}
		if req["currency"] != "INR" {
			t.Errorf("expected currency INR, got %v", req["currency"])
		}

		writeBody(w, map[string]any{
			"id":       "order_test123",
			"amount":   50000,
			"currency": "INR",
			"receipt":  req["receipt"],
			"status":   "created",
		})
	}))
	defer server.Close()

	client := New(Config{
		BaseURL:   server.URL,
		KeyID:     "key_id",
		KeySecret: "key_secret",
		Timeout:   5 * time.Second,
	}, slog.New(slog.DiscardHandler), nil)

	order, err := client.CreateOrder(context.Background(), 50000, "INR", "receipt_abc")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ID != "order_test123" {
		t.Fatalf("expected order_test123, got %s", order.ID)
	}
	if order.Amount != 50000 {
		t.Fatalf("expected amount 50000, got %d", order.Amount)
	}
}

func TestCreateOrderProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeBody(w, map[string]any{"error": map[string]any{"description": "bad key"}})
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, KeyID: "k", KeySecret: "s"}, slog.New(slog.DiscardHandler), nil)
	if _, err := client.CreateOrder(context.Background(), 100, "INR", "receipt_x"); err == nil {
		t.Fatal("expected error from provider rejection")
	}
}

func writeBody(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}
