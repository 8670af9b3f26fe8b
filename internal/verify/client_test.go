package verify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := New(Config{
		BaseURL:    server.URL,
		AccountSID: "AC_test",
		AuthToken:  "token_test",
		ServiceSID: "VA_test",
	}, slog.New(slog.DiscardHandler), nil, nil)
	return client, server
}

func TestStartSendsVerification(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/Services/VA_test/Verifications" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC_test" || pass != "token_test" {
			t.Errorf("missing or wrong basic auth")
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("To") != "+911234567890" {
			t.Errorf("expected To field, got %q", r.PostForm.Get("To"))
		}
		if r.PostForm.Get("Channel") != "sms" {
			t.Errorf("expected sms channel, got %q", r.PostForm.Get("Channel"))
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
	})

	if err := client.Start(context.Background(), "+911234567890"); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestCheckReturnsProviderStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/Services/VA_test/VerificationCheck" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("Code") != "123456" {
			t.Errorf("expected code 123456, got %q", r.PostForm.Get("Code"))
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": StatusApproved})
	})

	result, err := client.Check(context.Background(), "+911234567890", "123456")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Status != StatusApproved {
		t.Fatalf("expected approved, got %s", result.Status)
	}
}

func TestStartProviderError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Max send attempts reached"})
	})

	if err := client.Start(context.Background(), "+911234567890"); err == nil {
		t.Fatal("expected error from provider rejection")
	}
}
