package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mentora/internal/auth"
	"mentora/internal/metrics"
	"mentora/internal/repo"
	"mentora/internal/settlement"
	"mentora/internal/verify"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OTPVerifier is the slice of the verification provider the handlers use.
type OTPVerifier interface {
	Start(ctx context.Context, phoneNumber string) error
	Check(ctx context.Context, phoneNumber, code string) (*verify.CheckResult, error)
}

// Dependencies exposes core dependencies to handlers.
type Dependencies struct {
	Repository  repo.Repository
	Verifier    OTPVerifier
	Tokens      *auth.TokenIssuer
	Settlement  *settlement.Service
	AdminPhones []string
}

// Server wraps an http.Server with the API routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	deps       Dependencies
	basePath   string
}

// New creates an HTTP server listening on addr with the API, health and
// metrics endpoints mounted.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, deps Dependencies, basePath string) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		deps:     deps,
		basePath: normaliseBasePath(basePath),
	}

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mountWithBasePath(server.basePath, server.Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// Routes builds the route table. Exposed so tests can drive the handlers
// without a listening socket.
func (s *Server) Routes() http.Handler {
	authed := auth.Middleware(s.deps.Tokens, s.unauthorized)
	adminOnly := func(h http.Handler) http.Handler {
		return authed(auth.RequireAdmin(s.forbidden)(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/auth/send-otp", s.handleSendOTP)
	mux.HandleFunc("POST /api/auth/verify-otp", s.handleVerifyOTP)
	mux.Handle("POST /api/auth/logout", authed(http.HandlerFunc(s.handleLogout)))

	mux.Handle("GET /api/user/profile", authed(http.HandlerFunc(s.handleGetProfile)))
	mux.Handle("PUT /api/user/profile", authed(http.HandlerFunc(s.handleUpdateProfile)))

	mux.Handle("POST /api/payment/create-order", authed(http.HandlerFunc(s.handleCreateOrder)))
	mux.Handle("POST /api/payment/verify-payment", authed(http.HandlerFunc(s.handleVerifyPayment)))
	mux.Handle("GET /api/payment/transactions", authed(http.HandlerFunc(s.handleListTransactions)))
	mux.Handle("GET /api/payment/wallet", authed(http.HandlerFunc(s.handleGetWallet)))
	mux.Handle("POST /api/payment/request-disbursement", authed(http.HandlerFunc(s.handleRequestDisbursement)))

	mux.Handle("GET /api/admin/disbursements/pending", adminOnly(http.HandlerFunc(s.handlePendingDisbursements)))
	mux.Handle("POST /api/admin/disbursements/approve", adminOnly(http.HandlerFunc(s.handleApproveDisbursement)))
	mux.Handle("GET /api/admin/users", adminOnly(http.HandlerFunc(s.handleListUsers)))

	return s.instrument(mux)
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if s.metrics != nil {
			route := r.URL.Path
			if pattern := r.Pattern; pattern != "" {
				route = pattern
			}
			s.metrics.HTTPRequests.WithLabelValues(route, fmt.Sprintf("%d", rec.status)).Inc()
		}
	})
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
