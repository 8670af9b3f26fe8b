package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mentora/internal/cache"
	"mentora/internal/gateway"
	"mentora/internal/metrics"
	"mentora/internal/referral"
	"mentora/internal/repo"
)

// ErrInvalidAmount indicates a non-positive order amount.
var ErrInvalidAmount = errors.New("amount must be positive")

const walletCacheTTL = 30 * time.Second

// Gateway is the slice of the payment gateway client the service needs.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*gateway.Order, error)
	VerifySignature(orderID, paymentID, signature string) error
}

// Config carries the business constants of the settlement flow.
type Config struct {
	Currency        string
	ReferralReward  int64
	MinDisbursement int64
}

// Service orchestrates order creation, payment verification and the wallet
// ledger. The referrer is resolved before the gateway is contacted so a bad
// code never produces an unsettleable order.
type Service struct {
	repo     repo.Repository
	registry *referral.Registry
	gateway  Gateway
	cache    *cache.Redis
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config
}

// New creates a settlement service. The Redis cache is optional.
func New(repository repo.Repository, gw Gateway, redis *cache.Redis, metricRegistry *metrics.Metrics, logger *slog.Logger, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.ReferralReward <= 0 {
		cfg.ReferralReward = 200
	}
	if cfg.MinDisbursement <= 0 {
		cfg.MinDisbursement = 1000
	}
	return &Service{
		repo:     repository,
		registry: referral.NewRegistry(repository),
		gateway:  gw,
		cache:    redis,
		metrics:  metricRegistry,
		logger:   logger.With("component", "settlement"),
		cfg:      cfg,
	}
}

// OrderResult is returned from CreateOrder: the gateway order handle the
// client pays against, plus our transaction identifier.
type OrderResult struct {
	Order         *gateway.Order `json:"order"`
	TransactionID string         `json:"transactionId"`
}

// CreateOrder validates the referral code, places a gateway order and
// persists the pending transaction. The resolved referrer is frozen into
// the transaction and never re-evaluated.
func (s *Service) CreateOrder(ctx context.Context, userID string, amount int64, serviceName, referralCode string) (*OrderResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var referredBy *string
	var codePtr *string
	if referralCode != "" {
		resolved, err := s.registry.ResolveReferrer(ctx, referralCode, userID)
		if err != nil {
			return nil, err
		}
		referredBy = resolved
		codePtr = &referralCode
	}

	receipt := "receipt_" + uuid.NewString()
	order, err := s.gateway.CreateOrder(ctx, amount*100, s.cfg.Currency, receipt)
	if err != nil {
		return nil, fmt.Errorf("create gateway order: %w", err)
	}

	txn, err := s.repo.InsertTransaction(ctx, repo.Transaction{
		UserID:       userID,
		OrderID:      order.ID,
		Amount:       amount,
		Currency:     s.cfg.Currency,
		Status:       repo.StatusPending,
		ServiceName:  serviceName,
		ReferralCode: codePtr,
		ReferredBy:   referredBy,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order created", "transaction_id", txn.ID, "order_id", order.ID, "amount", amount, "referred", referredBy != nil)
	return &OrderResult{Order: order, TransactionID: txn.ID}, nil
}

// VerifyPayment checks the gateway signature and settles the transaction.
// A mismatch moves the transaction to the terminal failed state. Re-verifying
// an already-settled transaction is an idempotent success: the stored
// transaction comes back and the ledger is untouched.
func (s *Service) VerifyPayment(ctx context.Context, userID, orderID, paymentID, signature, transactionID string) (*repo.Transaction, error) {
	// Ownership is established before anything can transition state, so a
	// caller holding someone else's transaction id cannot fail it.
	existing, err := s.repo.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if existing.UserID != userID {
		return nil, repo.ErrNotFound
	}

	if err := s.gateway.VerifySignature(orderID, paymentID, signature); err != nil {
		if failErr := s.repo.FailTransaction(ctx, transactionID); failErr != nil && !errors.Is(failErr, repo.ErrNotFound) && !errors.Is(failErr, repo.ErrAlreadyProcessed) {
			s.logger.Error("failed marking transaction failed", "transaction_id", transactionID, "error", failErr)
		}
		s.countSettlement("signature_mismatch")
		return nil, err
	}

	outcome, err := s.repo.SettleTransaction(ctx, repo.SettleParams{
		TransactionID: transactionID,
		UserID:        userID,
		PaymentID:     paymentID,
		RewardAmount:  s.cfg.ReferralReward,
		IssueCode: func(attempt int) string {
			return referral.DeriveCode(userID, attempt)
		},
	})
	if err != nil {
		s.countSettlement("error")
		return nil, err
	}

	switch {
	case outcome.AlreadySettled:
		s.countSettlement("already_settled")
	case outcome.RewardCredited:
		s.countSettlement("rewarded")
	default:
		s.countSettlement("completed")
	}

	if outcome.RewardCredited {
		s.invalidateWalletCache(ctx, outcome.ReferrerID)
		s.logger.Info("referral reward credited",
			"transaction_id", transactionID,
			"referrer_id", outcome.ReferrerID,
			"amount", s.cfg.ReferralReward)
	}
	if outcome.IssuedCode != "" {
		s.logger.Info("referral code issued", "user_id", userID, "code", outcome.IssuedCode)
	}

	return outcome.Transaction, nil
}

// ListTransactions returns the user's payment history, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID string) ([]repo.Transaction, error) {
	return s.repo.ListTransactionsByUser(ctx, userID)
}

func (s *Service) countSettlement(outcome string) {
	if s.metrics != nil {
		s.metrics.Settlements.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) invalidateWalletCache(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, walletCacheKey(userID)); err != nil {
		s.logger.Warn("wallet cache invalidation failed", "user_id", userID, "error", err)
	}
}

func walletCacheKey(userID string) string {
	return "wallet:summary:" + userID
}
