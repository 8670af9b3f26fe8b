package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"mentora/internal/gateway"
	"mentora/internal/referral"
	"mentora/internal/repo"
)

const testSecret = "gateway-secret"

// fakeGateway stands in for the payment provider: orders get sequential
// ids and signatures follow the real scheme.
type fakeGateway struct {
	orders int
}

func (g *fakeGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*gateway.Order, error) {
	g.orders++
	return &gateway.Order{
		ID:       fmt.Sprintf("order_%04d", g.orders),
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (g *fakeGateway) VerifySignature(orderID, paymentID, signature string) error {
	if signature != gateway.SignPayment(testSecret, orderID, paymentID) {
		return gateway.ErrSignatureMismatch
	}
	return nil
}

func newTestService(t *testing.T) (*Service, *repo.MemoryRepository) {
	t.Helper()
	memory := repo.NewMemory()
	svc := New(memory, &fakeGateway{}, nil, nil, slog.New(slog.DiscardHandler), Config{
		Currency:        "INR",
		ReferralReward:  200,
		MinDisbursement: 1000,
	})
	return svc, memory
}

func newUser(t *testing.T, memory *repo.MemoryRepository, phone string) *repo.User {
	t.Helper()
	user, err := memory.UpsertUserByPhone(context.Background(), phone)
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	return user
}

// purchase runs the complete order-then-verify flow with a valid signature.
func purchase(t *testing.T, svc *Service, userID, referralCode string) *repo.Transaction {
	t.Helper()
	ctx := context.Background()

	result, err := svc.CreateOrder(ctx, userID, 500, "mentorship", referralCode)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	paymentID := "pay_for_" + result.Order.ID
	sig := gateway.SignPayment(testSecret, result.Order.ID, paymentID)

	txn, err := svc.VerifyPayment(ctx, userID, result.Order.ID, paymentID, sig, result.TransactionID)
	if err != nil {
		t.Fatalf("verify payment: %v", err)
	}
	return txn
}

func TestCreateOrderRejectsNonPositiveAmount(t *testing.T) {
	svc, memory := newTestService(t)
	user := newUser(t, memory, "+911111111111")

	if _, err := svc.CreateOrder(context.Background(), user.ID, 0, "mentorship", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestPurchaseCompletesAndIssuesCode(t *testing.T) {
	svc, memory := newTestService(t)
	user := newUser(t, memory, "+911111111111")

	txn := purchase(t, svc, user.ID, "")
	if txn.Status != repo.StatusCompleted {
		t.Fatalf("expected completed status, got %s", txn.Status)
	}
	if txn.PaymentID == nil {
		t.Fatal("expected payment id on settled transaction")
	}

	refreshed, err := memory.GetUserByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !refreshed.HasPurchased {
		t.Fatal("expected user marked as purchased")
	}
	if refreshed.ReferralCode == nil || !strings.HasPrefix(*refreshed.ReferralCode, referral.CodePrefix) {
		t.Fatalf("expected issued referral code, got %v", refreshed.ReferralCode)
	}
}

func TestReferralRewardCreditsReferrer(t *testing.T) {
	svc, memory := newTestService(t)
	ctx := context.Background()

	referrer := newUser(t, memory, "+911111111111")
	purchase(t, svc, referrer.ID, "")
	refreshed, _ := memory.GetUserByID(ctx, referrer.ID)

	redeemer := newUser(t, memory, "+922222222222")
	purchase(t, svc, redeemer.ID, *refreshed.ReferralCode)

	summary, err := svc.GetWallet(ctx, referrer.ID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if summary.Wallet.Balance != 200 {
		t.Fatalf("expected balance 200, got %d", summary.Wallet.Balance)
	}
	if summary.Wallet.TotalEarned != 200 {
		t.Fatalf("expected total earned 200, got %d", summary.Wallet.TotalEarned)
	}
	if len(summary.Earnings) != 1 {
		t.Fatalf("expected one earning entry, got %d", len(summary.Earnings))
	}
	if summary.TotalReferrals != 1 {
		t.Fatalf("expected one referral, got %d", summary.TotalReferrals)
	}
}

func TestVerifyPaymentIsIdempotent(t *testing.T) {
	svc, memory := newTestService(t)
	ctx := context.Background()

	referrer := newUser(t, memory, "+911111111111")
	purchase(t, svc, referrer.ID, "")
	refreshed, _ := memory.GetUserByID(ctx, referrer.ID)

	redeemer := newUser(t, memory, "+922222222222")
	result, err := svc.CreateOrder(ctx, redeemer.ID, 500, "mentorship", *refreshed.ReferralCode)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	paymentID := "pay_for_" + result.Order.ID
	sig := gateway.SignPayment(testSecret, result.Order.ID, paymentID)

	for i := 0; i < 2; i++ {
		txn, err := svc.VerifyPayment(ctx, redeemer.ID, result.Order.ID, paymentID, sig, result.TransactionID)
		if err != nil {
			t.Fatalf("verify attempt %d: %v", i+1, err)
		}
		if txn.Status != repo.StatusCompleted {
			t.Fatalf("verify attempt %d: expected completed, got %s", i+1, txn.Status)
		}
	}

	summary, err := svc.GetWallet(ctx, referrer.ID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if summary.Wallet.Balance != 200 {
		t.Fatalf("reward credited more than once: balance %d", summary.Wallet.Balance)
	}
}

func TestCreateOrderRejectsSelfReferral(t *testing.T) {
	svc, memory := newTestService(t)
	ctx := context.Background()

	user := newUser(t, memory, "+911111111111")
	purchase(t, svc, user.ID, "")
	refreshed, _ := memory.GetUserByID(ctx, user.ID)

	_, err := svc.CreateOrder(ctx, user.ID, 500, "mentorship", *refreshed.ReferralCode)
	if !errors.Is(err, referral.ErrSelfReferral) {
		t.Fatalf("expected ErrSelfReferral, got %v", err)
	}
}

func TestCreateOrderRejectsRepeatRedemption(t *testing.T) {
	svc, memory := newTestService(t)
	ctx := context.Background()

	referrer := newUser(t, memory, "+911111111111")
	purchase(t, svc, referrer.ID, "")
	refreshed, _ := memory.GetUserByID(ctx, referrer.ID)

	redeemer := newUser(t, memory, "+922222222222")
	purchase(t, svc, redeemer.ID, *refreshed.ReferralCode)

	_, err := svc.CreateOrder(ctx, redeemer.ID, 500, "mentorship", *refreshed.ReferralCode)
	if !errors.Is(err, referral.ErrCodeAlreadyUsed) {
		t.Fatalf("expected ErrCodeAlreadyUsed, got %v", err)
	}
}

func TestCreateOrderIgnoresUnknownCode(t *testing.T) {
	svc, memory := newTestService(t)
	user := newUser(t, memory, "+911111111111")

	result, err := svc.CreateOrder(context.Background(), user.ID, 500, "mentorship", "REFNOSUCH")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	txn, err := memory.GetTransactionByID(context.Background(), result.TransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if txn.ReferredBy != nil {
		t.Fatalf("expected no referrer, got %v", *txn.ReferredBy)
	}
}

func TestSignatureMismatchFailsTransaction(t *testing.T) {
	svc, memory := newTestService(t)
	ctx := context.Background()
	user := newUser(t, memory, "+911111111111")

	result, err := svc.CreateOrder(ctx, user.ID, 500, "mentorship", "")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	_, err = svc.VerifyPayment(ctx, user.ID, result.Order.ID, "pay_x", "bogus", result.TransactionID)
	if !errors.Is(err, gateway.ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}

	txn, err := memory.GetTransactionByID(ctx, result.TransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if txn.Status != repo.StatusFailed {
		t.Fatalf("expected failed status, got %s", txn.Status)
	}

	// Failed is terminal: even a valid signature cannot resurrect it.
	paymentID := "pay_for_" + result.Order.ID
	sig := gateway.SignPayment(testSecret, result.Order.ID, paymentID)
	_, err = svc.VerifyPayment(ctx, user.ID, result.Order.ID, paymentID, sig, result.TransactionID)
	if !errors.Is(err, repo.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestVerifyPaymentRejectsForeignTransaction(t *testing.T) {
	svc, memory := newTestService(t)
	ctx := context.Background()

	victim := newUser(t, memory, "+911111111111")
	result, err := svc.CreateOrder(ctx, victim.ID, 500, "mentorship", "")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	// Another user submitting the victim's transaction id must not be able
	// to touch it, with or without a valid signature.
	attacker := newUser(t, memory, "+922222222222")
	_, err = svc.VerifyPayment(ctx, attacker.ID, result.Order.ID, "pay_x", "bogus", result.TransactionID)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign transaction, got %v", err)
	}

	txn, err := memory.GetTransactionByID(ctx, result.TransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if txn.Status != repo.StatusPending {
		t.Fatalf("foreign caller changed transaction status to %s", txn.Status)
	}

	// The owner's verification still goes through afterwards.
	paymentID := "pay_for_" + result.Order.ID
	sig := gateway.SignPayment(testSecret, result.Order.ID, paymentID)
	settled, err := svc.VerifyPayment(ctx, victim.ID, result.Order.ID, paymentID, sig, result.TransactionID)
	if err != nil {
		t.Fatalf("owner verification: %v", err)
	}
	if settled.Status != repo.StatusCompleted {
		t.Fatalf("expected completed, got %s", settled.Status)
	}
}

// earn credits the referrer with n rewards by running n referred purchases.
func earn(t *testing.T, svc *Service, memory *repo.MemoryRepository, referrerCode string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		buyer := newUser(t, memory, fmt.Sprintf("+9330000000%02d", i))
		purchase(t, svc, buyer.ID, referrerCode)
	}
}

func TestDisbursementThresholdAndTwoPhaseFlow(t *testing.T) {
	svc, memory := newTestService(t)
	ctx := context.Background()

	referrer := newUser(t, memory, "+911111111111")
	purchase(t, svc, referrer.ID, "")
	refreshed, _ := memory.GetUserByID(ctx, referrer.ID)
	code := *refreshed.ReferralCode

	earn(t, svc, memory, code, 4) // 800, below the minimum
	if _, err := svc.RequestDisbursement(ctx, referrer.ID); !errors.Is(err, repo.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance at 800, got %v", err)
	}

	buyer := newUser(t, memory, "+933000000099")
	purchase(t, svc, buyer.ID, code) // 1000

	disbursement, err := svc.RequestDisbursement(ctx, referrer.ID)
	if err != nil {
		t.Fatalf("request disbursement: %v", err)
	}
	if disbursement.Amount != 1000 {
		t.Fatalf("expected snapshot of 1000, got %d", disbursement.Amount)
	}
	if disbursement.Status != repo.StatusPending {
		t.Fatalf("expected pending status, got %s", disbursement.Status)
	}

	summary, err := svc.GetWallet(ctx, referrer.ID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if summary.Wallet.Balance != 0 {
		t.Fatalf("expected balance drained to 0, got %d", summary.Wallet.Balance)
	}
	if summary.Wallet.HeldBalance != 1000 {
		t.Fatalf("expected 1000 held, got %d", summary.Wallet.HeldBalance)
	}

	pending, err := svc.PendingDisbursements(ctx)
	if err != nil {
		t.Fatalf("pending disbursements: %v", err)
	}
	if len(pending) != 1 || pending[0].DisbursementID != disbursement.ID {
		t.Fatalf("expected the request in the admin queue, got %v", pending)
	}

	approved, err := svc.ApproveDisbursement(ctx, pending[0].WalletID, pending[0].DisbursementID, pending[0].UserID)
	if err != nil {
		t.Fatalf("approve disbursement: %v", err)
	}
	if approved.Status != repo.StatusCompleted {
		t.Fatalf("expected completed status, got %s", approved.Status)
	}
	if approved.ProcessedAt == nil {
		t.Fatal("expected processed timestamp")
	}

	summary, err = svc.GetWallet(ctx, referrer.ID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if summary.Wallet.HeldBalance != 0 {
		t.Fatalf("expected held balance released, got %d", summary.Wallet.HeldBalance)
	}
	if summary.Wallet.TotalDisbursed != 1000 {
		t.Fatalf("expected 1000 disbursed, got %d", summary.Wallet.TotalDisbursed)
	}
	// Ledger invariant holds after the whole cycle.
	if summary.Wallet.Balance+summary.Wallet.HeldBalance != summary.Wallet.TotalEarned-summary.Wallet.TotalDisbursed {
		t.Fatalf("ledger invariant broken: %+v", summary.Wallet)
	}

	// Approving again is rejected.
	if _, err := svc.ApproveDisbursement(ctx, pending[0].WalletID, pending[0].DisbursementID, pending[0].UserID); !errors.Is(err, repo.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed on second approval, got %v", err)
	}
}
