package referral

import (
	"context"
	"errors"
	"testing"

	"mentora/internal/repo"
)

func TestDeriveCode(t *testing.T) {
	code := DeriveCode("3f2b8c9e-1111-2222-3333-abcdef123456", 0)
	if code != "REF123456" {
		t.Fatalf("expected REF123456, got %s", code)
	}

	// Letters in the id suffix come out uppercased.
	code = DeriveCode("3f2b8c9e-1111-2222-3333-00000000abcd", 0)
	if code != "REF00ABCD" {
		t.Fatalf("expected REF00ABCD, got %s", code)
	}

	// Retries append a numeric suffix so collisions can be worked around.
	code = DeriveCode("3f2b8c9e-1111-2222-3333-abcdef123456", 1)
	if code != "REF1234562" {
		t.Fatalf("expected REF1234562, got %s", code)
	}
}

func TestDeriveCodeShortID(t *testing.T) {
	code := DeriveCode("ab1", 0)
	if code != "REFAB1" {
		t.Fatalf("expected REFAB1, got %s", code)
	}
}

// settledUser creates a user who completed a purchase, which issues their
// referral code.
func settledUser(t *testing.T, r *repo.MemoryRepository, phone string) (*repo.User, string) {
	t.Helper()
	ctx := context.Background()

	user, err := r.UpsertUserByPhone(ctx, phone)
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	txn, err := r.InsertTransaction(ctx, repo.Transaction{
		UserID:      user.ID,
		OrderID:     "order_" + phone,
		Amount:      500,
		Currency:    "INR",
		Status:      repo.StatusPending,
		ServiceName: "mentorship",
	})
	if err != nil {
		t.Fatalf("insert transaction: %v", err)
	}
	outcome, err := r.SettleTransaction(ctx, repo.SettleParams{
		TransactionID: txn.ID,
		UserID:        user.ID,
		PaymentID:     "pay_" + phone,
		RewardAmount:  200,
		IssueCode:     func(attempt int) string { return DeriveCode(user.ID, attempt) },
	})
	if err != nil {
		t.Fatalf("settle transaction: %v", err)
	}
	if outcome.IssuedCode == "" {
		t.Fatal("expected a referral code to be issued")
	}
	return user, outcome.IssuedCode
}

func TestResolveReferrerUnknownCodeIsLenient(t *testing.T) {
	registry := NewRegistry(repo.NewMemory())

	referrer, err := registry.ResolveReferrer(context.Background(), "REFNOSUCH", "some-user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if referrer != nil {
		t.Fatalf("expected nil referrer, got %v", *referrer)
	}
}

func TestResolveReferrerRejectsOwnCode(t *testing.T) {
	memory := repo.NewMemory()
	owner, code := settledUser(t, memory, "+911111111111")

	registry := NewRegistry(memory)
	_, err := registry.ResolveReferrer(context.Background(), code, owner.ID)
	if !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("expected ErrSelfReferral, got %v", err)
	}
}

func TestResolveReferrerReturnsOwner(t *testing.T) {
	memory := repo.NewMemory()
	owner, code := settledUser(t, memory, "+911111111111")

	other, err := memory.UpsertUserByPhone(context.Background(), "+922222222222")
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}

	registry := NewRegistry(memory)
	referrer, err := registry.ResolveReferrer(context.Background(), code, other.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if referrer == nil || *referrer != owner.ID {
		t.Fatalf("expected referrer %s, got %v", owner.ID, referrer)
	}
}

func TestResolveReferrerRejectsRedeemedCode(t *testing.T) {
	memory := repo.NewMemory()
	ctx := context.Background()
	_, code := settledUser(t, memory, "+911111111111")

	// The redeemer buys with the code; settlement records the redemption.
	redeemer, err := memory.UpsertUserByPhone(ctx, "+922222222222")
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	registry := NewRegistry(memory)
	referrer, err := registry.ResolveReferrer(ctx, code, redeemer.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	txn, err := memory.InsertTransaction(ctx, repo.Transaction{
		UserID:       redeemer.ID,
		OrderID:      "order_redeem",
		Amount:       500,
		Currency:     "INR",
		Status:       repo.StatusPending,
		ServiceName:  "mentorship",
		ReferralCode: &code,
		ReferredBy:   referrer,
	})
	if err != nil {
		t.Fatalf("insert transaction: %v", err)
	}
	if _, err := memory.SettleTransaction(ctx, repo.SettleParams{
		TransactionID: txn.ID,
		UserID:        redeemer.ID,
		PaymentID:     "pay_redeem",
		RewardAmount:  200,
		IssueCode:     func(attempt int) string { return DeriveCode(redeemer.ID, attempt) },
	}); err != nil {
		t.Fatalf("settle transaction: %v", err)
	}

	_, err = registry.ResolveReferrer(ctx, code, redeemer.ID)
	if !errors.Is(err, ErrCodeAlreadyUsed) {
		t.Fatalf("expected ErrCodeAlreadyUsed, got %v", err)
	}
}
