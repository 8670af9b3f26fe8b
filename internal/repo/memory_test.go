package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func seedPendingTransaction(t *testing.T, r *MemoryRepository, phone string) (*User, *Transaction) {
	t.Helper()
	ctx := context.Background()

	user, err := r.UpsertUserByPhone(ctx, phone)
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	txn, err := r.InsertTransaction(ctx, Transaction{
		UserID:      user.ID,
		OrderID:     "order_" + phone,
		Amount:      500,
		Currency:    "INR",
		Status:      StatusPending,
		ServiceName: "mentorship",
	})
	if err != nil {
		t.Fatalf("insert transaction: %v", err)
	}
	return user, txn
}

func TestUpsertUserByPhoneIsIdempotent(t *testing.T) {
	r := NewMemory()
	ctx := context.Background()

	first, err := r.UpsertUserByPhone(ctx, "+911111111111")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := r.UpsertUserByPhone(ctx, "+911111111111")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same user, got %s and %s", first.ID, second.ID)
	}
}

func TestSettleTransactionCodeCollisionRetries(t *testing.T) {
	r := NewMemory()
	ctx := context.Background()

	userA, txnA := seedPendingTransaction(t, r, "+911111111111")
	if _, err := r.SettleTransaction(ctx, SettleParams{
		TransactionID: txnA.ID,
		UserID:        userA.ID,
		PaymentID:     "pay_a",
		RewardAmount:  200,
		IssueCode:     func(attempt int) string { return "REFSAME" },
	}); err != nil {
		t.Fatalf("settle first user: %v", err)
	}

	// A second user whose first derivation collides falls through to the
	// disambiguated code.
	userB, txnB := seedPendingTransaction(t, r, "+922222222222")
	outcome, err := r.SettleTransaction(ctx, SettleParams{
		TransactionID: txnB.ID,
		UserID:        userB.ID,
		PaymentID:     "pay_b",
		RewardAmount:  200,
		IssueCode: func(attempt int) string {
			if attempt == 0 {
				return "REFSAME"
			}
			return fmt.Sprintf("REFSAME%d", attempt+1)
		},
	})
	if err != nil {
		t.Fatalf("settle second user: %v", err)
	}
	if outcome.IssuedCode != "REFSAME2" {
		t.Fatalf("expected REFSAME2, got %s", outcome.IssuedCode)
	}
}

func TestSettleTransactionCodeExhausted(t *testing.T) {
	r := NewMemory()
	ctx := context.Background()

	userA, txnA := seedPendingTransaction(t, r, "+911111111111")
	if _, err := r.SettleTransaction(ctx, SettleParams{
		TransactionID: txnA.ID,
		UserID:        userA.ID,
		PaymentID:     "pay_a",
		RewardAmount:  200,
		IssueCode:     func(attempt int) string { return "REFSAME" },
	}); err != nil {
		t.Fatalf("settle first user: %v", err)
	}

	userB, txnB := seedPendingTransaction(t, r, "+922222222222")
	_, err := r.SettleTransaction(ctx, SettleParams{
		TransactionID: txnB.ID,
		UserID:        userB.ID,
		PaymentID:     "pay_b",
		RewardAmount:  200,
		IssueCode:     func(attempt int) string { return "REFSAME" },
	})
	if !errors.Is(err, ErrCodeExhausted) {
		t.Fatalf("expected ErrCodeExhausted, got %v", err)
	}
}

func TestSettleTransactionWrongUser(t *testing.T) {
	r := NewMemory()
	ctx := context.Background()

	_, txn := seedPendingTransaction(t, r, "+911111111111")
	other, _ := r.UpsertUserByPhone(ctx, "+922222222222")

	_, err := r.SettleTransaction(ctx, SettleParams{
		TransactionID: txn.ID,
		UserID:        other.ID,
		PaymentID:     "pay_x",
		RewardAmount:  200,
		IssueCode:     func(attempt int) string { return "REFX" },
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSettleTransactionMissingUser(t *testing.T) {
	r := NewMemory()
	ctx := context.Background()

	txn, err := r.InsertTransaction(ctx, Transaction{
		UserID:      "ghost-user",
		OrderID:     "order_ghost",
		Amount:      500,
		Currency:    "INR",
		Status:      StatusPending,
		ServiceName: "mentorship",
	})
	if err != nil {
		t.Fatalf("insert transaction: %v", err)
	}

	_, err = r.SettleTransaction(ctx, SettleParams{
		TransactionID: txn.ID,
		UserID:        "ghost-user",
		PaymentID:     "pay_ghost",
		RewardAmount:  200,
		IssueCode:     func(attempt int) string { return "REFGHOST" },
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing user, got %v", err)
	}

	// The transaction is untouched when the payer cannot be loaded.
	reloaded, err := r.GetTransactionByID(ctx, txn.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if reloaded.Status != StatusPending {
		t.Fatalf("expected pending, got %s", reloaded.Status)
	}
}

func TestFailTransactionIsTerminal(t *testing.T) {
	r := NewMemory()
	ctx := context.Background()

	user, txn := seedPendingTransaction(t, r, "+911111111111")
	if err := r.FailTransaction(ctx, txn.ID); err != nil {
		t.Fatalf("fail transaction: %v", err)
	}

	if err := r.FailTransaction(ctx, txn.ID); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed on second fail, got %v", err)
	}

	_, err := r.SettleTransaction(ctx, SettleParams{
		TransactionID: txn.ID,
		UserID:        user.ID,
		PaymentID:     "pay_x",
		RewardAmount:  200,
		IssueCode:     func(attempt int) string { return "REFX" },
	})
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed settling a failed transaction, got %v", err)
	}
}

func TestRequestDisbursementEmptyWallet(t *testing.T) {
	r := NewMemory()
	ctx := context.Background()

	user, _ := r.UpsertUserByPhone(ctx, "+911111111111")
	_, err := r.RequestDisbursement(ctx, user.ID, 1000, DisbursementMethodBankTransfer)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestListTransactionsNewestFirst(t *testing.T) {
	r := NewMemory()
	ctx := context.Background()

	user, _ := r.UpsertUserByPhone(ctx, "+911111111111")
	for i := 0; i < 3; i++ {
		if _, err := r.InsertTransaction(ctx, Transaction{
			UserID:      user.ID,
			OrderID:     fmt.Sprintf("order_%d", i),
			Amount:      100,
			Currency:    "INR",
			Status:      StatusPending,
			ServiceName: "mentorship",
		}); err != nil {
			t.Fatalf("insert transaction %d: %v", i, err)
		}
	}

	list, err := r.ListTransactionsByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(list))
	}
	if list[0].OrderID != "order_2" {
		t.Fatalf("expected newest first, got %s", list[0].OrderID)
	}
}
