package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, user_id, order_id, payment_id, amount, currency, status, service_name, referral_code, referred_by, created_at, updated_at`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	if err := row.Scan(&t.ID, &t.UserID, &t.OrderID, &t.PaymentID, &t.Amount, &t.Currency, &t.Status, &t.ServiceName, &t.ReferralCode, &t.ReferredBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTransaction stores a new payment attempt in pending state.
func (r *PostgresRepository) InsertTransaction(ctx context.Context, txn Transaction) (*Transaction, error) {
	const q = `
INSERT INTO transactions (user_id, order_id, amount, currency, status, service_name, referral_code, referred_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + transactionColumns + `;
`
	inserted, err := scanTransaction(r.pool.QueryRow(ctx, q,
		txn.UserID,
		txn.OrderID,
		txn.Amount,
		txn.Currency,
		txn.Status,
		txn.ServiceName,
		txn.ReferralCode,
		txn.ReferredBy,
	))
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return inserted, nil
}

// GetTransactionByID retrieves a transaction by identifier.
func (r *PostgresRepository) GetTransactionByID(ctx context.Context, id string) (*Transaction, error) {
	const q = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE id = $1
LIMIT 1;
`
	t, err := scanTransaction(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transaction by id: %w", err)
	}
	return t, nil
}

// ListTransactionsByUser returns the user's transactions, newest first.
func (r *PostgresRepository) ListTransactionsByUser(ctx context.Context, userID string) ([]Transaction, error) {
	const q = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE user_id = $1
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txns, nil
}

// FailTransaction moves a pending transaction to the terminal failed state.
// Transactions that already left pending are untouched.
func (r *PostgresRepository) FailTransaction(ctx context.Context, id string) error {
	const q = `
UPDATE transactions
SET status = $2, updated_at = NOW()
WHERE id = $1 AND status = $3;
`
	ct, err := r.pool.Exec(ctx, q, id, StatusFailed, StatusPending)
	if err != nil {
		return fmt.Errorf("fail transaction: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// Distinguish an unknown transaction from one already settled or failed.
		if _, err := r.GetTransactionByID(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyProcessed
	}
	return nil
}
