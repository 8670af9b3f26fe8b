package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const walletColumns = `id, user_id, balance, held_balance, total_earned, total_disbursed, created_at, updated_at`

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.ID, &w.UserID, &w.Balance, &w.HeldBalance, &w.TotalEarned, &w.TotalDisbursed, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// GetOrCreateWallet returns the user's wallet, creating an empty one if absent.
func (r *PostgresRepository) GetOrCreateWallet(ctx context.Context, userID string) (*Wallet, error) {
	const q = `
INSERT INTO wallets (user_id)
VALUES ($1)
ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
RETURNING ` + walletColumns + `;
`
	w, err := scanWallet(r.pool.QueryRow(ctx, q, userID))
	if err != nil {
		return nil, fmt.Errorf("get or create wallet: %w", err)
	}
	return w, nil
}

// ListWalletEarnings returns the append-only earning history, newest first.
func (r *PostgresRepository) ListWalletEarnings(ctx context.Context, walletID string) ([]WalletEarning, error) {
	const q = `
SELECT id, wallet_id, referred_user_id, transaction_id, amount, earned_at
FROM wallet_earnings
WHERE wallet_id = $1
ORDER BY earned_at DESC;
`
	rows, err := r.pool.Query(ctx, q, walletID)
	if err != nil {
		return nil, fmt.Errorf("list wallet earnings: %w", err)
	}
	defer rows.Close()

	var earnings []WalletEarning
	for rows.Next() {
		var e WalletEarning
		if err := rows.Scan(&e.ID, &e.WalletID, &e.ReferredUserID, &e.TransactionID, &e.Amount, &e.EarnedAt); err != nil {
			return nil, fmt.Errorf("scan wallet earning: %w", err)
		}
		earnings = append(earnings, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet earnings: %w", err)
	}
	return earnings, nil
}

// ListDisbursements returns all disbursement records of a wallet, newest first.
func (r *PostgresRepository) ListDisbursements(ctx context.Context, walletID string) ([]Disbursement, error) {
	const q = `
SELECT id, wallet_id, amount, status, method, requested_at, processed_at
FROM disbursements
WHERE wallet_id = $1
ORDER BY requested_at DESC;
`
	rows, err := r.pool.Query(ctx, q, walletID)
	if err != nil {
		return nil, fmt.Errorf("list disbursements: %w", err)
	}
	defer rows.Close()

	var records []Disbursement
	for rows.Next() {
		var d Disbursement
		if err := rows.Scan(&d.ID, &d.WalletID, &d.Amount, &d.Status, &d.Method, &d.RequestedAt, &d.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan disbursement: %w", err)
		}
		records = append(records, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate disbursements: %w", err)
	}
	return records, nil
}

// RequestDisbursement snapshots the entire current balance into a pending
// payout record. The amount moves to held_balance at request time, so a
// second request before approval finds an empty balance and fails.
func (r *PostgresRepository) RequestDisbursement(ctx context.Context, userID string, minBalance int64, method string) (*Disbursement, error) {
	var record *Disbursement
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return fmt.Errorf("ensure wallet: %w", err)
		}

		var walletID string
		var balance int64
		if err := tx.QueryRow(ctx, `SELECT id, balance FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).Scan(&walletID, &balance); err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}

		if balance < minBalance {
			return ErrInsufficientBalance
		}

		if _, err := tx.Exec(ctx, `
UPDATE wallets
SET balance = 0, held_balance = held_balance + $2, updated_at = NOW()
WHERE id = $1;
`, walletID, balance); err != nil {
			return fmt.Errorf("reserve balance: %w", err)
		}

		row := tx.QueryRow(ctx, `
INSERT INTO disbursements (wallet_id, amount, status, method)
VALUES ($1, $2, $3, $4)
RETURNING id, wallet_id, amount, status, method, requested_at, processed_at;
`, walletID, balance, StatusPending, method)

		var d Disbursement
		if err := row.Scan(&d.ID, &d.WalletID, &d.Amount, &d.Status, &d.Method, &d.RequestedAt, &d.ProcessedAt); err != nil {
			return fmt.Errorf("insert disbursement: %w", err)
		}
		record = &d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListPendingDisbursements returns the admin payout queue across all wallets.
func (r *PostgresRepository) ListPendingDisbursements(ctx context.Context) ([]PendingDisbursement, error) {
	const q = `
SELECT w.id, d.id, u.id, u.name, u.phone_number, d.amount, d.requested_at
FROM disbursements d
JOIN wallets w ON w.id = d.wallet_id
JOIN users u ON u.id = w.user_id
WHERE d.status = $1
ORDER BY d.requested_at ASC;
`
	rows, err := r.pool.Query(ctx, q, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending disbursements: %w", err)
	}
	defer rows.Close()

	var pending []PendingDisbursement
	for rows.Next() {
		var p PendingDisbursement
		if err := rows.Scan(&p.WalletID, &p.DisbursementID, &p.UserID, &p.UserName, &p.PhoneNumber, &p.Amount, &p.RequestedAt); err != nil {
			return nil, fmt.Errorf("scan pending disbursement: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending disbursements: %w", err)
	}
	return pending, nil
}

// ApproveDisbursement settles a pending payout: the held amount moves into
// total_disbursed. The conditional update serialises concurrent approvals;
// only one can observe the pending status.
func (r *PostgresRepository) ApproveDisbursement(ctx context.Context, walletID, disbursementID string) (*Disbursement, error) {
	var record *Disbursement
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
UPDATE disbursements
SET status = $3, processed_at = NOW()
WHERE id = $1 AND wallet_id = $2 AND status = $4
RETURNING id, wallet_id, amount, status, method, requested_at, processed_at;
`, disbursementID, walletID, StatusCompleted, StatusPending)

		var d Disbursement
		if err := row.Scan(&d.ID, &d.WalletID, &d.Amount, &d.Status, &d.Method, &d.RequestedAt, &d.ProcessedAt); err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("approve disbursement: %w", err)
			}
			var status string
			checkErr := tx.QueryRow(ctx, `SELECT status FROM disbursements WHERE id = $1 AND wallet_id = $2`, disbursementID, walletID).Scan(&status)
			if errors.Is(checkErr, pgx.ErrNoRows) {
				return ErrNotFound
			}
			if checkErr != nil {
				return fmt.Errorf("load disbursement: %w", checkErr)
			}
			return ErrAlreadyProcessed
		}

		if _, err := tx.Exec(ctx, `
UPDATE wallets
SET held_balance = held_balance - $2,
    total_disbursed = total_disbursed + $2,
    updated_at = NOW()
WHERE id = $1;
`, walletID, d.Amount); err != nil {
			return fmt.Errorf("settle wallet totals: %w", err)
		}

		record = &d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}
