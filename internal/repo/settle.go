package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const codeAttempts = 5

// SettleTransaction applies the whole reward-crediting sequence as one
// database transaction: complete the payment, flag the payer as purchased,
// issue them a referral code if absent, and when a referrer was resolved at
// order time, record the redemption and credit the referrer's wallet.
//
// The conditional pending->completed update doubles as the idempotency
// guard: a concurrent or retried settlement of the same transaction finds
// no pending row and returns AlreadySettled without touching the ledger.
func (r *PostgresRepository) SettleTransaction(ctx context.Context, params SettleParams) (*SettleOutcome, error) {
	outcome := &SettleOutcome{}

	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		const completeQ = `
UPDATE transactions
SET payment_id = $2, status = $3, updated_at = NOW()
WHERE id = $1 AND status = $4
RETURNING ` + transactionColumns + `;
`
		txn, err := scanTransaction(tx.QueryRow(ctx, completeQ, params.TransactionID, params.PaymentID, StatusCompleted, StatusPending))
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("complete transaction: %w", err)
			}
			return r.settleMissedUpdate(ctx, tx, params.TransactionID, outcome)
		}
		outcome.Transaction = txn

		if txn.UserID != params.UserID {
			return ErrNotFound
		}

		if _, err := tx.Exec(ctx, `UPDATE users SET has_purchased = TRUE, updated_at = NOW() WHERE id = $1`, txn.UserID); err != nil {
			return fmt.Errorf("mark user purchased: %w", err)
		}

		issued, err := issueCodeTx(ctx, tx, txn.UserID, params.IssueCode)
		if err != nil {
			return err
		}
		outcome.IssuedCode = issued

		if txn.ReferredBy == nil {
			return nil
		}
		credited, err := creditReferrerTx(ctx, tx, *txn.ReferredBy, txn, params.RewardAmount)
		if err != nil {
			return err
		}
		outcome.RewardCredited = credited
		if credited {
			outcome.ReferrerID = *txn.ReferredBy
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// settleMissedUpdate resolves why the conditional complete matched nothing.
func (r *PostgresRepository) settleMissedUpdate(ctx context.Context, tx pgx.Tx, transactionID string, outcome *SettleOutcome) error {
	const q = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE id = $1
LIMIT 1;
`
	txn, err := scanTransaction(tx.QueryRow(ctx, q, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("load transaction: %w", err)
	}
	if txn.Status == StatusCompleted {
		outcome.Transaction = txn
		outcome.AlreadySettled = true
		return nil
	}
	return ErrAlreadyProcessed
}

// issueCodeTx assigns the payer a referral code and registry entry unless
// they already own one. Collisions on the unique code column regenerate
// with the next derivation attempt.
func issueCodeTx(ctx context.Context, tx pgx.Tx, userID string, derive func(attempt int) string) (string, error) {
	var existing *string
	if err := tx.QueryRow(ctx, `SELECT referral_code FROM users WHERE id = $1`, userID).Scan(&existing); err != nil {
		return "", fmt.Errorf("load referral code: %w", err)
	}
	if existing != nil {
		return "", nil
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		code := derive(attempt)
		_, err := tx.Exec(ctx, `INSERT INTO referrals (code, user_id) VALUES ($1, $2)`, code, userID)
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return "", fmt.Errorf("insert referral: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET referral_code = $2, updated_at = NOW() WHERE id = $1`, userID, code); err != nil {
			return "", fmt.Errorf("store referral code: %w", err)
		}
		return code, nil
	}
	return "", ErrCodeExhausted
}

// creditReferrerTx records the redemption and credits the referrer's wallet.
// The redemption primary key enforces at-most-once per (code, redeemer);
// when the row already exists the reward is skipped entirely.
func creditReferrerTx(ctx context.Context, tx pgx.Tx, referrerID string, txn *Transaction, amount int64) (bool, error) {
	var referralID string
	err := tx.QueryRow(ctx, `SELECT id FROM referrals WHERE user_id = $1 FOR UPDATE`, referrerID).Scan(&referralID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Referrer lost their registry entry since order creation;
			// mirror the lenient resolve behaviour and skip the reward.
			return false, nil
		}
		return false, fmt.Errorf("load referrer registry entry: %w", err)
	}

	ct, err := tx.Exec(ctx, `
INSERT INTO referral_redemptions (referral_id, redeemer_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING;
`, referralID, txn.UserID)
	if err != nil {
		return false, fmt.Errorf("record redemption: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `
UPDATE referrals
SET total_referrals = total_referrals + 1,
    total_earnings = total_earnings + $2,
    updated_at = NOW()
WHERE id = $1;
`, referralID, amount); err != nil {
		return false, fmt.Errorf("bump referral counters: %w", err)
	}

	var walletID string
	if err := tx.QueryRow(ctx, `
INSERT INTO wallets (user_id, balance, total_earned, updated_at)
VALUES ($1, $2, $2, NOW())
ON CONFLICT (user_id) DO UPDATE SET
    balance = wallets.balance + EXCLUDED.balance,
    total_earned = wallets.total_earned + EXCLUDED.total_earned,
    updated_at = NOW()
RETURNING id;
`, referrerID, amount).Scan(&walletID); err != nil {
		return false, fmt.Errorf("credit wallet: %w", err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO wallet_earnings (wallet_id, referred_user_id, transaction_id, amount)
VALUES ($1, $2, $3, $4);
`, walletID, txn.UserID, txn.ID, amount); err != nil {
		return false, fmt.Errorf("append earning event: %w", err)
	}

	return true, nil
}
