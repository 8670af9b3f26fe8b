package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserSQL(row rowScanner) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.PhoneNumber, &u.Name, &u.Age, &u.ReferralCode, &u.ReferredBy, &u.HasPurchased, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanTransactionSQL(row rowScanner) (*Transaction, error) {
	var t Transaction
	if err := row.Scan(&t.ID, &t.UserID, &t.OrderID, &t.PaymentID, &t.Amount, &t.Currency, &t.Status, &t.ServiceName, &t.ReferralCode, &t.ReferredBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanDisbursementSQL(row rowScanner) (*Disbursement, error) {
	var d Disbursement
	if err := row.Scan(&d.ID, &d.WalletID, &d.Amount, &d.Status, &d.Method, &d.RequestedAt, &d.ProcessedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// -- Users --

func (r *SQLiteRepository) UpsertUserByPhone(ctx context.Context, phoneNumber string) (*User, error) {
	const q = `
INSERT INTO users (id, phone_number, last_login_at, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
ON CONFLICT (phone_number) DO UPDATE SET
    last_login_at = CURRENT_TIMESTAMP,
    updated_at = CURRENT_TIMESTAMP
RETURNING ` + userColumns + `;
`
	u, err := scanUserSQL(r.db.QueryRowContext(ctx, q, randomUUID(), phoneNumber))
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	const q = `
SELECT ` + userColumns + `
FROM users
WHERE id = ?
LIMIT 1;
`
	u, err := scanUserSQL(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) UpdateUserProfile(ctx context.Context, id string, update ProfileUpdate) (*User, error) {
	const q = `
UPDATE users
SET name = COALESCE(?, name),
    age = COALESCE(?, age),
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?
RETURNING ` + userColumns + `;
`
	u, err := scanUserSQL(r.db.QueryRowContext(ctx, q, update.Name, update.Age, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update user profile: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) ListUsersWithStats(ctx context.Context) ([]UserStats, error) {
	const q = `
SELECT u.id, u.phone_number, u.name, u.age, u.referral_code, u.referred_by, u.has_purchased, u.last_login_at, u.created_at, u.updated_at,
       COALESCE(w.balance, 0), COALESCE(w.total_earned, 0), COALESCE(w.total_disbursed, 0),
       COALESCE(rf.total_referrals, 0)
FROM users u
LEFT JOIN wallets w ON w.user_id = u.id
LEFT JOIN referrals rf ON rf.user_id = u.id
ORDER BY u.created_at DESC;
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list users with stats: %w", err)
	}
	defer rows.Close()

	var stats []UserStats
	for rows.Next() {
		var s UserStats
		if err := rows.Scan(&s.ID, &s.PhoneNumber, &s.Name, &s.Age, &s.ReferralCode, &s.ReferredBy, &s.HasPurchased, &s.LastLoginAt, &s.CreatedAt, &s.UpdatedAt,
			&s.WalletBalance, &s.TotalEarned, &s.TotalDisbursed, &s.TotalReferrals); err != nil {
			return nil, fmt.Errorf("scan user stats: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user stats: %w", err)
	}
	return stats, nil
}

// -- Referral registry --

func (r *SQLiteRepository) GetReferralByCode(ctx context.Context, code string) (*Referral, error) {
	return r.getReferral(ctx, `code = ?`, code)
}

func (r *SQLiteRepository) GetReferralByOwner(ctx context.Context, userID string) (*Referral, error) {
	return r.getReferral(ctx, `user_id = ?`, userID)
}

func (r *SQLiteRepository) getReferral(ctx context.Context, where string, arg any) (*Referral, error) {
	q := `
SELECT ` + referralColumns + `
FROM referrals
WHERE ` + where + `
LIMIT 1;
`
	var rf Referral
	err := r.db.QueryRowContext(ctx, q, arg).Scan(&rf.ID, &rf.Code, &rf.UserID, &rf.TotalEarnings, &rf.TotalReferrals, &rf.CreatedAt, &rf.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get referral: %w", err)
	}
	return &rf, nil
}

func (r *SQLiteRepository) HasRedeemed(ctx context.Context, referralID, userID string) (bool, error) {
	const q = `
SELECT EXISTS (
    SELECT 1 FROM referral_redemptions
    WHERE referral_id = ? AND redeemer_id = ?
);
`
	var exists bool
	if err := r.db.QueryRowContext(ctx, q, referralID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check redemption: %w", err)
	}
	return exists, nil
}

// -- Transactions --

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, txn Transaction) (*Transaction, error) {
	const q = `
INSERT INTO transactions (id, user_id, order_id, amount, currency, status, service_name, referral_code, referred_by)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + transactionColumns + `;
`
	inserted, err := scanTransactionSQL(r.db.QueryRowContext(ctx, q,
		randomUUID(),
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

func (r *SQLiteRepository) GetTransactionByID(ctx context.Context, id string) (*Transaction, error) {
	const q = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE id = ?
LIMIT 1;
`
	t, err := scanTransactionSQL(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transaction by id: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) ListTransactionsByUser(ctx context.Context, userID string) ([]Transaction, error) {
	const q = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE user_id = ?
ORDER BY created_at DESC;
`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		t, err := scanTransactionSQL(rows)
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

func (r *SQLiteRepository) FailTransaction(ctx context.Context, id string) error {
	const q = `
UPDATE transactions
SET status = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status = ?;
`
	res, err := r.db.ExecContext(ctx, q, StatusFailed, id, StatusPending)
	if err != nil {
		return fmt.Errorf("fail transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("fail transaction result: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetTransactionByID(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyProcessed
	}
	return nil
}

// -- Settlement --

func (r *SQLiteRepository) SettleTransaction(ctx context.Context, params SettleParams) (*SettleOutcome, error) {
	outcome := &SettleOutcome{}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		const completeQ = `
UPDATE transactions
SET payment_id = ?, status = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status = ?
RETURNING ` + transactionColumns + `;
`
		txn, err := scanTransactionSQL(tx.QueryRowContext(ctx, completeQ, params.PaymentID, StatusCompleted, params.TransactionID, StatusPending))
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("complete transaction: %w", err)
			}
			return settleMissedUpdateSQL(ctx, tx, params.TransactionID, outcome)
		}
		outcome.Transaction = txn

		if txn.UserID != params.UserID {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx, `UPDATE users SET has_purchased = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, txn.UserID); err != nil {
			return fmt.Errorf("mark user purchased: %w", err)
		}

		issued, err := issueCodeSQL(ctx, tx, txn.UserID, params.IssueCode)
		if err != nil {
			return err
		}
		outcome.IssuedCode = issued

		if txn.ReferredBy == nil {
			return nil
		}
		credited, err := creditReferrerSQL(ctx, tx, *txn.ReferredBy, txn, params.RewardAmount)
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

func settleMissedUpdateSQL(ctx context.Context, tx *sql.Tx, transactionID string, outcome *SettleOutcome) error {
	const q = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE id = ?
LIMIT 1;
`
	txn, err := scanTransactionSQL(tx.QueryRowContext(ctx, q, transactionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

func issueCodeSQL(ctx context.Context, tx *sql.Tx, userID string, derive func(attempt int) string) (string, error) {
	var existing *string
	if err := tx.QueryRowContext(ctx, `SELECT referral_code FROM users WHERE id = ?`, userID).Scan(&existing); err != nil {
		return "", fmt.Errorf("load referral code: %w", err)
	}
	if existing != nil {
		return "", nil
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		code := derive(attempt)
		_, err := tx.ExecContext(ctx, `INSERT INTO referrals (id, code, user_id) VALUES (?, ?, ?)`, randomUUID(), code, userID)
		if err != nil {
			if isSQLiteUniqueViolation(err) {
				continue
			}
			return "", fmt.Errorf("insert referral: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET referral_code = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, code, userID); err != nil {
			return "", fmt.Errorf("store referral code: %w", err)
		}
		return code, nil
	}
	return "", ErrCodeExhausted
}

func creditReferrerSQL(ctx context.Context, tx *sql.Tx, referrerID string, txn *Transaction, amount int64) (bool, error) {
	var referralID string
	err := tx.QueryRowContext(ctx, `SELECT id FROM referrals WHERE user_id = ?`, referrerID).Scan(&referralID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load referrer registry entry: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO referral_redemptions (referral_id, redeemer_id)
VALUES (?, ?)
ON CONFLICT DO NOTHING;
`, referralID, txn.UserID)
	if err != nil {
		return false, fmt.Errorf("record redemption: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record redemption result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE referrals
SET total_referrals = total_referrals + 1,
    total_earnings = total_earnings + ?,
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?;
`, amount, referralID); err != nil {
		return false, fmt.Errorf("bump referral counters: %w", err)
	}

	var walletID string
	if err := tx.QueryRowContext(ctx, `
INSERT INTO wallets (id, user_id, balance, total_earned, updated_at)
VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (user_id) DO UPDATE SET
    balance = wallets.balance + excluded.balance,
    total_earned = wallets.total_earned + excluded.total_earned,
    updated_at = CURRENT_TIMESTAMP
RETURNING id;
`, randomUUID(), referrerID, amount, amount).Scan(&walletID); err != nil {
		return false, fmt.Errorf("credit wallet: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO wallet_earnings (id, wallet_id, referred_user_id, transaction_id, amount)
VALUES (?, ?, ?, ?, ?);
`, randomUUID(), walletID, txn.UserID, txn.ID, amount); err != nil {
		return false, fmt.Errorf("append earning event: %w", err)
	}

	return true, nil
}

// -- Wallet ledger --

func (r *SQLiteRepository) GetOrCreateWallet(ctx context.Context, userID string) (*Wallet, error) {
	const q = `
INSERT INTO wallets (id, user_id)
VALUES (?, ?)
ON CONFLICT (user_id) DO UPDATE SET user_id = excluded.user_id
RETURNING ` + walletColumns + `;
`
	var w Wallet
	err := r.db.QueryRowContext(ctx, q, randomUUID(), userID).Scan(&w.ID, &w.UserID, &w.Balance, &w.HeldBalance, &w.TotalEarned, &w.TotalDisbursed, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create wallet: %w", err)
	}
	return &w, nil
}

func (r *SQLiteRepository) ListWalletEarnings(ctx context.Context, walletID string) ([]WalletEarning, error) {
	const q = `
SELECT id, wallet_id, referred_user_id, transaction_id, amount, earned_at
FROM wallet_earnings
WHERE wallet_id = ?
ORDER BY earned_at DESC;
`
	rows, err := r.db.QueryContext(ctx, q, walletID)
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

func (r *SQLiteRepository) ListDisbursements(ctx context.Context, walletID string) ([]Disbursement, error) {
	const q = `
SELECT id, wallet_id, amount, status, method, requested_at, processed_at
FROM disbursements
WHERE wallet_id = ?
ORDER BY requested_at DESC;
`
	rows, err := r.db.QueryContext(ctx, q, walletID)
	if err != nil {
		return nil, fmt.Errorf("list disbursements: %w", err)
	}
	defer rows.Close()

	var records []Disbursement
	for rows.Next() {
		d, err := scanDisbursementSQL(rows)
		if err != nil {
			return nil, fmt.Errorf("scan disbursement: %w", err)
		}
		records = append(records, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate disbursements: %w", err)
	}
	return records, nil
}

func (r *SQLiteRepository) RequestDisbursement(ctx context.Context, userID string, minBalance int64, method string) (*Disbursement, error) {
	var record *Disbursement
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO wallets (id, user_id) VALUES (?, ?) ON CONFLICT (user_id) DO NOTHING`, randomUUID(), userID); err != nil {
			return fmt.Errorf("ensure wallet: %w", err)
		}

		var walletID string
		var balance int64
		if err := tx.QueryRowContext(ctx, `SELECT id, balance FROM wallets WHERE user_id = ?`, userID).Scan(&walletID, &balance); err != nil {
			return fmt.Errorf("load wallet: %w", err)
		}

		if balance < minBalance {
			return ErrInsufficientBalance
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE wallets
SET balance = 0, held_balance = held_balance + ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?;
`, balance, walletID); err != nil {
			return fmt.Errorf("reserve balance: %w", err)
		}

		d, err := scanDisbursementSQL(tx.QueryRowContext(ctx, `
INSERT INTO disbursements (id, wallet_id, amount, status, method)
VALUES (?, ?, ?, ?, ?)
RETURNING id, wallet_id, amount, status, method, requested_at, processed_at;
`, randomUUID(), walletID, balance, StatusPending, method))
		if err != nil {
			return fmt.Errorf("insert disbursement: %w", err)
		}
		record = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *SQLiteRepository) ListPendingDisbursements(ctx context.Context) ([]PendingDisbursement, error) {
	const q = `
SELECT w.id, d.id, u.id, u.name, u.phone_number, d.amount, d.requested_at
FROM disbursements d
JOIN wallets w ON w.id = d.wallet_id
JOIN users u ON u.id = w.user_id
WHERE d.status = ?
ORDER BY d.requested_at ASC;
`
	rows, err := r.db.QueryContext(ctx, q, StatusPending)
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

func (r *SQLiteRepository) ApproveDisbursement(ctx context.Context, walletID, disbursementID string) (*Disbursement, error) {
	var record *Disbursement
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		d, err := scanDisbursementSQL(tx.QueryRowContext(ctx, `
UPDATE disbursements
SET status = ?, processed_at = CURRENT_TIMESTAMP
WHERE id = ? AND wallet_id = ? AND status = ?
RETURNING id, wallet_id, amount, status, method, requested_at, processed_at;
`, StatusCompleted, disbursementID, walletID, StatusPending))
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("approve disbursement: %w", err)
			}
			var status string
			checkErr := tx.QueryRowContext(ctx, `SELECT status FROM disbursements WHERE id = ? AND wallet_id = ?`, disbursementID, walletID).Scan(&status)
			if errors.Is(checkErr, sql.ErrNoRows) {
				return ErrNotFound
			}
			if checkErr != nil {
				return fmt.Errorf("load disbursement: %w", checkErr)
			}
			return ErrAlreadyProcessed
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE wallets
SET held_balance = held_balance - ?,
    total_disbursed = total_disbursed + ?,
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?;
`, d.Amount, d.Amount, walletID); err != nil {
			return fmt.Errorf("settle wallet totals: %w", err)
		}

		record = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}
