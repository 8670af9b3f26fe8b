package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, phone_number, name, age, referral_code, referred_by, has_purchased, last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.PhoneNumber, &u.Name, &u.Age, &u.ReferralCode, &u.ReferredBy, &u.HasPurchased, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUserByPhone creates the user on first login and touches last_login_at
// on every subsequent one.
func (r *PostgresRepository) UpsertUserByPhone(ctx context.Context, phoneNumber string) (*User, error) {
	const q = `
INSERT INTO users (phone_number, last_login_at, updated_at)
VALUES ($1, NOW(), NOW())
ON CONFLICT (phone_number) DO UPDATE SET
    last_login_at = NOW(),
    updated_at = NOW()
RETURNING ` + userColumns + `;
`
	u, err := scanUser(r.pool.QueryRow(ctx, q, phoneNumber))
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

// GetUserByID returns the user by internal identifier.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	const q = `
SELECT ` + userColumns + `
FROM users
WHERE id = $1
LIMIT 1;
`
	u, err := scanUser(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// UpdateUserProfile applies a partial profile edit; nil fields are preserved.
func (r *PostgresRepository) UpdateUserProfile(ctx context.Context, id string, update ProfileUpdate) (*User, error) {
	const q = `
UPDATE users
SET name = COALESCE($2, name),
    age = COALESCE($3, age),
    updated_at = NOW()
WHERE id = $1
RETURNING ` + userColumns + `;
`
	u, err := scanUser(r.pool.QueryRow(ctx, q, id, update.Name, update.Age))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update user profile: %w", err)
	}
	return u, nil
}

// ListUsersWithStats joins every user with their wallet totals and referral count.
func (r *PostgresRepository) ListUsersWithStats(ctx context.Context) ([]UserStats, error) {
	const q = `
SELECT u.id, u.phone_number, u.name, u.age, u.referral_code, u.referred_by, u.has_purchased, u.last_login_at, u.created_at, u.updated_at,
       COALESCE(w.balance, 0), COALESCE(w.total_earned, 0), COALESCE(w.total_disbursed, 0),
       COALESCE(rf.total_referrals, 0)
FROM users u
LEFT JOIN wallets w ON w.user_id = u.id
LEFT JOIN referrals rf ON rf.user_id = u.id
ORDER BY u.created_at DESC;
`
	rows, err := r.pool.Query(ctx, q)
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
