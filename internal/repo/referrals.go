package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const referralColumns = `id, code, user_id, total_earnings, total_referrals, created_at, updated_at`

func scanReferral(row pgx.Row) (*Referral, error) {
	var rf Referral
	if err := row.Scan(&rf.ID, &rf.Code, &rf.UserID, &rf.TotalEarnings, &rf.TotalReferrals, &rf.CreatedAt, &rf.UpdatedAt); err != nil {
		return nil, err
	}
	return &rf, nil
}

// GetReferralByCode looks up a registry entry by its code.
func (r *PostgresRepository) GetReferralByCode(ctx context.Context, code string) (*Referral, error) {
	const q = `
SELECT ` + referralColumns + `
FROM referrals
WHERE code = $1
LIMIT 1;
`
	rf, err := scanReferral(r.pool.QueryRow(ctx, q, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get referral by code: %w", err)
	}
	return rf, nil
}

// GetReferralByOwner looks up a registry entry by the owning user.
func (r *PostgresRepository) GetReferralByOwner(ctx context.Context, userID string) (*Referral, error) {
	const q = `
SELECT ` + referralColumns + `
FROM referrals
WHERE user_id = $1
LIMIT 1;
`
	rf, err := scanReferral(r.pool.QueryRow(ctx, q, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get referral by owner: %w", err)
	}
	return rf, nil
}

// HasRedeemed reports whether the user already appears in the code's
// redeemed-by set.
func (r *PostgresRepository) HasRedeemed(ctx context.Context, referralID, userID string) (bool, error) {
	const q = `
SELECT EXISTS (
    SELECT 1 FROM referral_redemptions
    WHERE referral_id = $1 AND redeemer_id = $2
);
`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, referralID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check redemption: %w", err)
	}
	return exists, nil
}
