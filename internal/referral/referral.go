package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mentora/internal/repo"
)

// CodePrefix is prepended to every derived referral code.
const CodePrefix = "REF"

var (
	// ErrSelfReferral indicates a user tried to redeem their own code.
	ErrSelfReferral = errors.New("cannot use your own referral code")

	// ErrCodeAlreadyUsed indicates the user already redeemed this code once.
	ErrCodeAlreadyUsed = errors.New("referral code already used")
)

// Registry resolves and derives referral codes against the persistence layer.
type Registry struct {
	repo repo.Repository
}

// NewRegistry creates a referral registry backed by the given repository.
func NewRegistry(r repo.Repository) *Registry {
	return &Registry{repo: r}
}

// ResolveReferrer maps a submitted code to the owning user's id. An unknown
// code resolves to no referrer without error, so a typo never blocks
// checkout. Self-referral and repeat redemption are rejected.
func (r *Registry) ResolveReferrer(ctx context.Context, code, requestingUserID string) (*string, error) {
	entry, err := r.repo.GetReferralByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve referrer: %w", err)
	}

	if entry.UserID == requestingUserID {
		return nil, ErrSelfReferral
	}

	used, err := r.repo.HasRedeemed(ctx, entry.ID, requestingUserID)
	if err != nil {
		return nil, fmt.Errorf("resolve referrer: %w", err)
	}
	if used {
		return nil, ErrCodeAlreadyUsed
	}

	referrerID := entry.UserID
	return &referrerID, nil
}

// DeriveCode builds the human-readable referral code for a user id: the
// fixed prefix plus the last six characters of the id, upper-cased.
// Non-zero attempts append a disambiguator for collision retries; the id
// suffix alone is not collision-free.
func DeriveCode(userID string, attempt int) string {
	cleaned := strings.ReplaceAll(userID, "-", "")
	suffix := cleaned
	if len(cleaned) > 6 {
		suffix = cleaned[len(cleaned)-6:]
	}
	code := CodePrefix + strings.ToUpper(suffix)
	if attempt > 0 {
		code = fmt.Sprintf("%s%d", code, attempt+1)
	}
	return code
}
