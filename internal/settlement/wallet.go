package settlement

import (
	"context"

	"mentora/internal/repo"
)

// WalletSummary is the single payload backing the wallet screen: current
// balances, the earning/disbursement ledgers and the user's referral stats.
type WalletSummary struct {
	Wallet         repo.Wallet          `json:"wallet"`
	Earnings       []repo.WalletEarning `json:"earnings"`
	Disbursements  []repo.Disbursement  `json:"disbursements"`
	ReferralCode   *string              `json:"referralCode"`
	TotalReferrals int64                `json:"totalReferrals"`
}

// GetWallet assembles the wallet summary for a user, creating an empty
// wallet on first access. Summaries are cached briefly; every mutation
// path invalidates the entry.
func (s *Service) GetWallet(ctx context.Context, userID string) (*WalletSummary, error) {
	key := walletCacheKey(userID)
	if s.cache != nil {
		var cached WalletSummary
		ok, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("wallet cache read failed", "user_id", userID, "error", err)
		} else if ok {
			return &cached, nil
		}
	}

	wallet, err := s.repo.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	earnings, err := s.repo.ListWalletEarnings(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	disbursements, err := s.repo.ListDisbursements(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}

	summary := &WalletSummary{
		Wallet:        *wallet,
		Earnings:      earnings,
		Disbursements: disbursements,
	}
	if entry, err := s.repo.GetReferralByOwner(ctx, userID); err == nil {
		summary.ReferralCode = &entry.Code
		summary.TotalReferrals = entry.TotalReferrals
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, summary, walletCacheTTL); err != nil {
			s.logger.Warn("wallet cache write failed", "user_id", userID, "error", err)
		}
	}
	return summary, nil
}

// RequestDisbursement snapshots the user's whole balance into a pending
// payout. The balance is moved to held funds so later earnings stay clear
// of the in-flight request.
func (s *Service) RequestDisbursement(ctx context.Context, userID string) (*repo.Disbursement, error) {
	disbursement, err := s.repo.RequestDisbursement(ctx, userID, s.cfg.MinDisbursement, repo.DisbursementMethodBankTransfer)
	if err != nil {
		return nil, err
	}
	s.countDisbursement("request", "ok")
	s.invalidateWalletCache(ctx, userID)
	s.logger.Info("disbursement requested", "user_id", userID, "disbursement_id", disbursement.ID, "amount", disbursement.Amount)
	return disbursement, nil
}

// PendingDisbursements lists payout requests awaiting admin approval.
func (s *Service) PendingDisbursements(ctx context.Context) ([]repo.PendingDisbursement, error) {
	return s.repo.ListPendingDisbursements(ctx)
}

// ApproveDisbursement finalises a pending payout, releasing the held funds
// into the disbursed total. userID is the wallet owner from the pending
// queue, used only to drop their cached summary.
func (s *Service) ApproveDisbursement(ctx context.Context, walletID, disbursementID, userID string) (*repo.Disbursement, error) {
	disbursement, err := s.repo.ApproveDisbursement(ctx, walletID, disbursementID)
	if err != nil {
		s.countDisbursement("approve", "error")
		return nil, err
	}
	s.countDisbursement("approve", "ok")
	if userID != "" {
		s.invalidateWalletCache(ctx, userID)
	}
	s.logger.Info("disbursement approved", "disbursement_id", disbursement.ID, "amount", disbursement.Amount)
	return disbursement, nil
}

// UsersWithStats returns the admin user listing with wallet and referral
// aggregates attached.
func (s *Service) UsersWithStats(ctx context.Context) ([]repo.UserStats, error) {
	return s.repo.ListUsersWithStats(ctx)
}

func (s *Service) countDisbursement(action, outcome string) {
	if s.metrics != nil {
		s.metrics.Disbursements.WithLabelValues(action, outcome).Inc()
	}
}
