package repo

import (
	"context"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used by tests and by the
// "memory" database driver. A single mutex serialises every operation,
// which stands in for the per-row locking the SQL backends rely on.
type MemoryRepository struct {
	mu sync.Mutex

	users         map[string]*User // by id
	usersByPhone  map[string]string
	referrals     map[string]*Referral // by id
	referralCodes map[string]string    // code -> referral id
	referralOwner map[string]string    // user id -> referral id
	redemptions   map[string]map[string]bool
	transactions  map[string]*Transaction
	wallets       map[string]*Wallet // by id
	walletOwner   map[string]string  // user id -> wallet id
	earnings      map[string][]WalletEarning
	disbursements map[string]*Disbursement
	txOrder       []string
	disbOrder     []string
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		users:         map[string]*User{},
		usersByPhone:  map[string]string{},
		referrals:     map[string]*Referral{},
		referralCodes: map[string]string{},
		referralOwner: map[string]string{},
		redemptions:   map[string]map[string]bool{},
		transactions:  map[string]*Transaction{},
		wallets:       map[string]*Wallet{},
		walletOwner:   map[string]string{},
		earnings:      map[string][]WalletEarning{},
		disbursements: map[string]*Disbursement{},
	}
}

func (r *MemoryRepository) Close() {}

func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *MemoryRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error { return nil }

// -- Users --

func (r *MemoryRepository) UpsertUserByPhone(ctx context.Context, phoneNumber string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if id, ok := r.usersByPhone[phoneNumber]; ok {
		u := r.users[id]
		u.LastLoginAt = &now
		u.UpdatedAt = now
		cp := *u
		return &cp, nil
	}

	u := &User{
		ID:          uuid.NewString(),
		PhoneNumber: phoneNumber,
		LastLoginAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.users[u.ID] = u
	r.usersByPhone[phoneNumber] = u.ID
	cp := *u
	return &cp, nil
}

func (r *MemoryRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryRepository) UpdateUserProfile(ctx context.Context, id string, update ProfileUpdate) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if update.Name != nil {
		u.Name = update.Name
	}
	if update.Age != nil {
		u.Age = update.Age
	}
	u.UpdatedAt = time.Now()
	cp := *u
	return &cp, nil
}

func (r *MemoryRepository) ListUsersWithStats(ctx context.Context) ([]UserStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats []UserStats
	for _, u := range r.users {
		s := UserStats{User: *u}
		if wid, ok := r.walletOwner[u.ID]; ok {
			w := r.wallets[wid]
			s.WalletBalance = w.Balance
			s.TotalEarned = w.TotalEarned
			s.TotalDisbursed = w.TotalDisbursed
		}
		if rid, ok := r.referralOwner[u.ID]; ok {
			s.TotalReferrals = r.referrals[rid].TotalReferrals
		}
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].CreatedAt.After(stats[j].CreatedAt)
	})
	return stats, nil
}

// -- Referral registry --

func (r *MemoryRepository) GetReferralByCode(ctx context.Context, code string) (*Referral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.referralCodes[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.referrals[id]
	return &cp, nil
}

func (r *MemoryRepository) GetReferralByOwner(ctx context.Context, userID string) (*Referral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.referralOwner[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.referrals[id]
	return &cp, nil
}

func (r *MemoryRepository) HasRedeemed(ctx context.Context, referralID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.redemptions[referralID][userID], nil
}

// -- Transactions --

func (r *MemoryRepository) InsertTransaction(ctx context.Context, txn Transaction) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	txn.ID = uuid.NewString()
	txn.CreatedAt = now
	txn.UpdatedAt = now
	r.transactions[txn.ID] = &txn
	r.txOrder = append(r.txOrder, txn.ID)
	cp := txn
	return &cp, nil
}

func (r *MemoryRepository) GetTransactionByID(ctx context.Context, id string) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *MemoryRepository) ListTransactionsByUser(ctx context.Context, userID string) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var txns []Transaction
	for i := len(r.txOrder) - 1; i >= 0; i-- {
		t := r.transactions[r.txOrder[i]]
		if t.UserID == userID {
			txns = append(txns, *t)
		}
	}
	return txns, nil
}

func (r *MemoryRepository) FailTransaction(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transactions[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != StatusPending {
		return ErrAlreadyProcessed
	}
	t.Status = StatusFailed
	t.UpdatedAt = time.Now()
	return nil
}

// -- Settlement --

func (r *MemoryRepository) SettleTransaction(ctx context.Context, params SettleParams) (*SettleOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.transactions[params.TransactionID]
	if !ok {
		return nil, ErrNotFound
	}

	outcome := &SettleOutcome{}
	if txn.Status != StatusPending {
		if txn.Status == StatusCompleted {
			cp := *txn
			outcome.Transaction = &cp
			outcome.AlreadySettled = true
			return outcome, nil
		}
		return nil, ErrAlreadyProcessed
	}
	if txn.UserID != params.UserID {
		return nil, ErrNotFound
	}
	payer, ok := r.users[txn.UserID]
	if !ok {
		return nil, ErrNotFound
	}

	now := time.Now()
	paymentID := params.PaymentID
	txn.PaymentID = &paymentID
	txn.Status = StatusCompleted
	txn.UpdatedAt = now
	cp := *txn
	outcome.Transaction = &cp

	payer.HasPurchased = true
	payer.UpdatedAt = now

	if payer.ReferralCode == nil {
		issued, err := r.issueCodeLocked(payer, params.IssueCode)
		if err != nil {
			return nil, err
		}
		outcome.IssuedCode = issued
	}

	if txn.ReferredBy == nil {
		return outcome, nil
	}

	referralID, ok := r.referralOwner[*txn.ReferredBy]
	if !ok {
		return outcome, nil
	}
	if r.redemptions[referralID][txn.UserID] {
		return outcome, nil
	}

	set := r.redemptions[referralID]
	if set == nil {
		set = map[string]bool{}
		r.redemptions[referralID] = set
	}
	set[txn.UserID] = true

	rf := r.referrals[referralID]
	rf.TotalReferrals++
	rf.TotalEarnings += params.RewardAmount
	rf.UpdatedAt = now

	w := r.walletForLocked(*txn.ReferredBy)
	w.Balance += params.RewardAmount
	w.TotalEarned += params.RewardAmount
	w.UpdatedAt = now
	r.earnings[w.ID] = append(r.earnings[w.ID], WalletEarning{
		ID:             uuid.NewString(),
		WalletID:       w.ID,
		ReferredUserID: txn.UserID,
		TransactionID:  txn.ID,
		Amount:         params.RewardAmount,
		EarnedAt:       now,
	})

	outcome.RewardCredited = true
	outcome.ReferrerID = *txn.ReferredBy
	return outcome, nil
}

func (r *MemoryRepository) issueCodeLocked(payer *User, derive func(attempt int) string) (string, error) {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code := derive(attempt)
		if _, taken := r.referralCodes[code]; taken {
			continue
		}
		now := time.Now()
		rf := &Referral{
			ID:        uuid.NewString(),
			Code:      code,
			UserID:    payer.ID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.referrals[rf.ID] = rf
		r.referralCodes[code] = rf.ID
		r.referralOwner[payer.ID] = rf.ID
		payer.ReferralCode = &rf.Code
		return code, nil
	}
	return "", ErrCodeExhausted
}

// -- Wallet ledger --

func (r *MemoryRepository) walletForLocked(userID string) *Wallet {
	if id, ok := r.walletOwner[userID]; ok {
		return r.wallets[id]
	}
	now := time.Now()
	w := &Wallet{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.wallets[w.ID] = w
	r.walletOwner[userID] = w.ID
	return w
}

func (r *MemoryRepository) GetOrCreateWallet(ctx context.Context, userID string) (*Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *r.walletForLocked(userID)
	return &cp, nil
}

func (r *MemoryRepository) ListWalletEarnings(ctx context.Context, walletID string) ([]WalletEarning, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.earnings[walletID]
	out := make([]WalletEarning, len(events))
	for i := range events {
		out[len(events)-1-i] = events[i]
	}
	return out, nil
}

func (r *MemoryRepository) ListDisbursements(ctx context.Context, walletID string) ([]Disbursement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Disbursement
	for i := len(r.disbOrder) - 1; i >= 0; i-- {
		d := r.disbursements[r.disbOrder[i]]
		if d.WalletID == walletID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *MemoryRepository) RequestDisbursement(ctx context.Context, userID string, minBalance int64, method string) (*Disbursement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.walletForLocked(userID)
	if w.Balance < minBalance {
		return nil, ErrInsufficientBalance
	}

	now := time.Now()
	amount := w.Balance
	w.Balance = 0
	w.HeldBalance += amount
	w.UpdatedAt = now

	d := &Disbursement{
		ID:          uuid.NewString(),
		WalletID:    w.ID,
		Amount:      amount,
		Status:      StatusPending,
		Method:      method,
		RequestedAt: now,
	}
	r.disbursements[d.ID] = d
	r.disbOrder = append(r.disbOrder, d.ID)
	cp := *d
	return &cp, nil
}

func (r *MemoryRepository) ListPendingDisbursements(ctx context.Context) ([]PendingDisbursement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []PendingDisbursement
	for _, id := range r.disbOrder {
		d := r.disbursements[id]
		if d.Status != StatusPending {
			continue
		}
		w := r.wallets[d.WalletID]
		u := r.users[w.UserID]
		pending = append(pending, PendingDisbursement{
			WalletID:       w.ID,
			DisbursementID: d.ID,
			UserID:         u.ID,
			UserName:       u.Name,
			PhoneNumber:    u.PhoneNumber,
			Amount:         d.Amount,
			RequestedAt:    d.RequestedAt,
		})
	}
	return pending, nil
}

func (r *MemoryRepository) ApproveDisbursement(ctx context.Context, walletID, disbursementID string) (*Disbursement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.disbursements[disbursementID]
	if !ok || d.WalletID != walletID {
		return nil, ErrNotFound
	}
	if d.Status != StatusPending {
		return nil, ErrAlreadyProcessed
	}

	now := time.Now()
	d.Status = StatusCompleted
	d.ProcessedAt = &now

	w := r.wallets[walletID]
	w.HeldBalance -= d.Amount
	w.TotalDisbursed += d.Amount
	w.UpdatedAt = now

	cp := *d
	return &cp, nil
}
