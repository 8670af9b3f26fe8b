package repo

import "time"

// Transaction and disbursement statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// DisbursementMethodBankTransfer is the only payout method currently offered.
const DisbursementMethodBankTransfer = "Bank Transfer"

// User represents the users table row. Identity is the phone number;
// the referral code stays empty until the first completed purchase.
type User struct {
	ID           string     `json:"id"`
	PhoneNumber  string     `json:"phoneNumber"`
	Name         *string    `json:"name,omitempty"`
	Age          *int       `json:"age,omitempty"`
	ReferralCode *string    `json:"referralCode,omitempty"`
	ReferredBy   *string    `json:"referredBy,omitempty"`
	HasPurchased bool       `json:"hasPurchased"`
	LastLoginAt  *time.Time `json:"lastLogin,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Referral represents a referral code registry entry. The code column is
// the uniqueness-enforcing key; redeemers live in referral_redemptions.
type Referral struct {
	ID             string    `json:"id"`
	Code           string    `json:"code"`
	UserID         string    `json:"userId"`
	TotalEarnings  int64     `json:"totalEarnings"`
	TotalReferrals int64     `json:"totalReferrals"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Transaction represents one payment attempt. The referrer is resolved at
// creation time and never re-evaluated.
type Transaction struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	OrderID      string    `json:"orderId"`
	PaymentID    *string   `json:"paymentId,omitempty"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	Status       string    `json:"status"`
	ServiceName  string    `json:"serviceName"`
	ReferralCode *string   `json:"referralCode,omitempty"`
	ReferredBy   *string   `json:"referredBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Wallet holds a user's referral earnings. HeldBalance is the amount
// reserved by pending disbursement requests; the ledger invariant is
// balance + held_balance = total_earned - total_disbursed.
type Wallet struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Balance        int64     `json:"balance"`
	HeldBalance    int64     `json:"heldBalance"`
	TotalEarned    int64     `json:"totalEarned"`
	TotalDisbursed int64     `json:"totalDisbursed"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// WalletEarning is one append-only referral reward event.
type WalletEarning struct {
	ID             string    `json:"id"`
	WalletID       string    `json:"walletId"`
	ReferredUserID string    `json:"referredUserId"`
	TransactionID  string    `json:"transactionId"`
	Amount         int64     `json:"amount"`
	EarnedAt       time.Time `json:"earnedAt"`
}

// Disbursement is one payout request against a wallet.
type Disbursement struct {
	ID          string     `json:"id"`
	WalletID    string     `json:"walletId"`
	Amount      int64      `json:"amount"`
	Status      string     `json:"status"`
	Method      string     `json:"method"`
	RequestedAt time.Time  `json:"requestedAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// PendingDisbursement is one row of the admin payout queue.
type PendingDisbursement struct {
	WalletID       string    `json:"walletId"`
	DisbursementID string    `json:"disbursementId"`
	UserID         string    `json:"userId"`
	UserName       *string   `json:"userName,omitempty"`
	PhoneNumber    string    `json:"phoneNumber"`
	Amount         int64     `json:"amount"`
	RequestedAt    time.Time `json:"requestedAt"`
}

// UserStats joins a user with their wallet totals for the admin listing.
type UserStats struct {
	User
	WalletBalance  int64 `json:"walletBalance"`
	TotalEarned    int64 `json:"totalEarned"`
	TotalDisbursed int64 `json:"totalDisbursed"`
	TotalReferrals int64 `json:"totalReferrals"`
}

// ProfileUpdate carries partial profile edits; nil fields are left unchanged.
type ProfileUpdate struct {
	Name *string
	Age  *int
}

// SettleParams describes a payment settlement to apply atomically.
// IssueCode derives a referral code for the payer; the attempt counter
// increments when an insert hits a code collision.
type SettleParams struct {
	TransactionID string
	UserID        string
	PaymentID     string
	RewardAmount  int64
	IssueCode     func(attempt int) string
}

// SettleOutcome reports what a settlement actually did.
type SettleOutcome struct {
	Transaction    *Transaction
	AlreadySettled bool
	IssuedCode     string
	RewardCredited bool
	ReferrerID     string
}
