package repo

import (
	"context"
	"io/fs"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	UpsertUserByPhone(ctx context.Context, phoneNumber string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	UpdateUserProfile(ctx context.Context, id string, update ProfileUpdate) (*User, error)
	ListUsersWithStats(ctx context.Context) ([]UserStats, error)

	// Referral registry
	GetReferralByCode(ctx context.Context, code string) (*Referral, error)
	GetReferralByOwner(ctx context.Context, userID string) (*Referral, error)
	HasRedeemed(ctx context.Context, referralID, userID string) (bool, error)

	// Transactions
	InsertTransaction(ctx context.Context, txn Transaction) (*Transaction, error)
	GetTransactionByID(ctx context.Context, id string) (*Transaction, error)
	ListTransactionsByUser(ctx context.Context, userID string) ([]Transaction, error)
	FailTransaction(ctx context.Context, id string) error

	// Settlement: completes the transaction, marks the payer as purchased,
	// issues a referral code if absent and credits the referrer's wallet,
	// all within one storage transaction. Re-settling a completed
	// transaction reports AlreadySettled without mutating anything.
	SettleTransaction(ctx context.Context, params SettleParams) (*SettleOutcome, error)

	// Wallet ledger
	GetOrCreateWallet(ctx context.Context, userID string) (*Wallet, error)
	ListWalletEarnings(ctx context.Context, walletID string) ([]WalletEarning, error)
	ListDisbursements(ctx context.Context, walletID string) ([]Disbursement, error)
	RequestDisbursement(ctx context.Context, userID string, minBalance int64, method string) (*Disbursement, error)
	ListPendingDisbursements(ctx context.Context) ([]PendingDisbursement, error)
	ApproveDisbursement(ctx context.Context, walletID, disbursementID string) (*Disbursement, error)
}
