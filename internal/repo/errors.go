package repo

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientBalance indicates the wallet balance is below the
	// disbursement threshold.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadyProcessed indicates a state transition was attempted on a
	// record that already left the pending state.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrCodeExhausted indicates referral code derivation kept colliding.
	ErrCodeExhausted = errors.New("referral code derivation exhausted")
)
