// Package ledger tracks account balances in integer minor units.
//
// Withdrawals are two-phase: Hold moves funds from available to
// pending when a payout is initiated, then ConfirmHold (payout paid)
// or ReleaseHold (payout failed or returned) settles the hold. Every
// movement writes an append-only entry alongside the balance update.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAccountNotFound   = errors.New("account has no balance record")
	ErrInsufficientFunds = errors.New("insufficient available balance")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// Balance is an account's money position in minor units.
type Balance struct {
	AccountID      string    `json:"accountId"`
	AvailableCents int64     `json:"availableCents"`
	PendingCents   int64     `json:"pendingCents"`
	WithdrawnCents int64     `json:"withdrawnCents"` // lifetime confirmed withdrawals
	UpdatedAt      time.Time `json:"updatedAt"`
}

// EntryType classifies a balance movement.
type EntryType string

const (
	EntryCredit  EntryType = "credit"
	EntryHold    EntryType = "hold"
	EntryConfirm EntryType = "confirm_hold"
	EntryRelease EntryType = "release_hold"
)

// Entry is an immutable record of a single balance movement.
type Entry struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"accountId"`
	Type        EntryType `json:"type"`
	AmountCents int64     `json:"amountCents"`
	Reference   string    `json:"reference,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists balances and movement entries.
//
// Hold semantics are the durability boundary for withdrawal initiation:
// a hold that cannot be placed (insufficient funds) rejects the
// withdrawal before any external call is made.
type Store interface {
	Balance(ctx context.Context, accountID string) (*Balance, error)
	Credit(ctx context.Context, accountID string, amountCents int64, reference string) error
	Hold(ctx context.Context, accountID string, amountCents int64, reference string) error
	ConfirmHold(ctx context.Context, accountID string, amountCents int64, reference string) error
	ReleaseHold(ctx context.Context, accountID string, amountCents int64, reference string) error

	// HeldSince sums hold entries created at or after since. Used for
	// daily-limit checks; releases deliberately do not refund the
	// day's usage.
	HeldSince(ctx context.Context, accountID string, since time.Time) (int64, error)
	History(ctx context.Context, accountID string, limit int) ([]*Entry, error)
}
