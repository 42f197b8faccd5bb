// Package accounts holds the account identity attributes the risk and
// withdrawal paths read: age, identity verification, daily limit.
package accounts

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("account not found")

// Account is the risk-relevant slice of an account record.
type Account struct {
	ID               string    `json:"id"`
	IdentityVerified bool      `json:"identityVerified"`
	DailyLimitCents  int64     `json:"dailyLimitCents"` // 0 = platform default applies
	CreatedAt        time.Time `json:"createdAt"`
}

// Store persists accounts.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, id string) (*Account, error)
}
