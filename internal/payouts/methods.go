package payouts

import (
	"context"
	"errors"
	"time"
)

var ErrMethodNotFound = errors.New("payout method not found")

// PayoutMethod is a registered payout destination. Trust attributes are
// read by risk assessment; the record itself is never mutated after
// verification.
type PayoutMethod struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"accountId"`
	Rail       string     `json:"rail"` // e.g. "bank_account", "card"
	Display    string     `json:"display"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
	AddedAt    time.Time  `json:"addedAt"`
}

// MethodStore persists payout methods.
type MethodStore interface {
	CreateMethod(ctx context.Context, m *PayoutMethod) error
	GetMethod(ctx context.Context, id string) (*PayoutMethod, error)
	ListMethods(ctx context.Context, accountID string) ([]*PayoutMethod, error)
	MarkVerified(ctx context.Context, id string, at time.Time) error
}
