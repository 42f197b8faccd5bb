// Package processor wraps the external payment processor behind a
// small fallible RPC boundary. Money state lives in our datastore;
// this package only initiates movements and looks up processor-side
// objects. Every call is timeout-bounded and transient failures are
// retried a bounded number of times.
package processor

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned when the circuit breaker is open.
	ErrUnavailable = errors.New("payment processor unavailable")
	// ErrRejected is returned for permanent processor-side rejections
	// (declined payout, invalid destination).
	ErrRejected = errors.New("payment processor rejected the request")
)

// Payout is the processor-side view of a payout.
type Payout struct {
	ID          string
	Status      string
	AmountCents int64
	Currency    string
	Destination string
}

// Transfer is the processor-side view of an escrow transfer.
type Transfer struct {
	ID          string
	AmountCents int64
	Currency    string
	Destination string
	Reversed    bool
}

// Refund is the processor-side view of a refund.
type Refund struct {
	ID          string
	Status      string
	AmountCents int64
}

// CreatePayoutRequest carries payout initiation parameters.
type CreatePayoutRequest struct {
	AmountCents    int64
	Currency       string
	DestinationID  string // processor-side external account ID
	Instant        bool
	Description    string
	IdempotencyKey string // forwarded so processor-side retries cannot double-pay
}

// Client is the opaque processor boundary consumed by the withdrawal
// coordinator and the escrow service.
type Client interface {
	CreatePayout(ctx context.Context, req CreatePayoutRequest) (*Payout, error)
	CancelPayout(ctx context.Context, payoutID string) (*Payout, error)
	GetTransfer(ctx context.Context, transferID string) (*Transfer, error)
	CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64) (*Refund, error)
}
