// Package payouts owns the withdrawal lifecycle: request records, the
// payout state machine, and the coordinator that gates initiation on
// risk assessment, balance, and daily limits.
//
// Lane: requested → queued → processing → {paid | failed | returned},
// with pending_review as the parked entry state for flagged requests
// and processing → cancelled allowed only before a processor commit.
// Terminal records accept no further transitions; a failed withdrawal
// is never reopened, the caller creates a new request.
package payouts

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("withdrawal request not found")

	// ErrDuplicateKey is returned by Create when the account already has
	// a request with the same idempotency key. Callers resolve it by
	// returning the original record, never by failing the request.
	ErrDuplicateKey = errors.New("idempotency key already used")

	// ErrTransitionRejected is the compare-and-set mismatch: the record
	// was not in any of the expected states. Benign by design; callers
	// log and discard.
	ErrTransitionRejected = errors.New("state transition rejected")
)

// Status is a withdrawal request's lifecycle state.
type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusRequested     Status = "requested"
	StatusQueued        Status = "queued"
	StatusProcessing    Status = "processing"
	StatusPaid          Status = "paid"
	StatusFailed        Status = "failed"
	StatusReturned      Status = "returned"
	StatusCancelled     Status = "cancelled"
)

// transitions is the forward graph. Anything not listed is rejected at
// the store's compare-and-set.
var transitions = map[Status][]Status{
	StatusPendingReview: {StatusRequested, StatusFailed},
	StatusRequested:     {StatusQueued, StatusFailed},
	StatusQueued:        {StatusProcessing, StatusPaid, StatusFailed, StatusReturned, StatusCancelled},
	StatusProcessing:    {StatusPaid, StatusFailed, StatusReturned, StatusCancelled},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status accepts no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPaid, StatusFailed, StatusReturned, StatusCancelled:
		return true
	}
	return false
}

// Urgency selects the payout rail speed.
type Urgency string

const (
	UrgencyStandard Urgency = "standard"
	UrgencyInstant  Urgency = "instant"
)

// WithdrawalRequest is the financial record of one withdrawal. Never
// deleted; status moves only forward through the transition graph.
type WithdrawalRequest struct {
	ID                string    `json:"id"`
	AccountID         string    `json:"accountId"`
	AmountCents       int64     `json:"amountCents"`
	Currency          string    `json:"currency"`
	PayoutMethodID    string    `json:"payoutMethodId"`
	Urgency           Urgency   `json:"urgency"`
	Status            Status    `json:"status"`
	IdempotencyKey    string    `json:"idempotencyKey"`
	ProcessorPayoutID string    `json:"processorPayoutId,omitempty"`
	RiskScore         int       `json:"riskScore"`
	RiskFlags         []string  `json:"riskFlags,omitempty"`
	FailureReason     string    `json:"failureReason,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Store persists withdrawal requests.
//
// UpdateStatus is the compare-and-set primitive every transition goes
// through: it applies to → only when the record's current status is in
// from, atomically, and returns ErrTransitionRejected otherwise.
type Store interface {
	Create(ctx context.Context, w *WithdrawalRequest) error
	Get(ctx context.Context, id string) (*WithdrawalRequest, error)
	GetByIdempotencyKey(ctx context.Context, accountID, key string) (*WithdrawalRequest, error)
	GetByProcessorPayoutID(ctx context.Context, payoutID string) (*WithdrawalRequest, error)

	UpdateStatus(ctx context.Context, id string, from []Status, to Status, reason string) (*WithdrawalRequest, error)

	// AttachPayout records the processor's payout identifier after a
	// successful initiation call.
	AttachPayout(ctx context.Context, id, processorPayoutID string) error

	ListByAccount(ctx context.Context, accountID string, limit int) ([]*WithdrawalRequest, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*WithdrawalRequest, error)

	// History reads feeding the risk collectors.
	CountSince(ctx context.Context, accountID string, since time.Time) (int, error)
	CountFailedSince(ctx context.Context, accountID string, since time.Time) (int, error)
	AverageAmountCents(ctx context.Context, accountID string) (int64, error)
}
