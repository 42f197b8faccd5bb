// Package escrow tracks contract escrow payments through their funding
// lane: pending → funded → {released | refunded | failed}.
//
// An escrow payment is created when a client starts funding a contract
// and is mutated only by verified processor notifications. The funded
// amount is immutable once set; transitions are compare-and-set, so an
// out-of-order or duplicated notification is discarded, never applied
// over a terminal state.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clearhold/clearhold/internal/idgen"
	"github.com/clearhold/clearhold/internal/logging"
	"github.com/clearhold/clearhold/internal/metrics"
	"github.com/clearhold/clearhold/internal/traces"
)

var (
	ErrNotFound = errors.New("escrow payment not found")

	// ErrTransitionRejected is the compare-and-set mismatch. Benign;
	// callers log and discard.
	ErrTransitionRejected = errors.New("escrow transition rejected")

	ErrInvalidAmount = errors.New("funded amount must be positive")
)

// Status is an escrow payment's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusFunded   Status = "funded"
	StatusReleased Status = "released"
	StatusRefunded Status = "refunded"
	StatusFailed   Status = "failed"
)

// IsTerminal reports whether the status accepts no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusReleased, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

// EscrowPayment is the financial record of one contract funding.
// AmountCents is set at creation and never changes.
type EscrowPayment struct {
	ID                string    `json:"id"`
	ContractID        string    `json:"contractId"`
	ClientAccountID   string    `json:"clientAccountId"`
	ProviderAccountID string    `json:"providerAccountId"`
	AmountCents       int64     `json:"amountCents"`
	PlatformFeeCents  int64     `json:"platformFeeCents"`
	ProviderFeeCents  int64     `json:"providerFeeCents"`
	Currency          string    `json:"currency"`
	Status            Status    `json:"status"`
	PaymentIntentID   string    `json:"paymentIntentId,omitempty"`
	TransferID        string    `json:"transferId,omitempty"`
	FailureReason     string    `json:"failureReason,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// NetCents is the amount the provider receives on release.
func (e *EscrowPayment) NetCents() int64 {
	return e.AmountCents - e.PlatformFeeCents - e.ProviderFeeCents
}

// Store persists escrow payments. UpdateStatus is the compare-and-set
// primitive: it applies only when the current status is in from.
type Store interface {
	Create(ctx context.Context, e *EscrowPayment) error
	Get(ctx context.Context, id string) (*EscrowPayment, error)
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*EscrowPayment, error)
	ListByContract(ctx context.Context, contractID string) ([]*EscrowPayment, error)

	UpdateStatus(ctx context.Context, id string, from []Status, to Status, reason string) (*EscrowPayment, error)

	// SetTransfer records the processor transfer created on release.
	SetTransfer(ctx context.Context, id, transferID string) error
}

// ContractUpdater propagates escrow outcomes onto the owning contract.
type ContractUpdater interface {
	MarkFunded(ctx context.Context, contractID string) error
	MarkCompleted(ctx context.Context, contractID string) error
	MarkCancelled(ctx context.Context, contractID string) error
}

// BalanceCrediter credits the provider's platform balance on release.
type BalanceCrediter interface {
	Credit(ctx context.Context, accountID string, amountCents int64, reference string) error
}

// Notifier delivers best-effort user notifications.
type Notifier interface {
	Notify(ctx context.Context, accountID, kind, message string) error
}

// CreateRequest carries the parameters for opening an escrow payment.
type CreateRequest struct {
	ContractID        string `json:"contract_id" binding:"required"`
	ClientAccountID   string `json:"client_account_id" binding:"required"`
	ProviderAccountID string `json:"provider_account_id" binding:"required"`
	AmountCents       int64  `json:"amount_cents" binding:"required"`
	PlatformFeeCents  int64  `json:"platform_fee_cents"`
	ProviderFeeCents  int64  `json:"provider_fee_cents"`
	Currency          string `json:"currency" binding:"required"`
	PaymentIntentID   string `json:"payment_intent_id"`
}

// Service applies escrow transitions and their dependent updates. The
// status row is the durability boundary: contract status, balance
// credit, and notifications happen after the transition commits and
// never roll it back.
type Service struct {
	store     Store
	contracts ContractUpdater
	balances  BalanceCrediter
	notifier  Notifier
}

func NewService(store Store, contracts ContractUpdater, balances BalanceCrediter) *Service {
	return &Service{store: store, contracts: contracts, balances: balances}
}

// WithNotifier adds a notification sink for terminal transitions.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// Create opens a pending escrow payment for a contract.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*EscrowPayment, error) {
	if req.AmountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.PlatformFeeCents < 0 || req.ProviderFeeCents < 0 ||
		req.PlatformFeeCents+req.ProviderFeeCents > req.AmountCents {
		return nil, fmt.Errorf("%w: fees exceed funded amount", ErrInvalidAmount)
	}

	now := time.Now()
	e := &EscrowPayment{
		ID:                idgen.WithPrefix("esc"),
		ContractID:        req.ContractID,
		ClientAccountID:   req.ClientAccountID,
		ProviderAccountID: req.ProviderAccountID,
		AmountCents:       req.AmountCents,
		PlatformFeeCents:  req.PlatformFeeCents,
		ProviderFeeCents:  req.ProviderFeeCents,
		Currency:          req.Currency,
		Status:            StatusPending,
		PaymentIntentID:   req.PaymentIntentID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("creating escrow payment: %w", err)
	}
	return e, nil
}

// MarkFunded records that the client's payment settled. The contract
// becomes funded and both parties are notified. The returned bool
// reports whether this call applied the transition; when false the
// record is returned as found and no side effects ran.
func (s *Service) MarkFunded(ctx context.Context, id string) (*EscrowPayment, bool, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.mark_funded", traces.EscrowID(id))
	defer span.End()

	e, applied, err := s.transition(ctx, id, []Status{StatusPending}, StatusFunded, "")
	if err != nil || !applied {
		return e, false, err
	}

	if err := s.contracts.MarkFunded(ctx, e.ContractID); err != nil {
		logging.L(ctx).Error("contract funded update failed",
			"escrow_id", e.ID, "contract_id", e.ContractID, "error", err)
	}
	s.notify(ctx, e.ClientAccountID, "escrow_funded",
		fmt.Sprintf("Your payment of %d %s is in escrow for contract %s.", e.AmountCents, e.Currency, e.ContractID))
	s.notify(ctx, e.ProviderAccountID, "escrow_funded",
		fmt.Sprintf("Contract %s is funded. You can start work.", e.ContractID))
	return e, true, nil
}

// MarkReleased pays the provider: the escrowed amount minus fees is
// credited to their platform balance and the contract completes. The
// credit fires only when this call applied the transition; a duplicate
// release notification, even under a fresh event ID, must never pay
// the provider twice.
func (s *Service) MarkReleased(ctx context.Context, id, transferID string) (*EscrowPayment, bool, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.mark_released", traces.EscrowID(id))
	defer span.End()

	e, applied, err := s.transition(ctx, id, []Status{StatusFunded}, StatusReleased, "")
	if err != nil || !applied {
		return e, false, err
	}

	if transferID != "" {
		if err := s.store.SetTransfer(ctx, e.ID, transferID); err != nil {
			logging.L(ctx).Error("transfer id write failed",
				"escrow_id", e.ID, "transfer_id", transferID, "error", err)
		}
		e.TransferID = transferID
	}

	if err := s.balances.Credit(ctx, e.ProviderAccountID, e.NetCents(), e.ID); err != nil {
		// The released status is durable; the credit is retried out of
		// band, never by reversing the transition.
		logging.L(ctx).Error("provider credit failed after release",
			"escrow_id", e.ID, "provider_account_id", e.ProviderAccountID, "error", err)
	}
	if err := s.contracts.MarkCompleted(ctx, e.ContractID); err != nil {
		logging.L(ctx).Error("contract completed update failed",
			"escrow_id", e.ID, "contract_id", e.ContractID, "error", err)
	}
	s.notify(ctx, e.ProviderAccountID, "escrow_released",
		fmt.Sprintf("Payment of %d %s released for contract %s.", e.NetCents(), e.Currency, e.ContractID))
	return e, true, nil
}

// MarkRefunded records a refund to the client; the contract is
// cancelled.
func (s *Service) MarkRefunded(ctx context.Context, id, reason string) (*EscrowPayment, bool, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.mark_refunded", traces.EscrowID(id))
	defer span.End()

	e, applied, err := s.transition(ctx, id, []Status{StatusFunded}, StatusRefunded, reason)
	if err != nil || !applied {
		return e, false, err
	}

	if err := s.contracts.MarkCancelled(ctx, e.ContractID); err != nil {
		logging.L(ctx).Error("contract cancelled update failed",
			"escrow_id", e.ID, "contract_id", e.ContractID, "error", err)
	}
	s.notify(ctx, e.ClientAccountID, "escrow_refunded",
		fmt.Sprintf("Your escrow payment of %d %s for contract %s was refunded.", e.AmountCents, e.Currency, e.ContractID))
	return e, true, nil
}

// MarkFailed records that the funding payment never settled.
func (s *Service) MarkFailed(ctx context.Context, id, reason string) (*EscrowPayment, bool, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.mark_failed", traces.EscrowID(id))
	defer span.End()

	e, applied, err := s.transition(ctx, id, []Status{StatusPending, StatusFunded}, StatusFailed, reason)
	if err != nil || !applied {
		return e, false, err
	}
	s.notify(ctx, e.ClientAccountID, "escrow_failed",
		fmt.Sprintf("Your payment for contract %s failed: %s", e.ContractID, reason))
	return e, true, nil
}

// Get returns an escrow payment by ID.
func (s *Service) Get(ctx context.Context, id string) (*EscrowPayment, error) {
	return s.store.Get(ctx, id)
}

// GetByPaymentIntent resolves the escrow payment a processor
// notification refers to.
func (s *Service) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*EscrowPayment, error) {
	return s.store.GetByPaymentIntent(ctx, paymentIntentID)
}

// ListByContract returns a contract's escrow payments.
func (s *Service) ListByContract(ctx context.Context, contractID string) ([]*EscrowPayment, error) {
	return s.store.ListByContract(ctx, contractID)
}

// transition applies the compare-and-set. On a mismatch it returns the
// record as it currently stands with applied false and a nil error; the
// current status alone cannot tell a fresh transition apart from a
// duplicate already sitting in the target state, and dependent effects
// must fire exactly once.
func (s *Service) transition(ctx context.Context, id string, from []Status, to Status, reason string) (*EscrowPayment, bool, error) {
	e, err := s.store.UpdateStatus(ctx, id, from, to, reason)
	if err == nil {
		metrics.StateTransitionsTotal.WithLabelValues("escrow", string(to)).Inc()
		logging.L(ctx).Info("escrow transition applied", "escrow_id", id, "status", string(to))
		return e, true, nil
	}
	if errors.Is(err, ErrTransitionRejected) {
		metrics.TransitionsRejectedTotal.WithLabelValues("escrow").Inc()
		current, getErr := s.store.Get(ctx, id)
		if getErr != nil {
			return nil, false, getErr
		}
		logging.L(ctx).Warn("escrow transition rejected",
			"escrow_id", id, "current_status", string(current.Status), "attempted", string(to))
		return current, false, nil
	}
	return nil, false, err
}

func (s *Service) notify(ctx context.Context, accountID, kind, message string) {
	if s.notifier == nil || accountID == "" {
		return
	}
	if err := s.notifier.Notify(ctx, accountID, kind, message); err != nil {
		logging.L(ctx).Warn("notification insert failed", "kind", kind, "error", err)
	}
}
