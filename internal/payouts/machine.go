package payouts

import (
	"context"
	"errors"
	"fmt"

	"github.com/clearhold/clearhold/internal/logging"
	"github.com/clearhold/clearhold/internal/metrics"
)

// Ledger abstracts the balance operations the state machine settles
// holds through, so payouts does not import the ledger package.
type Ledger interface {
	ConfirmHold(ctx context.Context, accountID string, amountCents int64, reference string) error
	ReleaseHold(ctx context.Context, accountID string, amountCents int64, reference string) error
}

// Notifier delivers best-effort user notifications. Failures never roll
// back the state transition that triggered them.
type Notifier interface {
	Notify(ctx context.Context, accountID, kind, message string) error
}

// Machine applies withdrawal state transitions. Every transition is a
// compare-and-set at the store; a mismatch (out-of-order or duplicate
// notification) is logged and discarded, and the current record is
// returned unchanged. Ledger settlement happens after the durable
// transition: the status row is the durability boundary.
type Machine struct {
	store    Store
	ledger   Ledger
	notifier Notifier
}

func NewMachine(store Store, ledger Ledger) *Machine {
	return &Machine{store: store, ledger: ledger}
}

// WithNotifier adds a notification sink for terminal transitions.
func (m *Machine) WithNotifier(n Notifier) *Machine {
	m.notifier = n
	return m
}

// MarkQueued moves a freshly initiated request into the queued state.
func (m *Machine) MarkQueued(ctx context.Context, id string) (*WithdrawalRequest, bool, error) {
	return m.transition(ctx, id, []Status{StatusRequested}, StatusQueued, "")
}

// MarkProcessing records that the processor has picked up the payout.
func (m *Machine) MarkProcessing(ctx context.Context, id string) (*WithdrawalRequest, bool, error) {
	return m.transition(ctx, id, []Status{StatusQueued}, StatusProcessing, "")
}

// MarkPaid finalizes a successful payout: the pending hold is converted
// into a confirmed withdrawal. Accepted from queued as well as
// processing because the processor may deliver the paid notification
// before any intermediate one. Settlement and the notification run
// only when this call applied the transition; a duplicate paid
// notification under a fresh event ID settles nothing.
func (m *Machine) MarkPaid(ctx context.Context, id string) (*WithdrawalRequest, bool, error) {
	w, applied, err := m.transition(ctx, id, []Status{StatusQueued, StatusProcessing}, StatusPaid, "")
	if err != nil || !applied {
		return w, false, err
	}

	if err := m.ledger.ConfirmHold(ctx, w.AccountID, w.AmountCents, w.ID); err != nil {
		// The paid status is already durable. Settlement is retried out
		// of band, never by reversing the transition.
		logging.L(ctx).Error("hold confirmation failed after paid transition",
			"withdrawal_id", w.ID, "account_id", w.AccountID, "error", err)
	}
	m.notify(ctx, w, "withdrawal_paid", fmt.Sprintf("Your withdrawal of %d %s was paid out.", w.AmountCents, w.Currency))
	metrics.WithdrawalsTotal.WithLabelValues("paid").Inc()
	return w, true, nil
}

// MarkFailed finalizes a failed payout and releases the held funds back
// to the available balance.
func (m *Machine) MarkFailed(ctx context.Context, id, reason string) (*WithdrawalRequest, bool, error) {
	w, applied, err := m.transition(ctx, id, []Status{StatusRequested, StatusQueued, StatusProcessing}, StatusFailed, reason)
	if err != nil || !applied {
		return w, false, err
	}
	m.releaseHold(ctx, w)
	m.notify(ctx, w, "withdrawal_failed", fmt.Sprintf("Your withdrawal of %d %s failed: %s", w.AmountCents, w.Currency, reason))
	metrics.WithdrawalsTotal.WithLabelValues("failed").Inc()
	return w, true, nil
}

// MarkReturned handles a payout bounced back by the receiving bank.
func (m *Machine) MarkReturned(ctx context.Context, id, reason string) (*WithdrawalRequest, bool, error) {
	w, applied, err := m.transition(ctx, id, []Status{StatusQueued, StatusProcessing}, StatusReturned, reason)
	if err != nil || !applied {
		return w, false, err
	}
	m.releaseHold(ctx, w)
	m.notify(ctx, w, "withdrawal_returned", fmt.Sprintf("Your withdrawal of %d %s was returned by the bank.", w.AmountCents, w.Currency))
	metrics.WithdrawalsTotal.WithLabelValues("returned").Inc()
	return w, true, nil
}

// Cancel handles a processor-side cancellation. Only possible before
// the processor commits; once a payout is paid this is a no-op.
func (m *Machine) Cancel(ctx context.Context, id, reason string) (*WithdrawalRequest, bool, error) {
	w, applied, err := m.transition(ctx, id, []Status{StatusQueued, StatusProcessing}, StatusCancelled, reason)
	if err != nil || !applied {
		return w, false, err
	}
	m.releaseHold(ctx, w)
	m.notify(ctx, w, "withdrawal_cancelled", fmt.Sprintf("Your withdrawal of %d %s was cancelled.", w.AmountCents, w.Currency))
	metrics.WithdrawalsTotal.WithLabelValues("cancelled").Inc()
	return w, true, nil
}

// Approve releases a parked request back onto the initiation path. The
// coordinator drives the rest (hold, processor call, queued). Only the
// call that applied the transition may initiate; a concurrent approval
// losing the compare-and-set gets applied false.
func (m *Machine) Approve(ctx context.Context, id string) (*WithdrawalRequest, bool, error) {
	return m.transition(ctx, id, []Status{StatusPendingReview}, StatusRequested, "")
}

// Reject finalizes a parked request as failed. No hold exists for a
// pending_review request, so nothing is released.
func (m *Machine) Reject(ctx context.Context, id, reason string) (*WithdrawalRequest, bool, error) {
	w, applied, err := m.transition(ctx, id, []Status{StatusPendingReview}, StatusFailed, reason)
	if err != nil || !applied {
		return w, false, err
	}
	m.notify(ctx, w, "withdrawal_rejected", fmt.Sprintf("Your withdrawal of %d %s was rejected: %s", w.AmountCents, w.Currency, reason))
	metrics.WithdrawalsTotal.WithLabelValues("rejected").Inc()
	return w, true, nil
}

// transition applies the compare-and-set. A rejected transition returns
// the record as it currently stands with applied false and a nil error;
// the current status alone cannot tell a fresh transition apart from a
// duplicate already sitting in the target state, and settlement must
// run exactly once.
func (m *Machine) transition(ctx context.Context, id string, from []Status, to Status, reason string) (*WithdrawalRequest, bool, error) {
	w, err := m.store.UpdateStatus(ctx, id, from, to, reason)
	if err == nil {
		metrics.StateTransitionsTotal.WithLabelValues("payout", string(to)).Inc()
		logging.L(ctx).Info("withdrawal transition applied",
			"withdrawal_id", id, "status", string(to))
		return w, true, nil
	}
	if errors.Is(err, ErrTransitionRejected) {
		metrics.TransitionsRejectedTotal.WithLabelValues("payout").Inc()
		current, getErr := m.store.Get(ctx, id)
		if getErr != nil {
			return nil, false, getErr
		}
		logging.L(ctx).Warn("withdrawal transition rejected",
			"withdrawal_id", id, "current_status", string(current.Status), "attempted", string(to))
		return current, false, nil
	}
	return nil, false, err
}

func (m *Machine) releaseHold(ctx context.Context, w *WithdrawalRequest) {
	if err := m.ledger.ReleaseHold(ctx, w.AccountID, w.AmountCents, w.ID); err != nil {
		logging.L(ctx).Error("hold release failed after terminal transition",
			"withdrawal_id", w.ID, "account_id", w.AccountID, "error", err)
	}
}

func (m *Machine) notify(ctx context.Context, w *WithdrawalRequest, kind, message string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, w.AccountID, kind, message); err != nil {
		logging.L(ctx).Warn("notification insert failed",
			"withdrawal_id", w.ID, "kind", kind, "error", err)
	}
}
