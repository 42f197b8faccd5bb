package server

import (
	"context"
	"errors"

	"github.com/clearhold/clearhold/internal/escrow"
	"github.com/clearhold/clearhold/internal/logging"
	"github.com/clearhold/clearhold/internal/payouts"
	"github.com/clearhold/clearhold/internal/webhook"
)

// registerWebhookHandlers maps processor event types onto state
// machine transitions. Each handler resolves the local record from the
// processor object ID; an unknown reference is acknowledged rather
// than retried, since redelivery cannot make it resolvable.
func (s *Server) registerWebhookHandlers() {
	s.webhookIngest.Register("payout.created", s.onPayoutProcessing)
	s.webhookIngest.Register("payout.updated", s.onPayoutProcessing)
	s.webhookIngest.Register("payout.paid", s.onPayoutPaid)
	s.webhookIngest.Register("payout.failed", s.onPayoutFailed)
	s.webhookIngest.Register("payout.canceled", s.onPayoutCanceled)
	s.webhookIngest.Register("payout.returned", s.onPayoutReturned)

	s.webhookIngest.Register("payment_intent.succeeded", s.onPaymentSucceeded)
	s.webhookIngest.Register("payment_intent.payment_failed", s.onPaymentFailed)
	s.webhookIngest.Register("charge.refunded", s.onChargeRefunded)
	s.webhookIngest.Register("transfer.created", s.onTransferCreated)
}

// resolveWithdrawal maps a processor payout ID to the local record.
// Returns nil without error when no record references the payout.
func (s *Server) resolveWithdrawal(ctx context.Context, event *webhook.Event) (*payouts.WithdrawalRequest, *webhook.PayoutObject, error) {
	payout, err := event.Payout()
	if err != nil {
		return nil, nil, err
	}
	w, err := s.withdrawals.GetByProcessorPayoutID(ctx, payout.ID)
	if err != nil {
		if errors.Is(err, payouts.ErrNotFound) {
			logging.L(ctx).Warn("webhook references unknown payout",
				"event_type", event.Type, "payout_id", payout.ID)
			return nil, payout, nil
		}
		return nil, nil, err
	}
	return w, payout, nil
}

func (s *Server) onPayoutProcessing(ctx context.Context, event *webhook.Event) error {
	w, _, err := s.resolveWithdrawal(ctx, event)
	if err != nil || w == nil {
		return err
	}
	_, _, err = s.machine.MarkProcessing(ctx, w.ID)
	return err
}

func (s *Server) onPayoutPaid(ctx context.Context, event *webhook.Event) error {
	w, _, err := s.resolveWithdrawal(ctx, event)
	if err != nil || w == nil {
		return err
	}
	_, _, err = s.machine.MarkPaid(ctx, w.ID)
	return err
}

func (s *Server) onPayoutFailed(ctx context.Context, event *webhook.Event) error {
	w, payout, err := s.resolveWithdrawal(ctx, event)
	if err != nil || w == nil {
		return err
	}
	reason := payout.FailureMessage
	if reason == "" {
		reason = "payout failed at processor"
	}
	_, _, err = s.machine.MarkFailed(ctx, w.ID, reason)
	return err
}

func (s *Server) onPayoutCanceled(ctx context.Context, event *webhook.Event) error {
	w, payout, err := s.resolveWithdrawal(ctx, event)
	if err != nil || w == nil {
		return err
	}
	reason := payout.FailureMessage
	if reason == "" {
		reason = "payout canceled at processor"
	}
	_, _, err = s.machine.Cancel(ctx, w.ID, reason)
	return err
}

func (s *Server) onPayoutReturned(ctx context.Context, event *webhook.Event) error {
	w, payout, err := s.resolveWithdrawal(ctx, event)
	if err != nil || w == nil {
		return err
	}
	reason := payout.FailureMessage
	if reason == "" {
		reason = "payout returned by receiving bank"
	}
	_, _, err = s.machine.MarkReturned(ctx, w.ID, reason)
	return err
}

// resolveEscrow maps a processor payment intent ID to the local escrow
// record. Returns nil without error when no record references it.
func (s *Server) resolveEscrow(ctx context.Context, event *webhook.Event) (*escrow.EscrowPayment, *webhook.PaymentObject, error) {
	payment, err := event.Payment()
	if err != nil {
		return nil, nil, err
	}
	e, err := s.escrowService.GetByPaymentIntent(ctx, payment.ID)
	if err != nil {
		if errors.Is(err, escrow.ErrNotFound) {
			logging.L(ctx).Warn("webhook references unknown payment intent",
				"event_type", event.Type, "payment_intent_id", payment.ID)
			return nil, payment, nil
		}
		return nil, nil, err
	}
	return e, payment, nil
}

func (s *Server) onPaymentSucceeded(ctx context.Context, event *webhook.Event) error {
	e, _, err := s.resolveEscrow(ctx, event)
	if err != nil || e == nil {
		return err
	}
	_, _, err = s.escrowService.MarkFunded(ctx, e.ID)
	return err
}

func (s *Server) onPaymentFailed(ctx context.Context, event *webhook.Event) error {
	e, payment, err := s.resolveEscrow(ctx, event)
	if err != nil || e == nil {
		return err
	}
	reason := payment.FailureMessage
	if reason == "" {
		reason = "payment failed at processor"
	}
	_, _, err = s.escrowService.MarkFailed(ctx, e.ID, reason)
	return err
}

func (s *Server) onChargeRefunded(ctx context.Context, event *webhook.Event) error {
	e, payment, err := s.resolveEscrow(ctx, event)
	if err != nil || e == nil {
		return err
	}
	reason := payment.FailureMessage
	if reason == "" {
		reason = "charge refunded"
	}
	_, _, err = s.escrowService.MarkRefunded(ctx, e.ID, reason)
	return err
}

// onTransferCreated releases the escrow named in the transfer's
// metadata. The transfer object carries escrow_id because the release
// path sets it when creating the transfer.
func (s *Server) onTransferCreated(ctx context.Context, event *webhook.Event) error {
	payment, err := event.Payment()
	if err != nil {
		return err
	}
	if payment.Metadata.EscrowID == "" {
		logging.L(ctx).Warn("transfer event without escrow metadata", "transfer_id", payment.ID)
		return nil
	}
	_, _, err = s.escrowService.MarkReleased(ctx, payment.Metadata.EscrowID, payment.ID)
	if errors.Is(err, escrow.ErrNotFound) {
		logging.L(ctx).Warn("transfer references unknown escrow",
			"escrow_id", payment.Metadata.EscrowID, "transfer_id", payment.ID)
		return nil
	}
	return err
}
