package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/clearhold/clearhold/internal/circuitbreaker"
	"github.com/clearhold/clearhold/internal/retry"
)

const (
	maxAttempts = 3
	retryBase   = 200 * time.Millisecond
)

// StripeClient implements Client against the Stripe API.
type StripeClient struct {
	api     *client.API
	timeout time.Duration
	breaker *circuitbreaker.Breaker
}

// NewStripeClient creates a Stripe-backed processor client. timeout
// bounds each individual API call.
func NewStripeClient(apiKey string, timeout time.Duration) *StripeClient {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeClient{
		api:     api,
		timeout: timeout,
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

func (s *StripeClient) CreatePayout(ctx context.Context, req CreatePayoutRequest) (*Payout, error) {
	params := &stripe.PayoutParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.DestinationID),
		Description: stripe.String(req.Description),
	}
	if req.Instant {
		params.Method = stripe.String("instant")
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}

	var out *stripe.Payout
	err := s.call(ctx, "create_payout", func(cctx context.Context) error {
		params.Context = cctx
		p, err := s.api.Payouts.New(params)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toPayout(out), nil
}

func (s *StripeClient) CancelPayout(ctx context.Context, payoutID string) (*Payout, error) {
	var out *stripe.Payout
	err := s.call(ctx, "cancel_payout", func(cctx context.Context) error {
		p, err := s.api.Payouts.Cancel(payoutID, &stripe.PayoutParams{
			Params: stripe.Params{Context: cctx},
		})
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toPayout(out), nil
}

func (s *StripeClient) GetTransfer(ctx context.Context, transferID string) (*Transfer, error) {
	var out *stripe.Transfer
	err := s.call(ctx, "get_transfer", func(cctx context.Context) error {
		t, err := s.api.Transfers.Get(transferID, &stripe.TransferParams{
			Params: stripe.Params{Context: cctx},
		})
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	tr := &Transfer{
		ID:          out.ID,
		AmountCents: out.Amount,
		Currency:    string(out.Currency),
		Reversed:    out.Reversed,
	}
	if out.Destination != nil {
		tr.Destination = out.Destination.ID
	}
	return tr, nil
}

func (s *StripeClient) CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64) (*Refund, error) {
	var out *stripe.Refund
	err := s.call(ctx, "create_refund", func(cctx context.Context) error {
		r, err := s.api.Refunds.New(&stripe.RefundParams{
			Params:        stripe.Params{Context: cctx},
			PaymentIntent: stripe.String(paymentIntentID),
			Amount:        stripe.Int64(amountCents),
		})
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Refund{ID: out.ID, Status: string(out.Status), AmountCents: out.Amount}, nil
}

// call runs fn behind the circuit breaker with bounded retries and a
// per-attempt timeout. Processor-side 4xx rejections are permanent;
// everything else is treated as transient.
func (s *StripeClient) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if !s.breaker.Allow(op) {
		return fmt.Errorf("%w: circuit open for %s", ErrUnavailable, op)
	}

	err := retry.Do(ctx, maxAttempts, retryBase, func() error {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		if err := fn(cctx); err != nil {
			if isPermanent(err) {
				return retry.Permanent(fmt.Errorf("%w: %v", ErrRejected, err))
			}
			return err
		}
		return nil
	})

	if err != nil {
		s.breaker.RecordFailure(op)
		return err
	}
	s.breaker.RecordSuccess(op)
	return nil
}

// isPermanent reports whether a Stripe error should not be retried.
func isPermanent(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500
	}
	return false
}

func toPayout(p *stripe.Payout) *Payout {
	out := &Payout{
		ID:          p.ID,
		Status:      string(p.Status),
		AmountCents: p.Amount,
		Currency:    string(p.Currency),
	}
	if p.Destination != nil {
		out.Destination = p.Destination.ID
	}
	return out
}
