package processor

import (
	"context"
	"fmt"
	"sync"
)

// Stub is an in-memory Client for tests and local development. Calls
// succeed unless an error is injected, and every request is recorded.
type Stub struct {
	mu sync.Mutex

	CreateErr error
	CancelErr error
	GetErr    error
	RefundErr error

	payouts   map[string]*Payout
	byIdemKey map[string]*Payout
	created   []CreatePayoutRequest
	cancelled []string
	refunds   []string
	seq       int
}

func NewStub() *Stub {
	return &Stub{
		payouts:   make(map[string]*Payout),
		byIdemKey: make(map[string]*Payout),
	}
}

func (s *Stub) CreatePayout(ctx context.Context, req CreatePayoutRequest) (*Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	if req.IdempotencyKey != "" {
		if p, ok := s.byIdemKey[req.IdempotencyKey]; ok {
			return p, nil
		}
	}
	s.seq++
	p := &Payout{
		ID:          fmt.Sprintf("po_stub_%d", s.seq),
		Status:      "pending",
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Destination: req.DestinationID,
	}
	s.payouts[p.ID] = p
	if req.IdempotencyKey != "" {
		s.byIdemKey[req.IdempotencyKey] = p
	}
	s.created = append(s.created, req)
	return p, nil
}

func (s *Stub) CancelPayout(ctx context.Context, payoutID string) (*Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CancelErr != nil {
		return nil, s.CancelErr
	}
	p, ok := s.payouts[payoutID]
	if !ok {
		return nil, fmt.Errorf("%w: payout %s not found", ErrRejected, payoutID)
	}
	p.Status = "canceled"
	s.cancelled = append(s.cancelled, payoutID)
	return p, nil
}

func (s *Stub) GetTransfer(ctx context.Context, transferID string) (*Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	return &Transfer{ID: transferID, AmountCents: 0, Currency: "usd"}, nil
}

func (s *Stub) CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64) (*Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RefundErr != nil {
		return nil, s.RefundErr
	}
	s.seq++
	s.refunds = append(s.refunds, paymentIntentID)
	return &Refund{
		ID:          fmt.Sprintf("re_stub_%d", s.seq),
		Status:      "succeeded",
		AmountCents: amountCents,
	}, nil
}

// Created returns a copy of all create requests seen so far.
func (s *Stub) Created() []CreatePayoutRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CreatePayoutRequest, len(s.created))
	copy(out, s.created)
	return out
}

// Cancelled returns the payout IDs passed to CancelPayout.
func (s *Stub) Cancelled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.cancelled))
	copy(out, s.cancelled)
	return out
}

// Refunded returns the payment intent IDs passed to CreateRefund.
func (s *Stub) Refunded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.refunds))
	copy(out, s.refunds)
	return out
}
