package escrow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and for running without a
// database.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[string]*EscrowPayment
	byIntent map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]*EscrowPayment),
		byIntent: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, e *EscrowPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.payments[e.ID] = &cp
	if e.PaymentIntentID != "" {
		m.byIntent[e.PaymentIntentID] = e.ID
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*EscrowPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*EscrowPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byIntent[paymentIntentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.payments[id]
	return &cp, nil
}

func (m *MemoryStore) ListByContract(ctx context.Context, contractID string) ([]*EscrowPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*EscrowPayment
	for _, e := range m.payments {
		if e.ContractID == contractID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, from []Status, to Status, reason string) (*EscrowPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}

	matched := false
	for _, f := range from {
		if e.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrTransitionRejected
	}

	e.Status = to
	if reason != "" {
		e.FailureReason = reason
	}
	e.UpdatedAt = time.Now()
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) SetTransfer(ctx context.Context, id, transferID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.payments[id]
	if !ok {
		return ErrNotFound
	}
	e.TransferID = transferID
	e.UpdatedAt = time.Now()
	return nil
}

var _ Store = (*MemoryStore)(nil)
