package payouts

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store and MethodStore for tests and for
// running without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*WithdrawalRequest
	byKey    map[string]string // accountID + "\x00" + idempotencyKey → request ID
	byPayout map[string]string // processor payout ID → request ID
	methods  map[string]*PayoutMethod
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*WithdrawalRequest),
		byKey:    make(map[string]string),
		byPayout: make(map[string]string),
		methods:  make(map[string]*PayoutMethod),
	}
}

func keyOf(accountID, key string) string { return accountID + "\x00" + key }

func (m *MemoryStore) Create(ctx context.Context, w *WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w.IdempotencyKey != "" {
		if _, exists := m.byKey[keyOf(w.AccountID, w.IdempotencyKey)]; exists {
			return ErrDuplicateKey
		}
	}

	cp := *w
	m.requests[w.ID] = &cp
	if w.IdempotencyKey != "" {
		m.byKey[keyOf(w.AccountID, w.IdempotencyKey)] = w.ID
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) GetByIdempotencyKey(ctx context.Context, accountID, key string) (*WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[keyOf(accountID, key)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.requests[id]
	return &cp, nil
}

func (m *MemoryStore) GetByProcessorPayoutID(ctx context.Context, payoutID string) (*WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPayout[payoutID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.requests[id]
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, from []Status, to Status, reason string) (*WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}

	matched := false
	for _, f := range from {
		if w.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrTransitionRejected
	}

	w.Status = to
	if reason != "" {
		w.FailureReason = reason
	}
	w.UpdatedAt = time.Now()
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) AttachPayout(ctx context.Context, id, processorPayoutID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	w.ProcessorPayoutID = processorPayoutID
	w.UpdatedAt = time.Now()
	m.byPayout[processorPayoutID] = id
	return nil
}

func (m *MemoryStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*WithdrawalRequest
	for _, w := range m.requests {
		if w.AccountID == accountID {
			cp := *w
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*WithdrawalRequest
	for _, w := range m.requests {
		if w.Status == status {
			cp := *w
			out = append(out, &cp)
		}
	}
	// Oldest first: review queues are worked in arrival order.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, w := range m.requests {
		if w.AccountID == accountID && !w.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountFailedSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, w := range m.requests {
		if w.AccountID == accountID && w.Status == StatusFailed && !w.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) AverageAmountCents(ctx context.Context, accountID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum int64
	var n int64
	for _, w := range m.requests {
		if w.AccountID == accountID {
			sum += w.AmountCents
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / n, nil
}

func (m *MemoryStore) CreateMethod(ctx context.Context, pm *PayoutMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pm
	m.methods[pm.ID] = &cp
	return nil
}

func (m *MemoryStore) GetMethod(ctx context.Context, id string) (*PayoutMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pm, ok := m.methods[id]
	if !ok {
		return nil, ErrMethodNotFound
	}
	cp := *pm
	return &cp, nil
}

func (m *MemoryStore) ListMethods(ctx context.Context, accountID string) ([]*PayoutMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*PayoutMethod
	for _, pm := range m.methods {
		if pm.AccountID == accountID {
			cp := *pm
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.After(out[j].AddedAt) })
	return out, nil
}

func (m *MemoryStore) MarkVerified(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm, ok := m.methods[id]
	if !ok {
		return ErrMethodNotFound
	}
	pm.Verified = true
	pm.VerifiedAt = &at
	return nil
}

func sortNewestFirst(ws []*WithdrawalRequest) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].CreatedAt.After(ws[j].CreatedAt) })
}

var (
	_ Store       = (*MemoryStore)(nil)
	_ MethodStore = (*MemoryStore)(nil)
)
