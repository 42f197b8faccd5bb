package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/clearhold/clearhold/internal/idgen"
)

// MemoryStore implements Store with in-memory state. Used in tests and
// when no DATABASE_URL is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]*Balance
	entries  []*Entry
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[string]*Balance)}
}

func (m *MemoryStore) Balance(_ context.Context, accountID string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if b, ok := m.balances[accountID]; ok {
		cp := *b
		return &cp, nil
	}
	return &Balance{AccountID: accountID, UpdatedAt: time.Now()}, nil
}

func (m *MemoryStore) Credit(_ context.Context, accountID string, amountCents int64, reference string) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.balance(accountID)
	b.AvailableCents += amountCents
	b.UpdatedAt = time.Now()
	m.append(accountID, EntryCredit, amountCents, reference)
	return nil
}

func (m *MemoryStore) Hold(_ context.Context, accountID string, amountCents int64, reference string) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.balance(accountID)
	if b.AvailableCents < amountCents {
		return ErrInsufficientFunds
	}
	b.AvailableCents -= amountCents
	b.PendingCents += amountCents
	b.UpdatedAt = time.Now()
	m.append(accountID, EntryHold, amountCents, reference)
	return nil
}

func (m *MemoryStore) ConfirmHold(_ context.Context, accountID string, amountCents int64, reference string) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.balance(accountID)
	if b.PendingCents < amountCents {
		return ErrInsufficientFunds
	}
	b.PendingCents -= amountCents
	b.WithdrawnCents += amountCents
	b.UpdatedAt = time.Now()
	m.append(accountID, EntryConfirm, amountCents, reference)
	return nil
}

func (m *MemoryStore) ReleaseHold(_ context.Context, accountID string, amountCents int64, reference string) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.balance(accountID)
	if b.PendingCents < amountCents {
		return ErrInsufficientFunds
	}
	b.PendingCents -= amountCents
	b.AvailableCents += amountCents
	b.UpdatedAt = time.Now()
	m.append(accountID, EntryRelease, amountCents, reference)
	return nil
}

func (m *MemoryStore) HeldSince(_ context.Context, accountID string, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, e := range m.entries {
		if e.AccountID == accountID && e.Type == EntryHold && !e.CreatedAt.Before(since) {
			total += e.AmountCents
		}
	}
	return total, nil
}

func (m *MemoryStore) History(_ context.Context, accountID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].AccountID == accountID {
			cp := *m.entries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

// balance returns the live record, creating it if absent. Caller holds the lock.
func (m *MemoryStore) balance(accountID string) *Balance {
	b, ok := m.balances[accountID]
	if !ok {
		b = &Balance{AccountID: accountID}
		m.balances[accountID] = b
	}
	return b
}

// append records a movement entry. Caller holds the lock.
func (m *MemoryStore) append(accountID string, typ EntryType, amountCents int64, reference string) {
	m.entries = append(m.entries, &Entry{
		ID:          idgen.WithPrefix("le"),
		AccountID:   accountID,
		Type:        typ,
		AmountCents: amountCents,
		Reference:   reference,
		CreatedAt:   time.Now(),
	})
}
