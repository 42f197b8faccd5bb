package notify

import (
	"context"
	"sync"

	"github.com/clearhold/clearhold/internal/pagination"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu            sync.RWMutex
	notifications []*Notification
	byID          map[string]*Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Notification)}
}

func (m *MemoryStore) Create(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.notifications = append(m.notifications, &cp)
	m.byID[n.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByAccount(ctx context.Context, accountID string, before *pagination.Cursor, limit int) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Notification
	for i := len(m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		n := m.notifications[i]
		if n.AccountID != accountID {
			continue
		}
		if before != nil && !olderThan(n, before) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

// olderThan orders by (created_at, id) descending, matching the SQL
// keyset comparison.
func olderThan(n *Notification, c *pagination.Cursor) bool {
	if n.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return n.CreatedAt.Equal(c.CreatedAt) && n.ID < c.ID
}

func (m *MemoryStore) MarkRead(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	n.Read = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
