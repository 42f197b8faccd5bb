package audit

import (
	"context"
	"sync"
	"time"

	"github.com/clearhold/clearhold/internal/idgen"
)

// MemoryStore is an in-memory Store for tests and DB-less deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*SecurityEvent
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, e *SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	if cp.ID == "" {
		cp.ID = idgen.WithPrefix("sec")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemoryStore) ListByAccount(_ context.Context, accountID string, limit int) ([]*SecurityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*SecurityEvent
	for i := len(m.events) - 1; i >= 0 && len(result) < limit; i-- {
		if m.events[i].AccountID == accountID {
			cp := *m.events[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) CountByType(_ context.Context, accountID string, typ EventType, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, e := range m.events {
		if e.AccountID == accountID && e.Type == typ && !e.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) RecentSourceIPs(_ context.Context, accountID string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var ips []string
	for i := len(m.events) - 1; i >= 0 && len(ips) < limit; i-- {
		e := m.events[i]
		if e.AccountID != accountID || e.Type != EventLoginSuccess || e.SourceIP == "" {
			continue
		}
		if !seen[e.SourceIP] {
			seen[e.SourceIP] = true
			ips = append(ips, e.SourceIP)
		}
	}
	return ips, nil
}
