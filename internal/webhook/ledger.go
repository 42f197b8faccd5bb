package webhook

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/lib/pq"
)

// ErrDuplicateEvent means the event identifier is already in the
// ledger. Callers resolve it to an "already processed" success.
var ErrDuplicateEvent = errors.New("event already recorded")

// ExternalEventRecord is one row of the deduplication ledger. The ID is
// the processor's globally unique event identifier; rows are only ever
// inserted or looked up, never updated.
type ExternalEventRecord struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	PayloadDigest string    `json:"payloadDigest"`
	ProcessedAt   time.Time `json:"processedAt"`
}

// EventLedger is the append-only dedup store. Insert must be atomic
// with respect to concurrent inserts of the same ID: exactly one wins,
// the rest get ErrDuplicateEvent.
type EventLedger interface {
	Insert(ctx context.Context, r *ExternalEventRecord) error
	Get(ctx context.Context, id string) (*ExternalEventRecord, error)
}

var ErrEventNotFound = errors.New("event record not found")

// MemoryLedger is an in-memory EventLedger.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]*ExternalEventRecord
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]*ExternalEventRecord)}
}

func (m *MemoryLedger) Insert(ctx context.Context, r *ExternalEventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[r.ID]; exists {
		return ErrDuplicateEvent
	}
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *MemoryLedger) Get(ctx context.Context, id string) (*ExternalEventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *r
	return &cp, nil
}

// PostgresLedger is the durable EventLedger. Uniqueness is the primary
// key on the event ID; concurrent duplicate inserts race at the
// constraint, not in application code.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (p *PostgresLedger) Insert(ctx context.Context, r *ExternalEventRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO external_events (id, type, payload_digest, processed_at)
		VALUES ($1, $2, $3, $4)`,
		r.ID, r.Type, r.PayloadDigest, r.ProcessedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateEvent
	}
	return err
}

func (p *PostgresLedger) Get(ctx context.Context, id string) (*ExternalEventRecord, error) {
	r := &ExternalEventRecord{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, type, payload_digest, processed_at
		FROM external_events WHERE id = $1`, id).Scan(
		&r.ID, &r.Type, &r.PayloadDigest, &r.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

var (
	_ EventLedger = (*MemoryLedger)(nil)
	_ EventLedger = (*PostgresLedger)(nil)
)
