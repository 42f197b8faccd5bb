package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/clearhold/clearhold/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, e *SecurityEvent) error {
	id := e.ID
	if id == "" {
		id = idgen.WithPrefix("sec")
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO security_events (id, account_id, event_type, source_ip, user_agent, risk_score, flags, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, id, e.AccountID, e.Type, e.SourceIP, e.UserAgent, e.RiskScore, pq.Array(e.Flags), meta)
	return err
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*SecurityEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, account_id, event_type, COALESCE(source_ip, ''), COALESCE(user_agent, ''),
		       risk_score, flags, COALESCE(metadata::TEXT, '{}'), created_at
		FROM security_events
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*SecurityEvent
	for rows.Next() {
		e := &SecurityEvent{}
		var meta string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Type, &e.SourceIP, &e.UserAgent,
			&e.RiskScore, pq.Array(&e.Flags), &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &e.Metadata)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (p *PostgresStore) CountByType(ctx context.Context, accountID string, typ EventType, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM security_events
		WHERE account_id = $1 AND event_type = $2 AND created_at >= $3
	`, accountID, typ, since).Scan(&count)
	return count, err
}

func (p *PostgresStore) RecentSourceIPs(ctx context.Context, accountID string, limit int) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT ON (source_ip) source_ip
		FROM security_events
		WHERE account_id = $1 AND event_type = $2 AND source_ip IS NOT NULL AND source_ip <> ''
		ORDER BY source_ip, created_at DESC
		LIMIT $3
	`, accountID, EventLoginSuccess, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}
		ips = append(ips, ip)
	}
	return ips, rows.Err()
}
