package contracts

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists contracts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const contractColumns = `id, client_account_id, provider_account_id, title, status, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, c *Contract) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO contracts (id, client_account_id, provider_account_id, title, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.ClientAccountID, c.ProviderAccountID, c.Title, string(c.Status), c.CreatedAt, c.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Contract, error) {
	c := &Contract{}
	var status string
	err := p.db.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id).Scan(
		&c.ID, &c.ClientAccountID, &c.ProviderAccountID, &c.Title, &status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Status = Status(status)
	return c, nil
}

func (p *PostgresStore) SetStatus(ctx context.Context, id string, from []Status, to Status) error {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE contracts
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`,
		id, string(to), pq.Array(fromStrs))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM contracts WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInvalidStatus
	}
	return nil
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Contract, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+contractColumns+`
		FROM contracts
		WHERE client_account_id = $1 OR provider_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Contract
	for rows.Next() {
		c := &Contract{}
		var status string
		if err := rows.Scan(&c.ID, &c.ClientAccountID, &c.ProviderAccountID, &c.Title, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Status = Status(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
