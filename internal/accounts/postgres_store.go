package accounts

import (
	"context"
	"database/sql"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, a *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (id, identity_verified, daily_limit_cents, created_at)
		VALUES ($1, $2, $3, $4)
	`, a.ID, a.IdentityVerified, a.DailyLimitCents, a.CreatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	a := &Account{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, identity_verified, daily_limit_cents, created_at
		FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.IdentityVerified, &a.DailyLimitCents, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}
