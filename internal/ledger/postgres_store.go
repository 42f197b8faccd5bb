package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clearhold/clearhold/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL. Balance rows carry a
// CHECK (available_cents >= 0) constraint so a racing hold cannot
// overdraw an account regardless of application-level checks.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Balance(ctx context.Context, accountID string) (*Balance, error) {
	b := &Balance{AccountID: accountID}
	err := p.db.QueryRowContext(ctx, `
		SELECT available_cents, pending_cents, withdrawn_cents, updated_at
		FROM account_balances WHERE account_id = $1
	`, accountID).Scan(&b.AvailableCents, &b.PendingCents, &b.WithdrawnCents, &b.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Balance{AccountID: accountID, UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (p *PostgresStore) Credit(ctx context.Context, accountID string, amountCents int64, reference string) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO account_balances (account_id, available_cents, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			available_cents = account_balances.available_cents + $2,
			updated_at      = NOW()
	`, accountID, amountCents)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}

	if err := p.insertEntry(ctx, tx, accountID, EntryCredit, amountCents, reference); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Hold(ctx context.Context, accountID string, amountCents int64, reference string) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Single atomic move; the CHECK constraint rejects overdrafts.
	result, err := tx.ExecContext(ctx, `
		UPDATE account_balances SET
			available_cents = available_cents - $2,
			pending_cents   = pending_cents + $2,
			updated_at      = NOW()
		WHERE account_id = $1
	`, accountID, amountCents)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrAccountNotFound
	}

	if err := p.insertEntry(ctx, tx, accountID, EntryHold, amountCents, reference); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) ConfirmHold(ctx context.Context, accountID string, amountCents int64, reference string) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE account_balances SET
			pending_cents   = pending_cents - $2,
			withdrawn_cents = withdrawn_cents + $2,
			updated_at      = NOW()
		WHERE account_id = $1
	`, accountID, amountCents)
	if err != nil {
		return fmt.Errorf("confirm hold: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrAccountNotFound
	}

	if err := p.insertEntry(ctx, tx, accountID, EntryConfirm, amountCents, reference); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) ReleaseHold(ctx context.Context, accountID string, amountCents int64, reference string) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE account_balances SET
			pending_cents   = pending_cents - $2,
			available_cents = available_cents + $2,
			updated_at      = NOW()
		WHERE account_id = $1
	`, accountID, amountCents)
	if err != nil {
		return fmt.Errorf("release hold: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrAccountNotFound
	}

	if err := p.insertEntry(ctx, tx, accountID, EntryRelease, amountCents, reference); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) HeldSince(ctx context.Context, accountID string, since time.Time) (int64, error) {
	var total int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM balance_entries
		WHERE account_id = $1 AND type = 'hold' AND created_at >= $2
	`, accountID, since).Scan(&total)
	return total, err
}

func (p *PostgresStore) History(ctx context.Context, accountID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, account_id, type, amount_cents, COALESCE(reference, ''), created_at
		FROM balance_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Type, &e.AmountCents, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) insertEntry(ctx context.Context, tx *sql.Tx, accountID string, typ EntryType, amountCents int64, reference string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balance_entries (id, account_id, type, amount_cents, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, idgen.WithPrefix("le"), accountID, typ, amountCents, reference)
	if err != nil {
		return fmt.Errorf("record entry: %w", err)
	}
	return nil
}
