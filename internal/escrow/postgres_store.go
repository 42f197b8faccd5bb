package escrow

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists escrow payments in PostgreSQL. The
// compare-and-set in UpdateStatus is a single guarded UPDATE; the
// funded amount column is never touched after insert.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `id, contract_id, client_account_id, provider_account_id,
	       amount_cents, platform_fee_cents, provider_fee_cents, currency,
	       status, payment_intent_id, transfer_id, failure_reason,
	       created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, e *EscrowPayment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_payments (
			id, contract_id, client_account_id, provider_account_id,
			amount_cents, platform_fee_cents, provider_fee_cents, currency,
			status, payment_intent_id, transfer_id, failure_reason,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.ContractID, e.ClientAccountID, e.ProviderAccountID,
		e.AmountCents, e.PlatformFeeCents, e.ProviderFeeCents, e.Currency,
		string(e.Status), nullString(e.PaymentIntentID), nullString(e.TransferID),
		nullString(e.FailureReason), e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*EscrowPayment, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow_payments WHERE id = $1`, id)
	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return e, err
}

func (p *PostgresStore) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*EscrowPayment, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow_payments WHERE payment_intent_id = $1`, paymentIntentID)
	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return e, err
}

func (p *PostgresStore) ListByContract(ctx context.Context, contractID string) ([]*EscrowPayment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrow_payments
		WHERE contract_id = $1
		ORDER BY created_at DESC`, contractID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*EscrowPayment
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, from []Status, to Status, reason string) (*EscrowPayment, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	row := p.db.QueryRowContext(ctx, `
		UPDATE escrow_payments
		SET status = $2,
		    failure_reason = COALESCE(NULLIF($3, ''), failure_reason),
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+escrowColumns,
		id, string(to), reason, pq.Array(fromStrs),
	)
	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		var exists bool
		checkErr := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM escrow_payments WHERE id = $1)`, id).Scan(&exists)
		if checkErr != nil {
			return nil, checkErr
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrTransitionRejected
	}
	return e, err
}

func (p *PostgresStore) SetTransfer(ctx context.Context, id, transferID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_payments
		SET transfer_id = $2, updated_at = NOW()
		WHERE id = $1`, id, transferID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(s scanner) (*EscrowPayment, error) {
	e := &EscrowPayment{}
	var (
		status          string
		paymentIntentID sql.NullString
		transferID      sql.NullString
		failureReason   sql.NullString
	)
	err := s.Scan(
		&e.ID, &e.ContractID, &e.ClientAccountID, &e.ProviderAccountID,
		&e.AmountCents, &e.PlatformFeeCents, &e.ProviderFeeCents, &e.Currency,
		&status, &paymentIntentID, &transferID, &failureReason,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = Status(status)
	e.PaymentIntentID = paymentIntentID.String
	e.TransferID = transferID.String
	e.FailureReason = failureReason.String
	return e, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
