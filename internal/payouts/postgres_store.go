package payouts

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists withdrawal requests and payout methods in
// PostgreSQL. The compare-and-set in UpdateStatus is a single UPDATE
// guarded on the current status, so concurrent transitions race at the
// row, not in application code.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const withdrawalColumns = `id, account_id, amount_cents, currency, payout_method_id, urgency,
	       status, idempotency_key, processor_payout_id, risk_score, risk_flags,
	       failure_reason, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, w *WithdrawalRequest) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO withdrawal_requests (
			id, account_id, amount_cents, currency, payout_method_id, urgency,
			status, idempotency_key, processor_payout_id, risk_score, risk_flags,
			failure_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		w.ID, w.AccountID, w.AmountCents, w.Currency, w.PayoutMethodID, string(w.Urgency),
		string(w.Status), w.IdempotencyKey, nullString(w.ProcessorPayoutID),
		w.RiskScore, pq.Array(w.RiskFlags), nullString(w.FailureReason),
		w.CreatedAt, w.UpdatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateKey
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*WithdrawalRequest, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id)
	w, err := scanWithdrawal(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return w, err
}

func (p *PostgresStore) GetByIdempotencyKey(ctx context.Context, accountID, key string) (*WithdrawalRequest, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests
		 WHERE account_id = $1 AND idempotency_key = $2`, accountID, key)
	w, err := scanWithdrawal(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return w, err
}

func (p *PostgresStore) GetByProcessorPayoutID(ctx context.Context, payoutID string) (*WithdrawalRequest, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests
		 WHERE processor_payout_id = $1`, payoutID)
	w, err := scanWithdrawal(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return w, err
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, from []Status, to Status, reason string) (*WithdrawalRequest, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	row := p.db.QueryRowContext(ctx, `
		UPDATE withdrawal_requests
		SET status = $2,
		    failure_reason = COALESCE(NULLIF($3, ''), failure_reason),
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+withdrawalColumns,
		id, string(to), reason, pq.Array(fromStrs),
	)
	w, err := scanWithdrawal(row)
	if err == sql.ErrNoRows {
		// Distinguish a missing record from a state mismatch.
		var exists bool
		checkErr := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM withdrawal_requests WHERE id = $1)`, id).Scan(&exists)
		if checkErr != nil {
			return nil, checkErr
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrTransitionRejected
	}
	return w, err
}

func (p *PostgresStore) AttachPayout(ctx context.Context, id, processorPayoutID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE withdrawal_requests
		SET processor_payout_id = $2, updated_at = NOW()
		WHERE id = $1`, id, processorPayoutID)
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

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*WithdrawalRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanWithdrawals(rows)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*WithdrawalRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanWithdrawals(rows)
}

func (p *PostgresStore) CountSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM withdrawal_requests
		WHERE account_id = $1 AND created_at >= $2`, accountID, since).Scan(&n)
	return n, err
}

func (p *PostgresStore) CountFailedSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM withdrawal_requests
		WHERE account_id = $1 AND status = 'failed' AND created_at >= $2`, accountID, since).Scan(&n)
	return n, err
}

func (p *PostgresStore) AverageAmountCents(ctx context.Context, accountID string) (int64, error) {
	var avg sql.NullFloat64
	err := p.db.QueryRowContext(ctx, `
		SELECT AVG(amount_cents) FROM withdrawal_requests
		WHERE account_id = $1`, accountID).Scan(&avg)
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return int64(avg.Float64), nil
}

func (p *PostgresStore) CreateMethod(ctx context.Context, m *PayoutMethod) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payout_methods (id, account_id, rail, display, verified, verified_at, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.AccountID, m.Rail, m.Display, m.Verified, nullTime(m.VerifiedAt), m.AddedAt)
	return err
}

func (p *PostgresStore) GetMethod(ctx context.Context, id string) (*PayoutMethod, error) {
	m := &PayoutMethod{}
	var verifiedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, account_id, rail, display, verified, verified_at, added_at
		FROM payout_methods WHERE id = $1`, id).Scan(
		&m.ID, &m.AccountID, &m.Rail, &m.Display, &m.Verified, &verifiedAt, &m.AddedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMethodNotFound
	}
	if err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		m.VerifiedAt = &verifiedAt.Time
	}
	return m, nil
}

func (p *PostgresStore) ListMethods(ctx context.Context, accountID string) ([]*PayoutMethod, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, account_id, rail, display, verified, verified_at, added_at
		FROM payout_methods
		WHERE account_id = $1
		ORDER BY added_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*PayoutMethod
	for rows.Next() {
		m := &PayoutMethod{}
		var verifiedAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.AccountID, &m.Rail, &m.Display, &m.Verified, &verifiedAt, &m.AddedAt); err != nil {
			return nil, err
		}
		if verifiedAt.Valid {
			m.VerifiedAt = &verifiedAt.Time
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkVerified(ctx context.Context, id string, at time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payout_methods SET verified = TRUE, verified_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrMethodNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWithdrawal(s scanner) (*WithdrawalRequest, error) {
	w := &WithdrawalRequest{}
	var (
		urgency           string
		status            string
		processorPayoutID sql.NullString
		failureReason     sql.NullString
		flags             pq.StringArray
	)
	err := s.Scan(
		&w.ID, &w.AccountID, &w.AmountCents, &w.Currency, &w.PayoutMethodID, &urgency,
		&status, &w.IdempotencyKey, &processorPayoutID, &w.RiskScore, &flags,
		&failureReason, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Urgency = Urgency(urgency)
	w.Status = Status(status)
	w.ProcessorPayoutID = processorPayoutID.String
	w.FailureReason = failureReason.String
	w.RiskFlags = []string(flags)
	return w, nil
}

func scanWithdrawals(rows *sql.Rows) ([]*WithdrawalRequest, error) {
	var out []*WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var (
	_ Store       = (*PostgresStore)(nil)
	_ MethodStore = (*PostgresStore)(nil)
)
