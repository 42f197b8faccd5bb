package server

import (
	"context"
	"errors"
	"time"

	"github.com/clearhold/clearhold/internal/accounts"
	"github.com/clearhold/clearhold/internal/audit"
	"github.com/clearhold/clearhold/internal/ledger"
	"github.com/clearhold/clearhold/internal/payouts"
	"github.com/clearhold/clearhold/internal/risk"
)

// historyReader assembles the point-in-time reads the risk collectors
// need from the individual stores. Each method is a thin projection;
// the stores are safe for the collectors' concurrent reads.
type historyReader struct {
	accounts    accounts.Store
	withdrawals payouts.Store
	methods     payouts.MethodStore
	balances    ledger.Store
	auditLog    audit.Store
}

var _ risk.HistoryReader = (*historyReader)(nil)

func (r *historyReader) Account(ctx context.Context, accountID string) (*risk.Account, error) {
	a, err := r.accounts.Get(ctx, accountID)
	if err != nil {
		// The collectors distinguish a missing record from a failed
		// read; the store sentinel must come through as risk.ErrNotFound
		// or an unknown account scores signal_unavailable instead of
		// account_unknown.
		if errors.Is(err, accounts.ErrNotFound) {
			return nil, risk.ErrNotFound
		}
		return nil, err
	}
	return &risk.Account{
		ID:               a.ID,
		IdentityVerified: a.IdentityVerified,
		DailyLimitCents:  a.DailyLimitCents,
		CreatedAt:        a.CreatedAt,
	}, nil
}

func (r *historyReader) PayoutMethod(ctx context.Context, methodID string) (*risk.PayoutMethod, error) {
	m, err := r.methods.GetMethod(ctx, methodID)
	if err != nil {
		if errors.Is(err, payouts.ErrMethodNotFound) {
			return nil, risk.ErrNotFound
		}
		return nil, err
	}
	return &risk.PayoutMethod{
		ID:        m.ID,
		AccountID: m.AccountID,
		Verified:  m.Verified,
		AddedAt:   m.AddedAt,
	}, nil
}

func (r *historyReader) FailedWithdrawals(ctx context.Context, accountID string, since time.Time) (int, error) {
	return r.withdrawals.CountFailedSince(ctx, accountID, since)
}

func (r *historyReader) WithdrawalAttempts(ctx context.Context, accountID string, since time.Time) (int, error) {
	return r.withdrawals.CountSince(ctx, accountID, since)
}

func (r *historyReader) AverageWithdrawalCents(ctx context.Context, accountID string) (int64, error) {
	return r.withdrawals.AverageAmountCents(ctx, accountID)
}

func (r *historyReader) HeldTodayCents(ctx context.Context, accountID string, since time.Time) (int64, error) {
	return r.balances.HeldSince(ctx, accountID, since)
}

func (r *historyReader) AttemptEvents(ctx context.Context, accountID string, since time.Time) (int, error) {
	return r.auditLog.CountByType(ctx, accountID, audit.EventWithdrawalAttempt, since)
}

func (r *historyReader) RecentSourceIPs(ctx context.Context, accountID string, limit int) ([]string, error) {
	return r.auditLog.RecentSourceIPs(ctx, accountID, limit)
}
