//go:build integration

package payouts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clearhold/clearhold/internal/testutil"
)

func newWithdrawal(id, accountID, key string) *WithdrawalRequest {
	now := time.Now().Truncate(time.Microsecond)
	return &WithdrawalRequest{
		ID:             id,
		AccountID:      accountID,
		AmountCents:    25_000,
		Currency:       "usd",
		PayoutMethodID: "pm_test",
		Urgency:        UrgencyStandard,
		Status:         StatusRequested,
		IdempotencyKey: key,
		RiskScore:      12,
		RiskFlags:      []string{"new_account"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestPostgresWithdrawal_CreateAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	w := newWithdrawal("wd_pg_1", "acct_pg_1", "key-1")
	if err := store.Create(ctx, w); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "wd_pg_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusRequested {
		t.Errorf("Status: got %s, want %s", got.Status, StatusRequested)
	}
	if got.AmountCents != 25_000 {
		t.Errorf("AmountCents: got %d, want 25000", got.AmountCents)
	}
	if len(got.RiskFlags) != 1 || got.RiskFlags[0] != "new_account" {
		t.Errorf("RiskFlags: got %v", got.RiskFlags)
	}

	if _, err := store.Get(ctx, "wd_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresWithdrawal_IdempotencyKeyUnique(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.Create(ctx, newWithdrawal("wd_pg_1", "acct_pg_1", "key-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	err := store.Create(ctx, newWithdrawal("wd_pg_2", "acct_pg_1", "key-1"))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	// The same key under another account is a different request.
	if err := store.Create(ctx, newWithdrawal("wd_pg_3", "acct_pg_2", "key-1")); err != nil {
		t.Fatalf("Create for other account failed: %v", err)
	}

	got, err := store.GetByIdempotencyKey(ctx, "acct_pg_1", "key-1")
	if err != nil {
		t.Fatalf("GetByIdempotencyKey failed: %v", err)
	}
	if got.ID != "wd_pg_1" {
		t.Errorf("expected original record, got %s", got.ID)
	}
}

func TestPostgresWithdrawal_UpdateStatusCAS(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.Create(ctx, newWithdrawal("wd_pg_1", "acct_pg_1", "key-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.UpdateStatus(ctx, "wd_pg_1", []Status{StatusRequested}, StatusQueued, "")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if got.Status != StatusQueued {
		t.Errorf("expected queued, got %s", got.Status)
	}

	// Wrong precondition is rejected, record untouched.
	_, err = store.UpdateStatus(ctx, "wd_pg_1", []Status{StatusRequested}, StatusPaid, "")
	if !errors.Is(err, ErrTransitionRejected) {
		t.Fatalf("expected ErrTransitionRejected, got %v", err)
	}
	got, _ = store.Get(ctx, "wd_pg_1")
	if got.Status != StatusQueued {
		t.Errorf("record changed after rejected transition: %s", got.Status)
	}

	// Missing record is not-found, not rejected.
	_, err = store.UpdateStatus(ctx, "wd_missing", []Status{StatusQueued}, StatusPaid, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// A failure reason persists.
	got, err = store.UpdateStatus(ctx, "wd_pg_1", []Status{StatusQueued}, StatusFailed, "account closed")
	if err != nil {
		t.Fatalf("UpdateStatus to failed: %v", err)
	}
	if got.FailureReason != "account closed" {
		t.Errorf("FailureReason: got %q", got.FailureReason)
	}
}

func TestPostgresWithdrawal_AttachPayoutLookup(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.Create(ctx, newWithdrawal("wd_pg_1", "acct_pg_1", "key-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.AttachPayout(ctx, "wd_pg_1", "po_pg_1"); err != nil {
		t.Fatalf("AttachPayout failed: %v", err)
	}

	got, err := store.GetByProcessorPayoutID(ctx, "po_pg_1")
	if err != nil {
		t.Fatalf("GetByProcessorPayoutID failed: %v", err)
	}
	if got.ID != "wd_pg_1" {
		t.Errorf("expected wd_pg_1, got %s", got.ID)
	}
}

func TestPostgresWithdrawal_HistoryCounts(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	for i, status := range []Status{StatusPaid, StatusFailed, StatusFailed} {
		w := newWithdrawal("wd_pg_"+string(rune('a'+i)), "acct_pg_1", "key-"+string(rune('a'+i)))
		w.Status = status
		if err := store.Create(ctx, w); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	since := time.Now().Add(-time.Hour)
	total, err := store.CountSince(ctx, "acct_pg_1", since)
	if err != nil || total != 3 {
		t.Errorf("CountSince: got %d, %v", total, err)
	}
	failed, err := store.CountFailedSince(ctx, "acct_pg_1", since)
	if err != nil || failed != 2 {
		t.Errorf("CountFailedSince: got %d, %v", failed, err)
	}
	avg, err := store.AverageAmountCents(ctx, "acct_pg_1")
	if err != nil || avg != 25_000 {
		t.Errorf("AverageAmountCents: got %d, %v", avg, err)
	}
}

func TestPostgresPayoutMethods(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	m := &PayoutMethod{
		ID:        "pm_pg_1",
		AccountID: "acct_pg_1",
		Rail:      "bank_account",
		Display:   "****4242",
		AddedAt:   time.Now().Truncate(time.Microsecond),
	}
	if err := store.CreateMethod(ctx, m); err != nil {
		t.Fatalf("CreateMethod failed: %v", err)
	}

	got, err := store.GetMethod(ctx, "pm_pg_1")
	if err != nil {
		t.Fatalf("GetMethod failed: %v", err)
	}
	if got.Verified {
		t.Error("new method should be unverified")
	}

	at := time.Now().Truncate(time.Microsecond)
	if err := store.MarkVerified(ctx, "pm_pg_1", at); err != nil {
		t.Fatalf("MarkVerified failed: %v", err)
	}
	got, _ = store.GetMethod(ctx, "pm_pg_1")
	if !got.Verified || got.VerifiedAt == nil {
		t.Error("expected verified with timestamp")
	}

	list, err := store.ListMethods(ctx, "acct_pg_1")
	if err != nil || len(list) != 1 {
		t.Errorf("ListMethods: got %d, %v", len(list), err)
	}

	if _, err := store.GetMethod(ctx, "pm_missing"); !errors.Is(err, ErrMethodNotFound) {
		t.Errorf("expected ErrMethodNotFound, got %v", err)
	}
}
