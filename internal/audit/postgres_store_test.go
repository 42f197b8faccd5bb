//go:build integration

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/clearhold/clearhold/internal/testutil"
)

func TestPostgresAudit_AppendAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	err := store.Append(ctx, &SecurityEvent{
		AccountID: "acct_pg_1",
		Type:      EventWithdrawalAttempt,
		SourceIP:  "198.51.100.7",
		UserAgent: "clearhold-cli/1.0",
		RiskScore: 42,
		Flags:     []string{"new_account", "high_amount"},
		Metadata:  map[string]string{"withdrawal_id": "wd_pg_1"},
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	events, err := store.ListByAccount(ctx, "acct_pg_1", 10)
	if err != nil {
		t.Fatalf("ListByAccount failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.ID == "" {
		t.Error("expected generated ID")
	}
	if e.RiskScore != 42 || len(e.Flags) != 2 {
		t.Errorf("event mismatch: %+v", e)
	}
	if e.Metadata["withdrawal_id"] != "wd_pg_1" {
		t.Errorf("metadata round-trip failed: %v", e.Metadata)
	}
}

func TestPostgresAudit_CountByType(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.Append(ctx, &SecurityEvent{AccountID: "acct_pg_1", Type: EventWithdrawalAttempt}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := store.Append(ctx, &SecurityEvent{AccountID: "acct_pg_1", Type: EventWithdrawalReview}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, &SecurityEvent{AccountID: "acct_pg_2", Type: EventWithdrawalAttempt}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	since := time.Now().Add(-time.Minute)
	count, err := store.CountByType(ctx, "acct_pg_1", EventWithdrawalAttempt, since)
	if err != nil {
		t.Fatalf("CountByType failed: %v", err)
	}
	if count != 3 {
		t.Errorf("attempts: got %d, want 3", count)
	}

	count, err = store.CountByType(ctx, "acct_pg_1", EventWithdrawalAttempt, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("CountByType failed: %v", err)
	}
	if count != 0 {
		t.Errorf("future window: got %d, want 0", count)
	}
}

func TestPostgresAudit_RecentSourceIPs(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	// Only login events contribute addresses; duplicates collapse.
	for _, ip := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.1"} {
		if err := store.Append(ctx, &SecurityEvent{AccountID: "acct_pg_1", Type: EventLoginSuccess, SourceIP: ip}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := store.Append(ctx, &SecurityEvent{AccountID: "acct_pg_1", Type: EventWithdrawalAttempt, SourceIP: "203.0.113.9"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	ips, err := store.RecentSourceIPs(ctx, "acct_pg_1", 10)
	if err != nil {
		t.Fatalf("RecentSourceIPs failed: %v", err)
	}
	if len(ips) != 2 {
		t.Fatalf("got %d addresses, want 2: %v", len(ips), ips)
	}
	for _, ip := range ips {
		if ip == "203.0.113.9" {
			t.Error("non-login event address should not appear")
		}
	}
}
