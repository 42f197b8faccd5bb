package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestHoldConfirmLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Credit(ctx, "acct_1", 10_000, "seed"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := s.Hold(ctx, "acct_1", 4_000, "wd_1"); err != nil {
		t.Fatalf("hold: %v", err)
	}

	b, _ := s.Balance(ctx, "acct_1")
	if b.AvailableCents != 6_000 || b.PendingCents != 4_000 {
		t.Fatalf("unexpected balance after hold: %+v", b)
	}

	if err := s.ConfirmHold(ctx, "acct_1", 4_000, "wd_1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	b, _ = s.Balance(ctx, "acct_1")
	if b.PendingCents != 0 || b.WithdrawnCents != 4_000 {
		t.Fatalf("unexpected balance after confirm: %+v", b)
	}
}

func TestHoldReleaseRestoresAvailable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Credit(ctx, "acct_1", 5_000, "seed")
	_ = s.Hold(ctx, "acct_1", 5_000, "wd_1")

	if err := s.ReleaseHold(ctx, "acct_1", 5_000, "wd_1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	b, _ := s.Balance(ctx, "acct_1")
	if b.AvailableCents != 5_000 || b.PendingCents != 0 {
		t.Fatalf("unexpected balance after release: %+v", b)
	}
}

func TestHoldRejectsOverdraft(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Credit(ctx, "acct_1", 1_000, "seed")

	err := s.Hold(ctx, "acct_1", 2_000, "wd_1")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestConcurrentHoldsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Credit(ctx, "acct_1", 10_000, "seed")

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Hold(ctx, "acct_1", 1_000, "wd")
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 10 {
		t.Errorf("expected exactly 10 holds to succeed, got %d", succeeded)
	}
	b, _ := s.Balance(ctx, "acct_1")
	if b.AvailableCents != 0 || b.PendingCents != 10_000 {
		t.Errorf("unexpected balance: %+v", b)
	}
}

func TestHeldSinceCountsOnlyRecentHolds(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Credit(ctx, "acct_1", 10_000, "seed")
	_ = s.Hold(ctx, "acct_1", 3_000, "wd_1")
	_ = s.ReleaseHold(ctx, "acct_1", 3_000, "wd_1")
	_ = s.Hold(ctx, "acct_1", 2_000, "wd_2")

	// Releases do not refund the day's usage.
	total, err := s.HeldSince(ctx, "acct_1", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("held since: %v", err)
	}
	if total != 5_000 {
		t.Errorf("expected 5000 held today, got %d", total)
	}

	total, _ = s.HeldSince(ctx, "acct_1", time.Now().Add(time.Minute))
	if total != 0 {
		t.Errorf("expected 0 for a future window, got %d", total)
	}
}
