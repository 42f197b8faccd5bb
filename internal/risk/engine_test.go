package risk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CollectorTimeout = 500 * time.Millisecond
	return cfg
}

func healthyReader(now time.Time) *StaticReader {
	return &StaticReader{
		Acct: &Account{
			ID:               "acct_1",
			IdentityVerified: true,
			CreatedAt:        now.Add(-90 * 24 * time.Hour),
		},
		Method: &PayoutMethod{
			ID:        "pm_1",
			AccountID: "acct_1",
			Verified:  true,
			AddedAt:   now.Add(-30 * 24 * time.Hour),
		},
		KnownIPs: []string{"198.51.100.10"},
	}
}

func TestLowRiskWithdrawalClears(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	engine := NewEngine(healthyReader(now), testConfig(), nil)

	// 90-day verified account, $800, verified 30-day-old method,
	// residential address, standard browser agent.
	a := engine.Assess(context.Background(), &Context{
		AccountID:      "acct_1",
		AmountCents:    80_000,
		Currency:       "usd",
		PayoutMethodID: "pm_1",
		SourceIP:       "198.51.100.10",
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
		RequestedAt:    now,
	})

	if a.Score >= 30 {
		t.Errorf("expected composite < 30, got %d (flags: %v)", a.Score, a.Flags)
	}
	if a.RequiresReview {
		t.Error("low-risk withdrawal should not require review")
	}
}

func TestHighRiskWithdrawalFlagsEverything(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	reader := &StaticReader{
		Acct: &Account{
			ID:               "acct_1",
			IdentityVerified: false,
			CreatedAt:        now.Add(-2 * 24 * time.Hour),
		},
		Method: &PayoutMethod{
			ID:        "pm_1",
			AccountID: "acct_1",
			Verified:  false,
			AddedAt:   now.Add(-6 * time.Hour),
		},
	}
	engine := NewEngine(reader, testConfig(), nil)

	// 2-day-old account, $5,000, unverified 6-hour-old method,
	// private source address, scripted agent.
	a := engine.Assess(context.Background(), &Context{
		AccountID:      "acct_1",
		AmountCents:    500_000,
		Currency:       "usd",
		PayoutMethodID: "pm_1",
		SourceIP:       "10.0.0.1",
		UserAgent:      "curl/7.68.0",
		RequestedAt:    now,
	})

	if a.Score <= 70 {
		t.Errorf("expected composite > 70, got %d", a.Score)
	}
	if !a.RequiresReview {
		t.Error("high-risk withdrawal must require review")
	}
	for _, want := range []Flag{FlagNewAccount, FlagHighAmount, FlagNewMethod, FlagSuspiciousIP, FlagAutomatedAgent} {
		if !a.HasFlag(want) {
			t.Errorf("missing expected flag %s (got %v)", want, a.Flags)
		}
	}
}

func TestUnknownMethodForcesMaximalScore(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	reader := healthyReader(now)
	reader.Method = nil

	engine := NewEngine(reader, testConfig(), nil)
	a := engine.Assess(context.Background(), &Context{
		AccountID:      "acct_1",
		AmountCents:    1_000,
		PayoutMethodID: "pm_missing",
		SourceIP:       "198.51.100.10",
		UserAgent:      "Mozilla/5.0",
		RequestedAt:    now,
	})

	if a.Score != 100 {
		t.Errorf("unknown method must score 100, got %d", a.Score)
	}
	if !a.HasFlag(FlagInvalidMethod) {
		t.Errorf("expected invalid_method flag, got %v", a.Flags)
	}
	if !a.RequiresReview {
		t.Error("invalid_method is always-review")
	}
}

func TestMethodOwnedByAnotherAccountIsInvalid(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	reader := healthyReader(now)
	reader.Method.AccountID = "acct_other"

	engine := NewEngine(reader, testConfig(), nil)
	a := engine.Assess(context.Background(), &Context{
		AccountID:      "acct_1",
		AmountCents:    1_000,
		PayoutMethodID: "pm_1",
		SourceIP:       "198.51.100.10",
		UserAgent:      "Mozilla/5.0",
		RequestedAt:    now,
	})

	if a.Score != 100 || !a.HasFlag(FlagInvalidMethod) {
		t.Errorf("foreign method must be invalid: score=%d flags=%v", a.Score, a.Flags)
	}
}

func TestScoreAlwaysBounded(t *testing.T) {
	now := time.Now()
	contexts := []*Context{
		{AccountID: "a", AmountCents: 1, PayoutMethodID: "pm", RequestedAt: now},
		{AccountID: "a", AmountCents: 100_000_000, PayoutMethodID: "pm", SourceIP: "127.0.0.1", UserAgent: "curl", RequestedAt: now},
		{AccountID: "a", AmountCents: 50_000, PayoutMethodID: "pm", SourceIP: "not-an-ip", RequestedAt: now},
	}
	for _, reader := range []*StaticReader{healthyReader(now), {}} {
		engine := NewEngine(reader, testConfig(), nil)
		for _, rc := range contexts {
			a := engine.Assess(context.Background(), rc)
			if a.Score < 0 || a.Score > 100 {
				t.Fatalf("composite out of range: %d", a.Score)
			}
			wantReview := a.Score > testConfig().ReviewThreshold || a.HasFlag(FlagInvalidMethod)
			if a.RequiresReview != wantReview {
				t.Errorf("requires_review inconsistent: score=%d flags=%v", a.Score, a.Flags)
			}
		}
	}
}

func TestReaderFailureFailsClosed(t *testing.T) {
	now := time.Now()
	reader := healthyReader(now)
	reader.ReadErr = errors.New("datastore down")

	engine := NewEngine(reader, testConfig(), nil)
	a := engine.Assess(context.Background(), &Context{
		AccountID:      "acct_1",
		AmountCents:    1_000,
		PayoutMethodID: "pm_1",
		SourceIP:       "198.51.100.10",
		UserAgent:      "Mozilla/5.0",
		RequestedAt:    now,
	})

	if !a.RequiresReview {
		t.Error("a broken history reader must not let a withdrawal pass")
	}
	if !a.HasFlag(FlagSignalUnavailable) {
		t.Errorf("expected signal_unavailable, got %v", a.Flags)
	}
}

func TestSlowCollectorTimesOutWithFallback(t *testing.T) {
	now := time.Now()
	reader := healthyReader(now)
	reader.ReadDelay = 250 * time.Millisecond

	cfg := testConfig()
	cfg.CollectorTimeout = 20 * time.Millisecond
	engine := NewEngine(reader, cfg, nil)

	start := time.Now()
	a := engine.Assess(context.Background(), &Context{
		AccountID:      "acct_1",
		AmountCents:    1_000,
		PayoutMethodID: "pm_1",
		RequestedAt:    now,
	})
	elapsed := time.Since(start)

	if elapsed > 150*time.Millisecond {
		t.Errorf("assessment blocked on slow collectors: took %v", elapsed)
	}
	if !a.RequiresReview {
		t.Error("timed-out collectors must contribute maximal risk")
	}
}

func TestConcurrentAssessments(t *testing.T) {
	now := time.Now()
	engine := NewEngine(healthyReader(now), testConfig(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := engine.Assess(context.Background(), &Context{
				AccountID:      "acct_1",
				AmountCents:    80_000,
				PayoutMethodID: "pm_1",
				SourceIP:       "198.51.100.10",
				UserAgent:      "Mozilla/5.0",
				RequestedAt:    now,
			})
			if a.Score < 0 || a.Score > 100 {
				t.Errorf("composite out of range under load: %d", a.Score)
			}
		}()
	}
	wg.Wait()
}
