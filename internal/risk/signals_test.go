package risk

import (
	"context"
	"testing"
	"time"
)

var sigNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func sigContext(amount int64) *Context {
	return &Context{
		AccountID:      "acct_1",
		AmountCents:    amount,
		PayoutMethodID: "pm_1",
		SourceIP:       "198.51.100.10",
		UserAgent:      "Mozilla/5.0",
		RequestedAt:    sigNow,
	}
}

func hasFlag(s Signal, f Flag) bool {
	for _, have := range s.Flags {
		if have == f {
			return true
		}
	}
	return false
}

func TestAccountSignalFailureRate(t *testing.T) {
	reader := healthyReader(sigNow)
	reader.FailedCount = 3

	s := accountSignal(context.Background(), reader, sigContext(1_000), testConfig())
	if !hasFlag(s, FlagHighFailureRate) {
		t.Errorf("3 failures in 30d should flag high_failure_rate: %v", s.Flags)
	}
}

func TestAccountSignalRapidWithdrawalPattern(t *testing.T) {
	reader := healthyReader(sigNow)
	reader.AttemptCount = 3

	s := accountSignal(context.Background(), reader, sigContext(1_000), testConfig())
	if !hasFlag(s, FlagRapidWithdrawals) {
		t.Errorf("3 attempts in the window should flag rapid_withdrawal_pattern: %v", s.Flags)
	}
}

func TestAmountSignalIsNondecreasing(t *testing.T) {
	reader := healthyReader(sigNow)
	cfg := testConfig()

	prev := -1
	for _, amount := range []int64{1_000, 50_000, 250_000, 500_000, 2_000_000} {
		// Avoid the round-amount bump skewing monotonicity.
		s := amountSignal(context.Background(), reader, sigContext(amount+1), cfg)
		if s.Score < prev {
			t.Fatalf("amount score decreased at %d: %d < %d", amount, s.Score, prev)
		}
		prev = s.Score
	}
}

func TestAmountSignalNearLimit(t *testing.T) {
	reader := healthyReader(sigNow)
	reader.HeldToday = 700_000 // $7,000 already held today
	cfg := testConfig()        // default daily limit $10,000

	s := amountSignal(context.Background(), reader, sigContext(260_000), cfg)
	if !hasFlag(s, FlagNearLimit) {
		t.Errorf("$9,600 of a $10,000 limit should flag near_limit: %v", s.Flags)
	}

	s = amountSignal(context.Background(), reader, sigContext(100_000), cfg)
	if hasFlag(s, FlagNearLimit) {
		t.Errorf("$8,000 of a $10,000 limit should not flag near_limit: %v", s.Flags)
	}
}

func TestAmountSignalUnusualAmount(t *testing.T) {
	reader := healthyReader(sigNow)
	reader.AverageCents = 5_000 // $50 typical withdrawal

	s := amountSignal(context.Background(), reader, sigContext(60_001), testConfig())
	if !hasFlag(s, FlagUnusualAmount) {
		t.Errorf("12x the trailing average should flag unusual_amount: %v", s.Flags)
	}
}

func TestBehaviorSignalLateNight(t *testing.T) {
	reader := healthyReader(sigNow)
	rc := sigContext(1_000)
	rc.RequestedAt = time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC)

	s := behaviorSignal(context.Background(), reader, rc, testConfig())
	if !hasFlag(s, FlagUnusualTime) {
		t.Errorf("03:30 UTC should flag unusual_time: %v", s.Flags)
	}
}

func TestBehaviorSignalVelocity(t *testing.T) {
	reader := healthyReader(sigNow)
	reader.AttemptCount = 4
	reader.EventCount = 2

	s := behaviorSignal(context.Background(), reader, sigContext(1_000), testConfig())
	if !hasFlag(s, FlagHighVelocity) {
		t.Errorf("4 attempts in an hour should flag high_velocity: %v", s.Flags)
	}
	if !hasFlag(s, FlagRapidRequests) {
		t.Errorf("2 attempt events in 5m should flag rapid_requests: %v", s.Flags)
	}
}

func TestNetworkSignalLoopbackScoresHighest(t *testing.T) {
	reader := healthyReader(sigNow)
	cfg := testConfig()

	loop := sigContext(1_000)
	loop.SourceIP = "127.0.0.1"
	private := sigContext(1_000)
	private.SourceIP = "192.168.1.20"

	sLoop := networkSignal(context.Background(), reader, loop, cfg)
	sPriv := networkSignal(context.Background(), reader, private, cfg)

	if !hasFlag(sLoop, FlagSuspiciousIP) || !hasFlag(sPriv, FlagSuspiciousIP) {
		t.Fatal("non-public addresses must flag suspicious_ip")
	}
	if sLoop.Score <= sPriv.Score {
		t.Errorf("loopback should outscore private: %d <= %d", sLoop.Score, sPriv.Score)
	}
}

func TestNetworkSignalIPChange(t *testing.T) {
	reader := healthyReader(sigNow)
	reader.KnownIPs = []string{"198.51.100.10", "198.51.100.11"}

	rc := sigContext(1_000)
	rc.SourceIP = "203.0.113.99"

	s := networkSignal(context.Background(), reader, rc, testConfig())
	if !hasFlag(s, FlagIPChange) {
		t.Errorf("unseen source address should flag ip_change: %v", s.Flags)
	}
}

func TestNetworkSignalEmptyAgent(t *testing.T) {
	reader := healthyReader(sigNow)
	rc := sigContext(1_000)
	rc.UserAgent = ""

	s := networkSignal(context.Background(), reader, rc, testConfig())
	if !hasFlag(s, FlagAutomatedAgent) {
		t.Errorf("empty agent should flag automated_user_agent: %v", s.Flags)
	}
}

func TestMethodSignalFreshUnverified(t *testing.T) {
	reader := healthyReader(sigNow)
	reader.Method = &PayoutMethod{
		ID:        "pm_1",
		AccountID: "acct_1",
		Verified:  false,
		AddedAt:   sigNow.Add(-6 * time.Hour),
	}

	s := methodSignal(context.Background(), reader, sigContext(1_000), testConfig())
	if !hasFlag(s, FlagNewMethod) || !hasFlag(s, FlagUnverifiedMethod) {
		t.Errorf("fresh unverified method should carry both flags: %v", s.Flags)
	}

	reader.Method.Verified = true
	reader.Method.AddedAt = sigNow.Add(-30 * 24 * time.Hour)
	s = methodSignal(context.Background(), reader, sigContext(1_000), testConfig())
	if s.Score != 0 {
		t.Errorf("old verified method should score 0, got %d", s.Score)
	}
}
