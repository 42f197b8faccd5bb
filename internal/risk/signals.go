package risk

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Sub-score increments per signal. Chosen so that a single strongly
// elevated signal clears the review threshold after weighting and two
// moderate signals saturate the composite.
const (
	scoreNewAccount     = 25
	scoreVeryNewAccount = 10 // on top of scoreNewAccount under 7 days
	scoreUnverifiedID   = 25
	scoreFailureRateCap = 30
	scoreRapidPattern   = 20

	scoreAmountBaseCap   = 40
	scoreHighAmount      = 15
	scoreRoundAmount     = 10
	scoreNearLimit       = 20
	scoreUnusualAmount   = 25

	scoreUnusualTime   = 25
	scoreHighVelocity  = 30
	scoreRapidRequests = 20

	scoreLoopbackIP     = 50
	scoreNonPublicIP    = 35
	scoreAutomatedAgent = 30
	scoreIPChange       = 15

	scoreNewMethod        = 40
	scoreUnverifiedMethod = 35
)

// Trailing windows.
const (
	newAccountAge      = 30 * 24 * time.Hour
	veryNewAccountAge  = 7 * 24 * time.Hour
	failureWindow      = 30 * 24 * time.Hour
	rapidPatternWindow = 24 * time.Hour
	velocityWindow     = time.Hour
	rapidRequestWindow = 5 * time.Minute
	newMethodAge       = 72 * time.Hour
)

// accountSignal scores account age, identity verification, and
// recent failure/attempt history.
func accountSignal(ctx context.Context, r HistoryReader, rc *Context, _ Config) Signal {
	s := Signal{Name: SignalAccount, Details: map[string]any{}}

	acct, err := r.Account(ctx, rc.AccountID)
	if errors.Is(err, ErrNotFound) {
		return maximal(SignalAccount, FlagAccountUnknown)
	}
	if err != nil {
		return maximal(SignalAccount, FlagSignalUnavailable)
	}

	now := rc.RequestedAt
	age := now.Sub(acct.CreatedAt)
	s.Details["account_age_days"] = int(age.Hours() / 24)
	if age < newAccountAge {
		s.Score += scoreNewAccount
		s.Flags = append(s.Flags, FlagNewAccount)
		if age < veryNewAccountAge {
			s.Score += scoreVeryNewAccount
		}
	}

	if !acct.IdentityVerified {
		s.Score += scoreUnverifiedID
		s.Flags = append(s.Flags, FlagUnverifiedIdentity)
	}

	failed, err := r.FailedWithdrawals(ctx, rc.AccountID, now.Add(-failureWindow))
	if err != nil {
		return maximal(SignalAccount, FlagSignalUnavailable)
	}
	s.Details["failed_withdrawals_30d"] = failed
	if failed > 1 {
		bump := 10 * failed
		if bump > scoreFailureRateCap {
			bump = scoreFailureRateCap
		}
		s.Score += bump
		s.Flags = append(s.Flags, FlagHighFailureRate)
	}

	attempts, err := r.WithdrawalAttempts(ctx, rc.AccountID, now.Add(-rapidPatternWindow))
	if err != nil {
		return maximal(SignalAccount, FlagSignalUnavailable)
	}
	s.Details["withdrawal_attempts_24h"] = attempts
	if attempts >= 3 {
		s.Score += scoreRapidPattern
		s.Flags = append(s.Flags, FlagRapidWithdrawals)
	}

	return clampSignal(s)
}

// amountSignal scores the requested amount against fixed thresholds,
// the account's daily limit, and its trailing average.
func amountSignal(ctx context.Context, r HistoryReader, rc *Context, cfg Config) Signal {
	s := Signal{Name: SignalAmount, Details: map[string]any{
		"amount_cents": rc.AmountCents,
	}}

	// Nondecreasing base score up to the large-amount threshold.
	base := int(float64(scoreAmountBaseCap) * float64(rc.AmountCents) / float64(cfg.LargeAmountCents))
	if base > scoreAmountBaseCap {
		base = scoreAmountBaseCap
	}
	s.Score += base

	if rc.AmountCents >= cfg.LargeAmountCents {
		s.Score += scoreHighAmount
		s.Flags = append(s.Flags, FlagHighAmount)
	}

	// Exact multiples of 100 major units are a known structuring tell.
	if rc.AmountCents%10_000 == 0 {
		s.Score += scoreRoundAmount
		s.Flags = append(s.Flags, FlagRoundAmount)
	}

	limit := cfg.DefaultDailyLimitCents
	if acct, err := r.Account(ctx, rc.AccountID); err == nil && acct.DailyLimitCents > 0 {
		limit = acct.DailyLimitCents
	}
	used, err := r.HeldTodayCents(ctx, rc.AccountID, startOfDay(rc.RequestedAt))
	if err != nil {
		return maximal(SignalAmount, FlagSignalUnavailable)
	}
	s.Details["daily_limit_cents"] = limit
	s.Details["held_today_cents"] = used
	if float64(used+rc.AmountCents) > cfg.NearLimitFraction*float64(limit) {
		s.Score += scoreNearLimit
		s.Flags = append(s.Flags, FlagNearLimit)
	}

	avg, err := r.AverageWithdrawalCents(ctx, rc.AccountID)
	if err != nil {
		return maximal(SignalAmount, FlagSignalUnavailable)
	}
	s.Details["average_withdrawal_cents"] = avg
	if avg > 0 && float64(rc.AmountCents) > cfg.UnusualAmountMultiplier*float64(avg) {
		s.Score += scoreUnusualAmount
		s.Flags = append(s.Flags, FlagUnusualAmount)
	}

	return clampSignal(s)
}

// behaviorSignal scores request timing and attempt velocity.
func behaviorSignal(ctx context.Context, r HistoryReader, rc *Context, _ Config) Signal {
	s := Signal{Name: SignalBehavior, Details: map[string]any{}}

	hour := rc.RequestedAt.UTC().Hour()
	s.Details["request_hour_utc"] = hour
	if hour < 5 {
		s.Score += scoreUnusualTime
		s.Flags = append(s.Flags, FlagUnusualTime)
	}

	attempts, err := r.WithdrawalAttempts(ctx, rc.AccountID, rc.RequestedAt.Add(-velocityWindow))
	if err != nil {
		return maximal(SignalBehavior, FlagSignalUnavailable)
	}
	s.Details["attempts_last_hour"] = attempts
	if attempts > 3 {
		s.Score += scoreHighVelocity
		s.Flags = append(s.Flags, FlagHighVelocity)
	}

	recent, err := r.AttemptEvents(ctx, rc.AccountID, rc.RequestedAt.Add(-rapidRequestWindow))
	if err != nil {
		return maximal(SignalBehavior, FlagSignalUnavailable)
	}
	s.Details["attempt_events_5m"] = recent
	if recent > 1 {
		s.Score += scoreRapidRequests
		s.Flags = append(s.Flags, FlagRapidRequests)
	}

	return clampSignal(s)
}

// automatedAgentMarkers match tooling/scripting user agents. Checked
// against the lowercased agent string.
var automatedAgentMarkers = []string{
	"curl", "wget", "python", "go-http-client", "httpie",
	"postman", "insomnia", "java/", "libwww", "bot", "scrapy",
}

// networkSignal scores the source address and agent string.
func networkSignal(ctx context.Context, r HistoryReader, rc *Context, _ Config) Signal {
	s := Signal{Name: SignalNetwork, Details: map[string]any{
		"source_ip": rc.SourceIP,
	}}

	ip := net.ParseIP(rc.SourceIP)
	switch {
	case ip == nil || ip.IsLoopback():
		s.Score += scoreLoopbackIP
		s.Flags = append(s.Flags, FlagSuspiciousIP)
	case ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified():
		s.Score += scoreNonPublicIP
		s.Flags = append(s.Flags, FlagSuspiciousIP)
	}

	agent := strings.ToLower(strings.TrimSpace(rc.UserAgent))
	if agent == "" {
		s.Score += scoreAutomatedAgent
		s.Flags = append(s.Flags, FlagAutomatedAgent)
	} else {
		for _, marker := range automatedAgentMarkers {
			if strings.Contains(agent, marker) {
				s.Score += scoreAutomatedAgent
				s.Flags = append(s.Flags, FlagAutomatedAgent)
				break
			}
		}
	}

	known, err := r.RecentSourceIPs(ctx, rc.AccountID, 10)
	if err != nil {
		return maximal(SignalNetwork, FlagSignalUnavailable)
	}
	if len(known) > 0 && rc.SourceIP != "" && !contains(known, rc.SourceIP) {
		s.Score += scoreIPChange
		s.Flags = append(s.Flags, FlagIPChange)
	}

	return clampSignal(s)
}

// methodSignal scores payout-method trust. A method that does not
// exist or belongs to another account is maximal risk outright.
func methodSignal(ctx context.Context, r HistoryReader, rc *Context, _ Config) Signal {
	method, err := r.PayoutMethod(ctx, rc.PayoutMethodID)
	if errors.Is(err, ErrNotFound) {
		return maximal(SignalMethod, FlagInvalidMethod)
	}
	if err != nil {
		return maximal(SignalMethod, FlagSignalUnavailable)
	}
	if method.AccountID != rc.AccountID {
		return maximal(SignalMethod, FlagInvalidMethod)
	}

	s := Signal{Name: SignalMethod, Details: map[string]any{
		"method_age_hours": int(rc.RequestedAt.Sub(method.AddedAt).Hours()),
		"verified":         method.Verified,
	}}

	if rc.RequestedAt.Sub(method.AddedAt) < newMethodAge {
		s.Score += scoreNewMethod
		s.Flags = append(s.Flags, FlagNewMethod)
	}
	if !method.Verified {
		s.Score += scoreUnverifiedMethod
		s.Flags = append(s.Flags, FlagUnverifiedMethod)
	}

	return clampSignal(s)
}

func maximal(name string, flag Flag) Signal {
	return Signal{Name: name, Score: 100, Flags: []Flag{flag}}
}

func clampSignal(s Signal) Signal {
	if s.Score > 100 {
		s.Score = 100
	}
	if s.Score < 0 {
		s.Score = 0
	}
	return s
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
