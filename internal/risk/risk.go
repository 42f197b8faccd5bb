// Package risk implements withdrawal risk assessment.
//
// Every withdrawal request is scored by 5 independent signal
// collectors: account history, requested amount, behavioral velocity,
// network fingerprint, and payout-method trust. Sub-scores range 0-100
// and combine into one composite; requests above the review threshold
// are parked for manual review before funds move. Missing or unknown
// data never fails open; it surfaces as a maximal-risk signal.
package risk

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by HistoryReader lookups for unknown
// accounts or payout methods. Collectors translate it into a
// maximal-risk signal rather than propagating it.
var ErrNotFound = errors.New("record not found")

// Flag is a qualitative risk marker attached to an assessment.
type Flag string

const (
	// Account signal
	FlagNewAccount         Flag = "new_account"
	FlagUnverifiedIdentity Flag = "unverified_identity"
	FlagHighFailureRate    Flag = "high_failure_rate"
	FlagRapidWithdrawals   Flag = "rapid_withdrawal_pattern"
	FlagAccountUnknown     Flag = "account_unknown"

	// Amount signal
	FlagHighAmount    Flag = "high_amount"
	FlagRoundAmount   Flag = "round_amount"
	FlagNearLimit     Flag = "near_limit"
	FlagUnusualAmount Flag = "unusual_amount"

	// Behavior signal
	FlagUnusualTime   Flag = "unusual_time"
	FlagHighVelocity  Flag = "high_velocity"
	FlagRapidRequests Flag = "rapid_requests"

	// Network signal
	FlagSuspiciousIP   Flag = "suspicious_ip"
	FlagAutomatedAgent Flag = "automated_user_agent"
	FlagIPChange       Flag = "ip_change"

	// Method signal
	FlagInvalidMethod    Flag = "invalid_method"
	FlagNewMethod        Flag = "new_payout_method"
	FlagUnverifiedMethod Flag = "unverified_method"

	// Collector fallbacks
	FlagSignalTimeout     Flag = "signal_timeout"
	FlagSignalUnavailable Flag = "signal_unavailable"
)

// Signal names.
const (
	SignalAccount  = "account"
	SignalAmount   = "amount"
	SignalBehavior = "behavior"
	SignalNetwork  = "network"
	SignalMethod   = "method"
)

// Context carries the request-specific inputs to an assessment.
type Context struct {
	AccountID      string
	AmountCents    int64
	Currency       string
	PayoutMethodID string
	SourceIP       string
	UserAgent      string
	RequestedAt    time.Time
}

// Signal is one collector's contribution: a bounded sub-score plus
// qualitative flags and supporting detail fields.
type Signal struct {
	Name    string         `json:"name"`
	Score   int            `json:"score"` // 0-100
	Flags   []Flag         `json:"flags,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Assessment is the engine's verdict on a single withdrawal request.
// Immutable once produced.
type Assessment struct {
	Score          int               `json:"score"` // 0-100, higher = riskier
	RequiresReview bool              `json:"requiresReview"`
	Flags          []Flag            `json:"flags"`
	Signals        map[string]Signal `json:"signals"`
	EvaluatedAt    time.Time         `json:"evaluatedAt"`
}

// HasFlag reports whether the assessment carries the given flag.
func (a *Assessment) HasFlag(f Flag) bool {
	for _, have := range a.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// Account is the identity view the collectors read.
type Account struct {
	ID               string
	IdentityVerified bool
	DailyLimitCents  int64 // 0 = platform default applies
	CreatedAt        time.Time
}

// PayoutMethod is the trust view of a payout destination.
type PayoutMethod struct {
	ID        string
	AccountID string
	Verified  bool
	AddedAt   time.Time
}

// HistoryReader provides the point-in-time reads the collectors need.
// All methods must be safe for concurrent use; collectors run in
// parallel within one assessment.
type HistoryReader interface {
	Account(ctx context.Context, accountID string) (*Account, error)
	PayoutMethod(ctx context.Context, methodID string) (*PayoutMethod, error)

	// FailedWithdrawals counts failed withdrawal requests since the
	// given time.
	FailedWithdrawals(ctx context.Context, accountID string, since time.Time) (int, error)
	// WithdrawalAttempts counts withdrawal requests created since the
	// given time, regardless of outcome.
	WithdrawalAttempts(ctx context.Context, accountID string, since time.Time) (int, error)
	// AverageWithdrawalCents returns the trailing mean withdrawal
	// amount, or 0 with no history.
	AverageWithdrawalCents(ctx context.Context, accountID string) (int64, error)
	// HeldTodayCents returns the amount already committed against the
	// daily limit since the given time.
	HeldTodayCents(ctx context.Context, accountID string, since time.Time) (int64, error)
	// AttemptEvents counts attempt-type security-log entries since the
	// given time.
	AttemptEvents(ctx context.Context, accountID string, since time.Time) (int, error)
	// RecentSourceIPs returns the account's recent successful-request
	// source addresses, newest first.
	RecentSourceIPs(ctx context.Context, accountID string, limit int) ([]string, error)
}

// Config holds the tunable assessment thresholds. The defaults mirror
// observed production tuning; treat them as starting points, not
// policy (pending confirmation from the risk team).
type Config struct {
	ReviewThreshold         int           // composite above this requires review
	LargeAmountCents        int64         // "high_amount" threshold
	UnusualAmountMultiplier float64       // multiple of trailing average
	NearLimitFraction       float64       // fraction of the daily limit
	DefaultDailyLimitCents  int64         // applied when the account has none
	CollectorTimeout        time.Duration // per-collector bound
	AlwaysReview            []Flag        // flags that force review and a maximal score
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		ReviewThreshold:         30,
		LargeAmountCents:        500_000, // $5,000
		UnusualAmountMultiplier: 10.0,
		NearLimitFraction:       0.95,
		DefaultDailyLimitCents:  1_000_000, // $10,000
		CollectorTimeout:        200 * time.Millisecond,
		AlwaysReview:            []Flag{FlagInvalidMethod},
	}
}

func (c Config) alwaysReview(f Flag) bool {
	for _, ar := range c.AlwaysReview {
		if ar == f {
			return true
		}
	}
	return false
}
