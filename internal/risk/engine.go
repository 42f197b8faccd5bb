package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/clearhold/clearhold/internal/audit"
	"github.com/clearhold/clearhold/internal/metrics"
)

// Signal weights. They deliberately sum past 1.0: the composite is a
// saturating combination, so one strongly elevated signal clears the
// review threshold on its own and a pair of moderate signals pins the
// scale. A plain average would let four quiet signals wash out a
// screaming fifth.
const (
	weightAccount  = 0.70
	weightAmount   = 0.60
	weightBehavior = 0.50
	weightNetwork  = 0.50
	weightMethod   = 0.90
)

type collectorFn func(ctx context.Context, r HistoryReader, rc *Context, cfg Config) Signal

var collectors = map[string]struct {
	weight float64
	fn     collectorFn
}{
	SignalAccount:  {weightAccount, accountSignal},
	SignalAmount:   {weightAmount, amountSignal},
	SignalBehavior: {weightBehavior, behaviorSignal},
	SignalNetwork:  {weightNetwork, networkSignal},
	SignalMethod:   {weightMethod, methodSignal},
}

// EventRecorder receives assessment outcomes for the audit trail.
type EventRecorder interface {
	Append(ctx context.Context, e *audit.SecurityEvent) error
}

// Engine combines the signal collectors into one composite assessment.
// Safe for concurrent use; it holds no per-request mutable state.
type Engine struct {
	reader   HistoryReader
	cfg      Config
	recorder EventRecorder
	logger   *slog.Logger
}

// NewEngine creates an assessment engine over the given history reader.
func NewEngine(reader HistoryReader, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{reader: reader, cfg: cfg, logger: logger}
}

// WithRecorder attaches a best-effort audit sink for assessment outcomes.
func (e *Engine) WithRecorder(r EventRecorder) *Engine {
	e.recorder = r
	return e
}

// Assess runs all collectors concurrently and combines their outputs.
// It never returns an error: collector failures and timeouts degrade
// to maximal-risk signals, so an assessment is always produced and a
// broken dependency can only make the verdict stricter.
func (e *Engine) Assess(ctx context.Context, rc *Context) *Assessment {
	started := time.Now()
	if rc.RequestedAt.IsZero() {
		rc.RequestedAt = started
	}

	type result struct {
		name string
		sig  Signal
	}
	results := make(chan result, len(collectors))

	for name, c := range collectors {
		go func(name string, fn collectorFn) {
			cctx, cancel := context.WithTimeout(ctx, e.cfg.CollectorTimeout)
			defer cancel()

			done := make(chan Signal, 1)
			go func() { done <- fn(cctx, e.reader, rc, e.cfg) }()

			select {
			case sig := <-done:
				results <- result{name, sig}
			case <-cctx.Done():
				// A hung collector contributes its fallback instead of
				// blocking the whole assessment.
				results <- result{name, maximal(name, FlagSignalTimeout)}
			}
		}(name, c.fn)
	}

	signals := make(map[string]Signal, len(collectors))
	for range collectors {
		r := <-results
		signals[r.name] = r.sig
	}

	assessment := e.combine(signals)
	assessment.EvaluatedAt = started

	decision := "cleared"
	if assessment.RequiresReview {
		decision = "review"
	}
	metrics.AssessmentsTotal.WithLabelValues(decision).Inc()
	metrics.AssessmentDuration.Observe(time.Since(started).Seconds())

	e.record(rc, assessment)
	return assessment
}

// combine unions flags and folds the weighted sub-scores into [0,100].
func (e *Engine) combine(signals map[string]Signal) *Assessment {
	var weighted float64
	seen := make(map[Flag]bool)
	var flags []Flag
	forceMax := false

	for name, sig := range signals {
		weighted += collectors[name].weight * float64(sig.Score)
		for _, f := range sig.Flags {
			if !seen[f] {
				seen[f] = true
				flags = append(flags, f)
			}
			if e.cfg.alwaysReview(f) {
				forceMax = true
			}
		}
	}

	score := int(weighted + 0.5)
	if score > 100 {
		score = 100
	}
	if forceMax {
		score = 100
	}

	return &Assessment{
		Score:          score,
		RequiresReview: score > e.cfg.ReviewThreshold || forceMax,
		Flags:          flags,
		Signals:        signals,
	}
}

// record appends the outcome to the security audit trail. Best-effort
// and asynchronous; the verdict does not depend on it.
func (e *Engine) record(rc *Context, a *Assessment) {
	if e.recorder == nil {
		return
	}
	flags := make([]string, len(a.Flags))
	for i, f := range a.Flags {
		flags[i] = string(f)
	}
	event := &audit.SecurityEvent{
		AccountID: rc.AccountID,
		Type:      audit.EventWithdrawalAttempt,
		SourceIP:  rc.SourceIP,
		UserAgent: rc.UserAgent,
		RiskScore: a.Score,
		Flags:     flags,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.recorder.Append(ctx, event); err != nil {
			e.logger.Warn("assessment audit write failed", "account", rc.AccountID, "error", err)
		}
	}()
}
