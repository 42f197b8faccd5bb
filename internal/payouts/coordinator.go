package payouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clearhold/clearhold/internal/accounts"
	"github.com/clearhold/clearhold/internal/audit"
	"github.com/clearhold/clearhold/internal/idgen"
	"github.com/clearhold/clearhold/internal/ledger"
	"github.com/clearhold/clearhold/internal/logging"
	"github.com/clearhold/clearhold/internal/metrics"
	"github.com/clearhold/clearhold/internal/processor"
	"github.com/clearhold/clearhold/internal/risk"
	"github.com/clearhold/clearhold/internal/syncutil"
	"github.com/clearhold/clearhold/internal/traces"
)

var (
	ErrInvalidRequest       = errors.New("invalid withdrawal request")
	ErrInsufficientBalance  = errors.New("amount exceeds available balance")
	ErrDailyLimitExceeded   = errors.New("amount exceeds remaining daily limit")
	ErrProcessorUnavailable = errors.New("payout processor unavailable")
)

// Assessor is the risk engine surface the coordinator consumes.
type Assessor interface {
	Assess(ctx context.Context, rc *risk.Context) *risk.Assessment
}

// Request carries the caller-supplied withdrawal parameters.
type Request struct {
	AccountID      string
	AmountCents    int64
	Currency       string
	PayoutMethodID string
	Urgency        Urgency
	IdempotencyKey string
	SourceIP       string
	UserAgent      string
}

// Result is the coordinator's answer to a withdrawal request.
type Result struct {
	Withdrawal *WithdrawalRequest `json:"withdrawal"`
	Assessment *risk.Assessment   `json:"assessment,omitempty"`
	Duplicate  bool               `json:"duplicate"`
}

// Coordinator orchestrates withdrawal initiation end to end: balance
// and daily-limit gating, risk assessment, the hold, the external
// processor call, and the initial state transitions.
//
// Ordering is deliberate. Balance and limit checks run before the risk
// assessment so an over-balance request is rejected without burning an
// assessment; the hold is placed before the processor call so funds
// can never be paid out twice; and the request record is created
// before the processor call so a crash mid-initiation leaves an
// auditable requested-state row instead of an orphaned payout.
type Coordinator struct {
	store    Store
	methods  MethodStore
	accounts accounts.Store
	balances ledger.Store
	engine   Assessor
	client   processor.Client
	machine  *Machine
	auditLog audit.Store

	// The daily-limit check and the hold are separate statements, so
	// initiation is serialized per account.
	accountLocks *syncutil.ContextShardedMutex

	defaultDailyLimitCents int64
}

func NewCoordinator(
	store Store,
	methods MethodStore,
	accountStore accounts.Store,
	balances ledger.Store,
	engine Assessor,
	client processor.Client,
	machine *Machine,
	defaultDailyLimitCents int64,
) *Coordinator {
	return &Coordinator{
		store:                  store,
		methods:                methods,
		accounts:               accountStore,
		balances:               balances,
		engine:                 engine,
		client:                 client,
		machine:                machine,
		accountLocks:           syncutil.NewContextShardedMutex(),
		defaultDailyLimitCents: defaultDailyLimitCents,
	}
}

// WithAuditLog attaches a best-effort security event sink.
func (c *Coordinator) WithAuditLog(s audit.Store) *Coordinator {
	c.auditLog = s
	return c
}

// RequestWithdrawal validates, assesses, and initiates a withdrawal. A
// repeated call with the same account and idempotency key returns the
// original record without any new side effects.
func (c *Coordinator) RequestWithdrawal(ctx context.Context, req Request) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "payouts.request_withdrawal",
		traces.AccountID(req.AccountID), traces.AmountCents(req.AmountCents))
	defer span.End()

	if err := c.validate(req); err != nil {
		return nil, err
	}

	if existing, err := c.store.GetByIdempotencyKey(ctx, req.AccountID, req.IdempotencyKey); err == nil {
		metrics.WithdrawalsTotal.WithLabelValues("duplicate").Inc()
		return &Result{Withdrawal: existing, Duplicate: true}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	unlock, err := c.accountLocks.LockContext(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Balance and daily-limit gating happens before any risk read.
	if err := c.checkFunds(ctx, req); err != nil {
		return nil, err
	}

	assessment := c.engine.Assess(ctx, &risk.Context{
		AccountID:      req.AccountID,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		PayoutMethodID: req.PayoutMethodID,
		SourceIP:       req.SourceIP,
		UserAgent:      req.UserAgent,
		RequestedAt:    time.Now(),
	})

	now := time.Now()
	w := &WithdrawalRequest{
		ID:             idgen.WithPrefix("wd"),
		AccountID:      req.AccountID,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		PayoutMethodID: req.PayoutMethodID,
		Urgency:        req.Urgency,
		IdempotencyKey: req.IdempotencyKey,
		RiskScore:      assessment.Score,
		RiskFlags:      flagStrings(assessment.Flags),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if assessment.RequiresReview {
		w.Status = StatusPendingReview
		if created, err := c.createOrOriginal(ctx, w); err != nil {
			return nil, err
		} else if created.Duplicate {
			return created, nil
		}
		c.recordEvent(ctx, req, audit.EventWithdrawalReview, assessment)
		metrics.WithdrawalsTotal.WithLabelValues("review").Inc()
		logging.L(ctx).Info("withdrawal parked for review",
			"withdrawal_id", w.ID, "account_id", w.AccountID, "score", assessment.Score)
		return &Result{Withdrawal: w, Assessment: assessment}, nil
	}

	w.Status = StatusRequested
	if created, err := c.createOrOriginal(ctx, w); err != nil {
		return nil, err
	} else if created.Duplicate {
		return created, nil
	}

	final, err := c.initiate(ctx, w)
	if err != nil {
		return nil, err
	}
	return &Result{Withdrawal: final, Assessment: assessment}, nil
}

// Approve releases a pending_review withdrawal onto the initiation
// path. Funds and limits are re-checked: balances may have moved while
// the request was parked.
func (c *Coordinator) Approve(ctx context.Context, id string) (*WithdrawalRequest, error) {
	w, applied, err := c.machine.Approve(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Compare-and-set mismatch: already decided elsewhere.
		return w, nil
	}

	unlock, err := c.accountLocks.LockContext(ctx, w.AccountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := c.checkFunds(ctx, Request{
		AccountID:   w.AccountID,
		AmountCents: w.AmountCents,
	}); err != nil {
		// A parked request never placed a hold, so fail the record
		// directly instead of going through MarkFailed's release path:
		// releasing here would free funds held by a different
		// withdrawal.
		failed, uerr := c.store.UpdateStatus(ctx, w.ID, []Status{StatusRequested}, StatusFailed, err.Error())
		if uerr != nil {
			logging.L(ctx).Error("failed to mark withdrawal failed after funds re-check",
				"withdrawal_id", w.ID, "error", uerr)
			return nil, err
		}
		metrics.WithdrawalsTotal.WithLabelValues("rejected").Inc()
		return failed, err
	}
	return c.initiate(ctx, w)
}

// Reject finalizes a pending_review withdrawal as failed.
func (c *Coordinator) Reject(ctx context.Context, id, reason string) (*WithdrawalRequest, error) {
	w, applied, err := c.machine.Reject(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	if applied && c.auditLog != nil {
		c.recordEvent(ctx, Request{AccountID: w.AccountID}, audit.EventWithdrawalRejected, nil)
	}
	return w, nil
}

// initiate places the hold, calls the processor, and queues the
// request. w must be in the requested state.
func (c *Coordinator) initiate(ctx context.Context, w *WithdrawalRequest) (*WithdrawalRequest, error) {
	if err := c.balances.Hold(ctx, w.AccountID, w.AmountCents, w.ID); err != nil {
		// No hold was placed, so fail the record directly instead of
		// going through MarkFailed's release path.
		if _, uerr := c.store.UpdateStatus(ctx, w.ID, []Status{StatusRequested}, StatusFailed, "hold failed: "+err.Error()); uerr != nil {
			logging.L(ctx).Error("failed to mark withdrawal failed after hold error",
				"withdrawal_id", w.ID, "error", uerr)
		}
		metrics.WithdrawalsTotal.WithLabelValues("rejected").Inc()
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("placing hold: %w", err)
	}

	payout, err := c.client.CreatePayout(ctx, processor.CreatePayoutRequest{
		AmountCents:    w.AmountCents,
		Currency:       w.Currency,
		DestinationID:  w.PayoutMethodID,
		Instant:        w.Urgency == UrgencyInstant,
		Description:    "withdrawal " + w.ID,
		IdempotencyKey: w.ID,
	})
	if err != nil {
		if _, _, ferr := c.machine.MarkFailed(ctx, w.ID, "processor: "+err.Error()); ferr != nil {
			logging.L(ctx).Error("failed to mark withdrawal failed after processor error",
				"withdrawal_id", w.ID, "error", ferr)
		}
		if errors.Is(err, processor.ErrUnavailable) {
			return nil, ErrProcessorUnavailable
		}
		return nil, fmt.Errorf("initiating payout: %w", err)
	}

	if err := c.store.AttachPayout(ctx, w.ID, payout.ID); err != nil {
		logging.L(ctx).Error("failed to attach processor payout id",
			"withdrawal_id", w.ID, "payout_id", payout.ID, "error", err)
	}

	queued, _, err := c.machine.MarkQueued(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	metrics.WithdrawalsTotal.WithLabelValues("initiated").Inc()
	logging.L(ctx).Info("withdrawal initiated",
		"withdrawal_id", w.ID, "account_id", w.AccountID, "payout_id", payout.ID)
	return queued, nil
}

func (c *Coordinator) validate(req Request) error {
	if req.AmountCents <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if req.AccountID == "" || req.PayoutMethodID == "" {
		return fmt.Errorf("%w: account and payout method are required", ErrInvalidRequest)
	}
	if req.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidRequest)
	}
	if req.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidRequest)
	}
	if req.Urgency != UrgencyStandard && req.Urgency != UrgencyInstant {
		return fmt.Errorf("%w: urgency must be standard or instant", ErrInvalidRequest)
	}
	return nil
}

// checkFunds enforces the available balance and the daily limit.
func (c *Coordinator) checkFunds(ctx context.Context, req Request) error {
	bal, err := c.balances.Balance(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return ErrInsufficientBalance
		}
		return fmt.Errorf("reading balance: %w", err)
	}
	if req.AmountCents > bal.AvailableCents {
		return ErrInsufficientBalance
	}

	limit := c.defaultDailyLimitCents
	if acct, err := c.accounts.Get(ctx, req.AccountID); err == nil && acct.DailyLimitCents > 0 {
		limit = acct.DailyLimitCents
	}

	held, err := c.balances.HeldSince(ctx, req.AccountID, startOfDayUTC(time.Now()))
	if err != nil {
		return fmt.Errorf("reading daily usage: %w", err)
	}
	if held+req.AmountCents > limit {
		return ErrDailyLimitExceeded
	}
	return nil
}

// createOrOriginal inserts the record or, on an idempotency-key race,
// returns the record the racing call created.
func (c *Coordinator) createOrOriginal(ctx context.Context, w *WithdrawalRequest) (*Result, error) {
	err := c.store.Create(ctx, w)
	if err == nil {
		return &Result{Withdrawal: w}, nil
	}
	if errors.Is(err, ErrDuplicateKey) {
		original, gerr := c.store.GetByIdempotencyKey(ctx, w.AccountID, w.IdempotencyKey)
		if gerr != nil {
			return nil, gerr
		}
		metrics.WithdrawalsTotal.WithLabelValues("duplicate").Inc()
		return &Result{Withdrawal: original, Duplicate: true}, nil
	}
	return nil, fmt.Errorf("creating withdrawal: %w", err)
}

func (c *Coordinator) recordEvent(ctx context.Context, req Request, typ audit.EventType, a *risk.Assessment) {
	if c.auditLog == nil {
		return
	}
	event := &audit.SecurityEvent{
		AccountID: req.AccountID,
		Type:      typ,
		SourceIP:  req.SourceIP,
		UserAgent: req.UserAgent,
	}
	if a != nil {
		event.RiskScore = a.Score
		event.Flags = flagStrings(a.Flags)
	}
	if err := c.auditLog.Append(ctx, event); err != nil {
		logging.L(ctx).Warn("security event write failed",
			"account_id", req.AccountID, "type", string(typ), "error", err)
	}
}

// AddMethod registers a payout destination. New methods start
// unverified; the risk engine scores them accordingly for 72 hours.
func (c *Coordinator) AddMethod(ctx context.Context, accountID, rail, display string) (*PayoutMethod, error) {
	if accountID == "" || rail == "" {
		return nil, fmt.Errorf("%w: account and rail are required", ErrInvalidRequest)
	}
	m := &PayoutMethod{
		ID:        idgen.WithPrefix("pm"),
		AccountID: accountID,
		Rail:      rail,
		Display:   display,
		AddedAt:   time.Now(),
	}
	if err := c.methods.CreateMethod(ctx, m); err != nil {
		return nil, fmt.Errorf("creating payout method: %w", err)
	}
	return m, nil
}

// ListMethods returns an account's registered payout destinations.
func (c *Coordinator) ListMethods(ctx context.Context, accountID string) ([]*PayoutMethod, error) {
	return c.methods.ListMethods(ctx, accountID)
}

// VerifyMethod marks a payout destination as verified.
func (c *Coordinator) VerifyMethod(ctx context.Context, id string) error {
	return c.methods.MarkVerified(ctx, id, time.Now())
}

// Get returns a withdrawal request by ID.
func (c *Coordinator) Get(ctx context.Context, id string) (*WithdrawalRequest, error) {
	return c.store.Get(ctx, id)
}

// ListByAccount returns an account's withdrawal requests, newest first.
func (c *Coordinator) ListByAccount(ctx context.Context, accountID string, limit int) ([]*WithdrawalRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	return c.store.ListByAccount(ctx, accountID, limit)
}

// ReviewQueue returns parked withdrawals, oldest first.
func (c *Coordinator) ReviewQueue(ctx context.Context, limit int) ([]*WithdrawalRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	return c.store.ListByStatus(ctx, StatusPendingReview, limit)
}

func flagStrings(flags []risk.Flag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}

func startOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
