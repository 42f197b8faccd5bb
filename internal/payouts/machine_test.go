package payouts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearhold/clearhold/internal/ledger"
)

type fakeNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (f *fakeNotifier) Notify(ctx context.Context, accountID, kind, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	return nil
}

func (f *fakeNotifier) Kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.kinds))
	copy(out, f.kinds)
	return out
}

func newTestMachine(t *testing.T) (*Machine, *MemoryStore, *ledger.MemoryStore, *fakeNotifier) {
	t.Helper()
	store := NewMemoryStore()
	balances := ledger.NewMemoryStore()
	notifier := &fakeNotifier{}
	machine := NewMachine(store, balances).WithNotifier(notifier)
	return machine, store, balances, notifier
}

// seedHeldWithdrawal creates a queued withdrawal with its hold in place,
// mirroring the state the coordinator leaves behind after initiation.
func seedHeldWithdrawal(t *testing.T, store *MemoryStore, balances *ledger.MemoryStore, amountCents int64) *WithdrawalRequest {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, balances.Credit(ctx, "acct_1", amountCents*2, "seed"))

	now := time.Now()
	w := &WithdrawalRequest{
		ID:             "wd_test_1",
		AccountID:      "acct_1",
		AmountCents:    amountCents,
		Currency:       "usd",
		PayoutMethodID: "pm_1",
		Urgency:        UrgencyStandard,
		Status:         StatusQueued,
		IdempotencyKey: "key-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.Create(ctx, w))
	require.NoError(t, balances.Hold(ctx, w.AccountID, w.AmountCents, w.ID))
	return w
}

func TestMarkPaidConfirmsHold(t *testing.T) {
	machine, store, balances, notifier := newTestMachine(t)
	ctx := context.Background()
	w := seedHeldWithdrawal(t, store, balances, 10_000)

	paid, applied, err := machine.MarkPaid(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusPaid, paid.Status)

	bal, err := balances.Balance(ctx, w.AccountID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.PendingCents)
	assert.Equal(t, int64(10_000), bal.WithdrawnCents)
	assert.Contains(t, notifier.Kinds(), "withdrawal_paid")
}

func TestMarkFailedReleasesHold(t *testing.T) {
	machine, store, balances, _ := newTestMachine(t)
	ctx := context.Background()
	w := seedHeldWithdrawal(t, store, balances, 10_000)

	failed, applied, err := machine.MarkFailed(ctx, w.ID, "bank rejected")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "bank rejected", failed.FailureReason)

	bal, err := balances.Balance(ctx, w.AccountID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.PendingCents)
	assert.Equal(t, int64(20_000), bal.AvailableCents)
	assert.Equal(t, int64(0), bal.WithdrawnCents)
}

func TestCancelAfterPaidIsDiscarded(t *testing.T) {
	machine, store, balances, _ := newTestMachine(t)
	ctx := context.Background()
	w := seedHeldWithdrawal(t, store, balances, 10_000)

	_, _, err := machine.MarkPaid(ctx, w.ID)
	require.NoError(t, err)

	// A late canceled notification must not move a terminal record
	// backward or touch the ledger again.
	after, applied, err := machine.Cancel(ctx, w.ID, "processor canceled")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, StatusPaid, after.Status)

	bal, err := balances.Balance(ctx, w.AccountID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), bal.WithdrawnCents)
	assert.Equal(t, int64(10_000), bal.AvailableCents)
}

func TestReturnedAfterPaidIsDiscarded(t *testing.T) {
	machine, store, balances, _ := newTestMachine(t)
	ctx := context.Background()
	w := seedHeldWithdrawal(t, store, balances, 5_000)

	_, _, err := machine.MarkPaid(ctx, w.ID)
	require.NoError(t, err)

	after, applied, err := machine.MarkReturned(ctx, w.ID, "account closed")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, StatusPaid, after.Status)
}

func TestProcessingThenPaid(t *testing.T) {
	machine, store, balances, _ := newTestMachine(t)
	ctx := context.Background()
	w := seedHeldWithdrawal(t, store, balances, 5_000)

	processing, _, err := machine.MarkProcessing(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, processing.Status)

	paid, _, err := machine.MarkPaid(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, paid.Status)
}

func TestDuplicatePaidNotificationSettlesOnce(t *testing.T) {
	machine, store, balances, notifier := newTestMachine(t)
	ctx := context.Background()
	w := seedHeldWithdrawal(t, store, balances, 5_000)

	_, applied, err := machine.MarkPaid(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	// The same payout delivered again under a fresh event ID lands on
	// a record already in the target state: no settlement, no second
	// notification.
	_, applied, err = machine.MarkPaid(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	bal, err := balances.Balance(ctx, w.AccountID)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), bal.WithdrawnCents)
	assert.Equal(t, []string{"withdrawal_paid"}, notifier.Kinds())
}

func TestRejectDoesNotTouchLedger(t *testing.T) {
	machine, store, balances, notifier := newTestMachine(t)
	ctx := context.Background()

	require.NoError(t, balances.Credit(ctx, "acct_1", 10_000, "seed"))
	now := time.Now()
	w := &WithdrawalRequest{
		ID:             "wd_review_1",
		AccountID:      "acct_1",
		AmountCents:    8_000,
		Currency:       "usd",
		Status:         StatusPendingReview,
		IdempotencyKey: "key-r",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.Create(ctx, w))

	rejected, applied, err := machine.Reject(ctx, w.ID, "manual review declined")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusFailed, rejected.Status)

	// No hold existed, so the full balance stays available.
	bal, err := balances.Balance(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), bal.AvailableCents)
	assert.Contains(t, notifier.Kinds(), "withdrawal_rejected")
}

func TestTransitionGraph(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPendingReview, StatusRequested, true},
		{StatusPendingReview, StatusFailed, true},
		{StatusPendingReview, StatusPaid, false},
		{StatusRequested, StatusQueued, true},
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusPaid, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusPaid, StatusCancelled, false},
		{StatusFailed, StatusRequested, false},
		{StatusReturned, StatusPaid, false},
		{StatusCancelled, StatusProcessing, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []Status{StatusPaid, StatusFailed, StatusReturned, StatusCancelled} {
		assert.True(t, s.IsTerminal(), string(s))
	}
	for _, s := range []Status{StatusPendingReview, StatusRequested, StatusQueued, StatusProcessing} {
		assert.False(t, s.IsTerminal(), string(s))
	}
}
