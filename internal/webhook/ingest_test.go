package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedDelivery(t *testing.T, body string) ([]byte, string) {
	t.Helper()
	raw := []byte(body)
	return raw, Sign(testSecret, raw, time.Now())
}

func newTestProcessor() *Processor {
	return NewProcessor(testSecret, 5*time.Minute, NewMemoryLedger())
}

func TestIngestDispatchesRegisteredHandler(t *testing.T) {
	p := newTestProcessor()
	var seen *Event
	p.Register("payout.paid", func(ctx context.Context, e *Event) error {
		seen = e
		return nil
	})

	body, sig := signedDelivery(t, `{"id":"evt_1","type":"payout.paid","data":{"object":{"id":"po_1","status":"paid"}}}`)
	result, err := p.Ingest(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, result.Received)
	assert.True(t, result.Handled)
	assert.False(t, result.Duplicate)

	require.NotNil(t, seen)
	payout, err := seen.Payout()
	require.NoError(t, err)
	assert.Equal(t, "po_1", payout.ID)
}

func TestDuplicateDeliveryIsNoOp(t *testing.T) {
	p := newTestProcessor()
	var calls int
	p.Register("payout.paid", func(ctx context.Context, e *Event) error {
		calls++
		return nil
	})

	body, sig := signedDelivery(t, `{"id":"evt_dup","type":"payout.paid","data":{"object":{"id":"po_1"}}}`)

	first, err := p.Ingest(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, first.Handled)

	second, err := p.Ingest(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, second.Received)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Handled)

	assert.Equal(t, 1, calls)
}

func TestUnknownEventTypeAcknowledged(t *testing.T) {
	p := newTestProcessor()

	body, sig := signedDelivery(t, `{"id":"evt_2","type":"invoice.created","data":{}}`)
	result, err := p.Ingest(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, result.Received)
	assert.False(t, result.Handled)
}

func TestBadSignatureNeverReachesLedger(t *testing.T) {
	p := newTestProcessor()
	p.Register("payout.paid", func(ctx context.Context, e *Event) error {
		t.Fatal("handler must not run for an unverified delivery")
		return nil
	})

	body := []byte(`{"id":"evt_3","type":"payout.paid","data":{}}`)
	_, err := p.Ingest(context.Background(), body, Sign("whsec_wrong", body, time.Now()))
	assert.ErrorIs(t, err, ErrBadSignature)

	_, err = p.ledger.Get(context.Background(), "evt_3")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestHandlerFailureCommitsLedgerFirst(t *testing.T) {
	p := newTestProcessor()
	p.Register("payout.failed", func(ctx context.Context, e *Event) error {
		return errors.New("datastore down")
	})

	body, sig := signedDelivery(t, `{"id":"evt_4","type":"payout.failed","data":{"object":{"id":"po_2"}}}`)
	_, err := p.Ingest(context.Background(), body, sig)
	require.Error(t, err)

	// The dedup record committed before dispatch, so the retried
	// delivery resolves as a duplicate.
	record, err := p.ledger.Get(context.Background(), "evt_4")
	require.NoError(t, err)
	assert.Equal(t, "payout.failed", record.Type)

	retry, err := p.Ingest(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, retry.Duplicate)
}

func TestMalformedPayloadRejected(t *testing.T) {
	p := newTestProcessor()

	for _, body := range []string{
		`not json`,
		`{"type":"payout.paid"}`,
		`{"id":"evt_5"}`,
	} {
		raw, sig := signedDelivery(t, body)
		_, err := p.Ingest(context.Background(), raw, sig)
		assert.ErrorIs(t, err, ErrMalformedPayload, body)
	}
}

func TestConcurrentDeliveriesDispatchOnce(t *testing.T) {
	p := newTestProcessor()
	var dispatched int64
	p.Register("payout.paid", func(ctx context.Context, e *Event) error {
		atomic.AddInt64(&dispatched, 1)
		return nil
	})

	body, sig := signedDelivery(t, `{"id":"evt_race","type":"payout.paid","data":{"object":{"id":"po_9"}}}`)

	const n = 25
	var wg sync.WaitGroup
	var duplicates int64
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := p.Ingest(context.Background(), body, sig)
			if err != nil {
				errs <- err
				return
			}
			if result.Duplicate {
				atomic.AddInt64(&duplicates, 1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected ingest error: %v", err)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&dispatched), "exactly one delivery dispatches")
	assert.Equal(t, int64(n-1), atomic.LoadInt64(&duplicates), "the rest resolve as duplicates")
}

func TestDistinctEventsProcessInParallel(t *testing.T) {
	p := newTestProcessor()
	var dispatched int64
	p.Register("payout.paid", func(ctx context.Context, e *Event) error {
		atomic.AddInt64(&dispatched, 1)
		return nil
	})

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, sig := signedDelivery(t,
				fmt.Sprintf(`{"id":"evt_%d","type":"payout.paid","data":{"object":{"id":"po_%d"}}}`, i, i))
			_, err := p.Ingest(context.Background(), body, sig)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(n), atomic.LoadInt64(&dispatched))
}
