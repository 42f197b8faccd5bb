package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/clearhold/clearhold/internal/logging"
	"github.com/clearhold/clearhold/internal/metrics"
	"github.com/clearhold/clearhold/internal/traces"
)

// HandlerFunc processes one verified, deduplicated event. Returning an
// error surfaces a 5xx to the processor so it redelivers; the retry is
// then recognized as a duplicate at the ledger.
type HandlerFunc func(ctx context.Context, event *Event) error

// Result reports what ingestion did with a delivery.
type Result struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Handled   bool   `json:"handled"`
	EventID   string `json:"eventId,omitempty"`
	EventType string `json:"eventType,omitempty"`
}

// Processor verifies, deduplicates, and dispatches inbound processor
// notifications. Handlers are registered per event type at startup;
// there is no process-wide state, every dependency is injected.
type Processor struct {
	secret    string
	tolerance time.Duration
	ledger    EventLedger
	handlers  map[string]HandlerFunc
	now       func() time.Time
}

func NewProcessor(secret string, tolerance time.Duration, ledger EventLedger) *Processor {
	return &Processor{
		secret:    secret,
		tolerance: tolerance,
		ledger:    ledger,
		handlers:  make(map[string]HandlerFunc),
		now:       time.Now,
	}
}

// Register binds a handler to an event type. Not safe to call after
// serving starts; registration is a wiring-time operation.
func (p *Processor) Register(eventType string, h HandlerFunc) {
	p.handlers[eventType] = h
}

// Ingest runs the full pipeline: verify, parse, record, dispatch.
//
// The ledger insert happens before dispatch so concurrent or retried
// deliveries of the same event identifier settle at the uniqueness
// constraint: exactly one delivery dispatches, every other returns
// Duplicate without side effects.
func (p *Processor) Ingest(ctx context.Context, body []byte, signatureHeader string) (*Result, error) {
	if err := VerifySignature(p.secret, signatureHeader, body, p.tolerance, p.now()); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	event, err := Parse(body)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "webhook.ingest",
		traces.EventID(event.ID), traces.EventType(event.Type))
	defer span.End()

	digest := sha256.Sum256(body)
	record := &ExternalEventRecord{
		ID:            event.ID,
		Type:          event.Type,
		PayloadDigest: hex.EncodeToString(digest[:]),
		ProcessedAt:   p.now(),
	}
	if err := p.ledger.Insert(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			metrics.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
			logging.L(ctx).Info("duplicate event delivery ignored",
				"event_id", event.ID, "event_type", event.Type)
			return &Result{Received: true, Duplicate: true, EventID: event.ID, EventType: event.Type}, nil
		}
		metrics.WebhookEventsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("recording event: %w", err)
	}

	handler, ok := p.handlers[event.Type]
	if !ok {
		// Unknown types are acknowledged so the processor stops
		// redelivering them, but reported as not handled.
		metrics.WebhookEventsTotal.WithLabelValues("unhandled").Inc()
		logging.L(ctx).Info("no handler for event type",
			"event_id", event.ID, "event_type", event.Type)
		return &Result{Received: true, Handled: false, EventID: event.ID, EventType: event.Type}, nil
	}

	if err := handler(ctx, event); err != nil {
		// Surface a 5xx so the processor retries; the ledger record is
		// already committed, so the retry lands on the duplicate path.
		metrics.WebhookEventsTotal.WithLabelValues("failed").Inc()
		logging.L(ctx).Error("event handler failed",
			"event_id", event.ID, "event_type", event.Type, "error", err)
		return nil, fmt.Errorf("handling %s: %w", event.Type, err)
	}

	metrics.WebhookEventsTotal.WithLabelValues("processed").Inc()
	return &Result{Received: true, Handled: true, EventID: event.ID, EventType: event.Type}, nil
}
