// Package webhook ingests asynchronous processor notifications: it
// verifies their authenticity, deduplicates them against an append-only
// event ledger, and dispatches them to registered handlers.
//
// Deduplication happens before dispatch. The ledger insert commits
// first, so a crash between insert and dispatch loses that one event
// rather than ever applying it twice; the processor's retry path plus
// handler-failure 5xx responses cover redelivery for handler errors.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrMalformedPayload = errors.New("malformed event payload")

// Event is the typed envelope of one processor notification. Data keeps
// the type-specific object raw; handlers decode what they need.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt int64           `json:"created"`
	Data      json.RawMessage `json:"data"`
}

// PayoutObject is the payload slice payout.* handlers read.
type PayoutObject struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	FailureMessage string `json:"failure_message"`
}

// PaymentObject is the payload slice payment/escrow handlers read.
type PaymentObject struct {
	ID             string `json:"id"`
	AmountCents    int64  `json:"amount"`
	Currency       string `json:"currency"`
	TransferID     string `json:"transfer"`
	FailureMessage string `json:"failure_message"`
	Metadata       struct {
		EscrowID   string `json:"escrow_id"`
		ContractID string `json:"contract_id"`
	} `json:"metadata"`
}

// Parse decodes a raw notification body into an Event.
func Parse(body []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if e.ID == "" || e.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedPayload)
	}
	return &e, nil
}

// Payout decodes the event's data as a payout object.
func (e *Event) Payout() (*PayoutObject, error) {
	var wrapper struct {
		Object PayoutObject `json:"object"`
	}
	if err := json.Unmarshal(e.Data, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if wrapper.Object.ID == "" {
		return nil, fmt.Errorf("%w: missing payout id", ErrMalformedPayload)
	}
	return &wrapper.Object, nil
}

// Payment decodes the event's data as a payment object.
func (e *Event) Payment() (*PaymentObject, error) {
	var wrapper struct {
		Object PaymentObject `json:"object"`
	}
	if err := json.Unmarshal(e.Data, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if wrapper.Object.ID == "" {
		return nil, fmt.Errorf("%w: missing payment id", ErrMalformedPayload)
	}
	return &wrapper.Object, nil
}

// Created returns the event timestamp, or the zero time when absent.
func (e *Event) Created() time.Time {
	if e.CreatedAt == 0 {
		return time.Time{}
	}
	return time.Unix(e.CreatedAt, 0)
}
