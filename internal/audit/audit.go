// Package audit provides the append-only security event trail.
//
// Entries are never mutated or deleted. The risk collectors read this
// trail for behavioral signals (attempt rates, recent source addresses).
package audit

import (
	"context"
	"time"
)

// EventType classifies a security event.
type EventType string

const (
	EventWithdrawalAttempt  EventType = "withdrawal_attempt"
	EventWithdrawalReview   EventType = "withdrawal_review"
	EventWithdrawalRejected EventType = "withdrawal_rejected"
	EventLoginSuccess       EventType = "login_success"
	EventWebhookRejected    EventType = "webhook_rejected"
)

// SecurityEvent is one entry in the audit trail.
type SecurityEvent struct {
	ID        string            `json:"id"`
	AccountID string            `json:"accountId"`
	Type      EventType         `json:"type"`
	SourceIP  string            `json:"sourceIp,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
	RiskScore int               `json:"riskScore"`
	Flags     []string          `json:"flags,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Store persists security events.
type Store interface {
	Append(ctx context.Context, e *SecurityEvent) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*SecurityEvent, error)

	// CountByType counts events of the given type for an account since
	// the given time. Feeds the behavior collector's rate flags.
	CountByType(ctx context.Context, accountID string, typ EventType, since time.Time) (int, error)

	// RecentSourceIPs returns distinct source addresses from the
	// account's most recent successful requests, newest first.
	RecentSourceIPs(ctx context.Context, accountID string, limit int) ([]string, error)
}
