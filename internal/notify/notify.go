// Package notify delivers user-facing notifications for payout and
// escrow lifecycle events. Inserts are best-effort from the caller's
// point of view: a failed notification never blocks or reverses the
// money-state transition that produced it.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/clearhold/clearhold/internal/idgen"
	"github.com/clearhold/clearhold/internal/pagination"
)

var ErrNotFound = errors.New("notification not found")

// Notification is one user-facing message.
type Notification struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists notifications. Listing is keyset-paginated: results
// are ordered (created_at, id) descending and a non-nil before cursor
// returns only rows strictly older than it.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	ListByAccount(ctx context.Context, accountID string, before *pagination.Cursor, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, id string) error
}

// Service inserts notifications and mirrors them onto the live stream.
// It satisfies the Notifier interfaces in payouts and escrow.
type Service struct {
	store Store
	hub   *Hub
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// WithHub mirrors notifications onto the websocket event stream.
func (s *Service) WithHub(h *Hub) *Service {
	s.hub = h
	return s
}

// Notify inserts a notification for the account.
func (s *Service) Notify(ctx context.Context, accountID, kind, message string) error {
	n := &Notification{
		ID:        idgen.WithPrefix("ntf"),
		AccountID: accountID,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := s.store.Create(ctx, n); err != nil {
		return err
	}
	if s.hub != nil {
		s.hub.Broadcast(&StreamEvent{
			Kind:      kind,
			AccountID: accountID,
			Timestamp: n.CreatedAt,
			Data:      map[string]any{"message": message, "notification_id": n.ID},
		})
	}
	return nil
}

// ListByAccount returns one page of an account's notifications, newest
// first, plus the cursor for the next page.
func (s *Service) ListByAccount(ctx context.Context, accountID string, before *pagination.Cursor, limit int) ([]*Notification, string, error) {
	if limit <= 0 {
		limit = 50
	}
	// Fetch one extra row to learn whether another page exists.
	items, err := s.store.ListByAccount(ctx, accountID, before, limit+1)
	if err != nil {
		return nil, "", err
	}
	page, next, _ := pagination.ComputePage(items, limit, func(n *Notification) (time.Time, string) {
		return n.CreatedAt, n.ID
	})
	return page, next, nil
}

// MarkRead marks a notification as read.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	return s.store.MarkRead(ctx, id)
}
