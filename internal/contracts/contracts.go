// Package contracts tracks contract status. The escrow lane drives the
// funded/completed/cancelled flags; everything else about contracts
// (documents, negotiation, milestones) lives outside this service.
package contracts

import (
	"context"
	"errors"
	"time"

	"github.com/clearhold/clearhold/internal/idgen"
)

var (
	ErrNotFound      = errors.New("contract not found")
	ErrInvalidStatus = errors.New("invalid contract status for this operation")
)

// Status is a contract's lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusFunded    Status = "funded"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Contract is the status slice of a contract record.
type Contract struct {
	ID                string    `json:"id"`
	ClientAccountID   string    `json:"clientAccountId"`
	ProviderAccountID string    `json:"providerAccountId"`
	Title             string    `json:"title"`
	Status            Status    `json:"status"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Store persists contracts.
type Store interface {
	Create(ctx context.Context, c *Contract) error
	Get(ctx context.Context, id string) (*Contract, error)
	SetStatus(ctx context.Context, id string, from []Status, to Status) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Contract, error)
}

// Service implements contract status updates. It satisfies the escrow
// package's ContractUpdater.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create opens a draft contract.
func (s *Service) Create(ctx context.Context, clientAccountID, providerAccountID, title string) (*Contract, error) {
	now := time.Now()
	c := &Contract{
		ID:                idgen.WithPrefix("ctr"),
		ClientAccountID:   clientAccountID,
		ProviderAccountID: providerAccountID,
		Title:             title,
		Status:            StatusDraft,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns a contract by ID.
func (s *Service) Get(ctx context.Context, id string) (*Contract, error) {
	return s.store.Get(ctx, id)
}

// ListByAccount returns contracts where the account is a party.
func (s *Service) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Contract, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAccount(ctx, accountID, limit)
}

// MarkFunded moves a draft contract to funded and immediately active.
// Idempotent against repeated escrow notifications: a contract already
// past draft is left alone.
func (s *Service) MarkFunded(ctx context.Context, id string) error {
	err := s.store.SetStatus(ctx, id, []Status{StatusDraft}, StatusActive)
	if errors.Is(err, ErrInvalidStatus) {
		return nil
	}
	return err
}

// MarkCompleted finalizes an active contract after escrow release.
func (s *Service) MarkCompleted(ctx context.Context, id string) error {
	err := s.store.SetStatus(ctx, id, []Status{StatusFunded, StatusActive}, StatusCompleted)
	if errors.Is(err, ErrInvalidStatus) {
		return nil
	}
	return err
}

// MarkCancelled cancels a contract after an escrow refund or failure.
func (s *Service) MarkCancelled(ctx context.Context, id string) error {
	err := s.store.SetStatus(ctx, id, []Status{StatusDraft, StatusFunded, StatusActive}, StatusCancelled)
	if errors.Is(err, ErrInvalidStatus) {
		return nil
	}
	return err
}
