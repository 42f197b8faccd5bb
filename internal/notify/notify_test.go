package notify

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearhold/clearhold/internal/pagination"
)

func TestNotifyInsertsAndLists(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, svc.Notify(ctx, "acct_1", "withdrawal_paid", "your withdrawal of $50.00 was paid"))
	require.NoError(t, svc.Notify(ctx, "acct_1", "escrow_released", "escrow funds released"))
	require.NoError(t, svc.Notify(ctx, "acct_2", "withdrawal_failed", "your withdrawal failed"))

	list, _, err := svc.ListByAccount(ctx, "acct_1", nil, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)

	// Newest first.
	assert.Equal(t, "escrow_released", list[0].Kind)
	assert.Equal(t, "withdrawal_paid", list[1].Kind)
	assert.True(t, strings.HasPrefix(list[0].ID, "ntf_"))
	assert.False(t, list[0].Read)
}

func TestListPaginates(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Notify(ctx, "acct_1", "withdrawal_paid", "paid"))
	}

	first, next, err := svc.ListByAccount(ctx, "acct_1", nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotEmpty(t, next)

	cursor, err := pagination.Decode(next)
	require.NoError(t, err)

	second, next2, err := svc.ListByAccount(ctx, "acct_1", cursor, 2)
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.NotEmpty(t, next2)

	// No overlap between pages.
	seen := map[string]bool{first[0].ID: true, first[1].ID: true}
	for _, n := range second {
		assert.False(t, seen[n.ID])
	}

	cursor2, err := pagination.Decode(next2)
	require.NoError(t, err)
	last, next3, err := svc.ListByAccount(ctx, "acct_1", cursor2, 2)
	require.NoError(t, err)
	assert.Len(t, last, 1)
	assert.Empty(t, next3)
}

func TestMarkRead(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, svc.Notify(ctx, "acct_1", "withdrawal_paid", "paid"))
	list, _, err := svc.ListByAccount(ctx, "acct_1", nil, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, svc.MarkRead(ctx, list[0].ID))

	list, _, err = svc.ListByAccount(ctx, "acct_1", nil, 0)
	require.NoError(t, err)
	assert.True(t, list[0].Read)

	assert.ErrorIs(t, svc.MarkRead(ctx, "ntf_missing"), ErrNotFound)
}

func TestNotifyMirrorsToHub(t *testing.T) {
	hub := NewHub(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  hub,
		send: make(chan []byte, 256),
		sub:  Subscription{AccountIDs: []string{"acct_1"}},
	}
	hub.register <- client
	time.Sleep(50 * time.Millisecond)

	svc := NewService(NewMemoryStore()).WithHub(hub)
	require.NoError(t, svc.Notify(ctx, "acct_1", "withdrawal_paid", "paid"))

	select {
	case msg := <-client.send:
		assert.Contains(t, string(msg), "withdrawal_paid")
		assert.Contains(t, string(msg), "acct_1")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for stream event")
	}
}
