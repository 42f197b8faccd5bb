package notify

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func TestWants_AllEvents(t *testing.T) {
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &StreamEvent{Kind: "withdrawal_paid", Timestamp: time.Now()}
	if !client.wants(event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestWants_KindFilter(t *testing.T) {
	client := &Client{sub: Subscription{
		Kinds: []string{"withdrawal_paid", "escrow_released"},
	}}

	paid := &StreamEvent{Kind: "withdrawal_paid"}
	released := &StreamEvent{Kind: "escrow_released"}
	failed := &StreamEvent{Kind: "withdrawal_failed"}

	if !client.wants(paid) {
		t.Error("should receive withdrawal_paid events")
	}
	if !client.wants(released) {
		t.Error("should receive escrow_released events")
	}
	if client.wants(failed) {
		t.Error("should NOT receive withdrawal_failed events")
	}
}

func TestWants_AccountFilter(t *testing.T) {
	client := &Client{sub: Subscription{
		AccountIDs: []string{"acct_1"},
	}}

	matching := &StreamEvent{Kind: "withdrawal_paid", AccountID: "acct_1"}
	other := &StreamEvent{Kind: "withdrawal_paid", AccountID: "acct_2"}

	if !client.wants(matching) {
		t.Error("should match on account id")
	}
	if client.wants(other) {
		t.Error("should NOT receive other accounts' events")
	}
}

func TestWants_CombinedFilters(t *testing.T) {
	client := &Client{sub: Subscription{
		Kinds:      []string{"escrow_released"},
		AccountIDs: []string{"acct_1"},
	}}

	both := &StreamEvent{Kind: "escrow_released", AccountID: "acct_1"}
	wrongKind := &StreamEvent{Kind: "escrow_funded", AccountID: "acct_1"}
	wrongAccount := &StreamEvent{Kind: "escrow_released", AccountID: "acct_2"}

	if !client.wants(both) {
		t.Error("should receive when both filters match")
	}
	if client.wants(wrongKind) {
		t.Error("kind filter should exclude")
	}
	if client.wants(wrongAccount) {
		t.Error("account filter should exclude")
	}
}

func TestWants_EmptySubscription(t *testing.T) {
	client := &Client{sub: Subscription{}}

	event := &StreamEvent{Kind: "withdrawal_paid"}
	if !client.wants(event) {
		t.Error("empty subscription (no filters) should receive events")
	}
}

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&StreamEvent{Kind: "withdrawal_paid", Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("expected 1 connected client, got %v", stats["connectedClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&StreamEvent{
		Kind:      "withdrawal_paid",
		AccountID: "acct_1",
		Timestamp: time.Now(),
		Data:      map[string]any{"message": "your withdrawal was paid"},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for broadcast")
	}
}

func TestHub_FilteredClientSkipped(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AccountIDs: []string{"acct_1"}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&StreamEvent{Kind: "withdrawal_paid", AccountID: "acct_other", Timestamp: time.Now()})

	select {
	case <-client.send:
		t.Error("filtered client should not receive the event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected send channel closed on shutdown")
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for channel close")
	}

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Error("hub done channel not closed after shutdown")
	}
}
