package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/kentomson01/stacksbet/internal/ws"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return mr, c
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()
	if _, err := New(context.Background(), ClientConfig{Addr: addr}); err == nil {
		t.Fatal("expected ping error")
	}
}

func TestRateLimiterFixedWindow(t *testing.T) {
	_, c := newTestClient(t)
	rl := NewRateLimiter(c, "test:")
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return start }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "alice", 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, "alice", 3, time.Minute); ok {
		t.Fatal("fourth request allowed")
	}
	if ok, _ := rl.Allow(ctx, "bob", 3, time.Minute); !ok {
		t.Fatal("other key limited")
	}

	rl.now = func() time.Time { return start.Add(time.Minute) }
	if ok, _ := rl.Allow(ctx, "alice", 3, time.Minute); !ok {
		t.Fatal("next window still limited")
	}
}

type chanSink chan ws.Msg

func (s chanSink) Deliver(room string, payload []byte) {
	var m ws.Msg
	json.Unmarshal(payload, &m)
	s <- m
}

func TestEventBusRelay(t *testing.T) {
	mr, c := newTestClient(t)
	bus := NewEventBus(c, "stacksbet:events", nil)
	sink := make(chanSink, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Relay(ctx, sink) }()

	deadline := time.Now().Add(2 * time.Second)
	for mr.PubSubNumSub("stacksbet:events")["stacksbet:events"] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("relay never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish("3", "MarketResolved", map[string]uint64{"price": 42})
	select {
	case m := <-sink:
		if m.Room != "3" || m.Type != "MarketResolved" {
			t.Fatalf("relayed %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message relayed")
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("relay returned %v", err)
	}
}
