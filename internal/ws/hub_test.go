package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitSubscribers(t *testing.T, h *Hub, room string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers(room) != n {
		if time.Now().After(deadline) {
			t.Fatalf("room %s has %d subscribers, want %d", room, h.Subscribers(room), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishReachesRoomSubscribers(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	c := dial(t, srv.URL)
	if err := c.WriteJSON(map[string]string{"action": "subscribe", "room": "7"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitSubscribers(t, h, "7", 1)

	h.Publish("8", "MarketCreated", nil)
	h.Publish("7", "StakePlaced", map[string]int{"amount": 5})

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Msg
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "StakePlaced" || msg.Room != "7" {
		t.Fatalf("got %+v, want StakePlaced on room 7", msg)
	}
}

func TestUnsubscribeAndDisconnect(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	c := dial(t, srv.URL)
	c.WriteJSON(map[string]string{"action": "subscribe", "room": "1"})
	c.WriteJSON(map[string]string{"action": "subscribe", "room": "platform"})
	waitSubscribers(t, h, "1", 1)
	waitSubscribers(t, h, "platform", 1)

	c.WriteJSON(map[string]string{"action": "unsubscribe", "room": "1"})
	waitSubscribers(t, h, "1", 0)

	c.Close()
	waitSubscribers(t, h, "platform", 0)
}
