package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/kentomson01/stacksbet/internal/model"
)

type fakeSource struct {
	height  uint64
	markets []model.Market
}

func (f *fakeSource) Height() uint64 { return f.height }

func (f *fakeSource) AwaitingResolution() []model.Market {
	var out []model.Market
	for _, m := range f.markets {
		if m.AwaitingResolution(f.height) {
			out = append(out, m)
		}
	}
	return out
}

func TestSweepAnnouncesOnce(t *testing.T) {
	src := &fakeSource{height: 100, markets: []model.Market{
		{ID: 0, CloseHeight: 100},
		{ID: 1, CloseHeight: 150},
		{ID: 2, CloseHeight: 90, Resolved: true},
	}}
	var rooms []string
	s, err := New("@every 1h", src, func(room, msgType string, _ any) {
		if msgType != MsgAwaitingResolution {
			t.Fatalf("unexpected message %s", msgType)
		}
		rooms = append(rooms, room)
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if n := s.Sweep(); n != 1 {
		t.Fatalf("first sweep announced %d, want 1", n)
	}
	if n := s.Sweep(); n != 0 {
		t.Fatalf("repeat sweep announced %d, want 0", n)
	}
	src.height = 150
	if n := s.Sweep(); n != 1 {
		t.Fatalf("later sweep announced %d, want 1", n)
	}
	if len(rooms) != 2 || rooms[0] != "0" || rooms[1] != "1" {
		t.Fatalf("rooms = %v", rooms)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	if _, err := New("every so often", &fakeSource{}, nil, nil); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := New("@every 1h", &fakeSource{}, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}
