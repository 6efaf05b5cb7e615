package clock

import (
	"testing"
	"time"
)

func TestWallHeight(t *testing.T) {
	genesis := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWall(genesis, 10*time.Second, 100)

	tests := []struct {
		at   time.Time
		want uint64
	}{
		{genesis.Add(-time.Minute), 100},
		{genesis, 100},
		{genesis.Add(9 * time.Second), 100},
		{genesis.Add(10 * time.Second), 101},
		{genesis.Add(25 * time.Minute), 250},
	}
	for _, tt := range tests {
		at := tt.at
		w.now = func() time.Time { return at }
		if got := w.Height(); got != tt.want {
			t.Fatalf("Height at %v = %d, want %d", at, got, tt.want)
		}
	}
}

func TestWallNeverGoesBackwards(t *testing.T) {
	genesis := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWall(genesis, time.Second, 0)
	w.now = func() time.Time { return genesis.Add(time.Hour) }
	high := w.Height()

	w.now = func() time.Time { return genesis.Add(time.Minute) }
	if got := w.Height(); got != high {
		t.Fatalf("Height after skew = %d, want %d", got, high)
	}
}

func TestManual(t *testing.T) {
	m := NewManual(5)
	if m.Advance(3) != 8 {
		t.Fatalf("Advance = %d", m.Height())
	}
	m.Set(2)
	if m.Height() != 8 {
		t.Fatalf("Set backwards moved clock to %d", m.Height())
	}
	m.Set(20)
	if m.Height() != 20 {
		t.Fatalf("Height = %d, want 20", m.Height())
	}
}
