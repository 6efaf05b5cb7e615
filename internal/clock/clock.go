// Package clock supplies block heights to the engine.
package clock

import (
	"sync"
	"time"
)

// Wall derives height from elapsed wall time since genesis. It never reports
// a height lower than one it has already returned.
type Wall struct {
	genesis  time.Time
	interval time.Duration
	start    uint64
	now      func() time.Time

	mu   sync.Mutex
	last uint64
}

func NewWall(genesis time.Time, interval time.Duration, startHeight uint64) *Wall {
	if interval <= 0 {
		interval = time.Second
	}
	return &Wall{genesis: genesis, interval: interval, start: startHeight, now: time.Now, last: startHeight}
}

func (w *Wall) Height() uint64 {
	h := w.start
	if elapsed := w.now().Sub(w.genesis); elapsed > 0 {
		h += uint64(elapsed / w.interval)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if h < w.last {
		return w.last
	}
	w.last = h
	return h
}

// Manual is a clock advanced explicitly, for tests and simulations.
type Manual struct {
	mu sync.Mutex
	h  uint64
}

func NewManual(h uint64) *Manual { return &Manual{h: h} }

func (m *Manual) Height() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.h
}

// Set moves the clock to h; attempts to go backwards are ignored.
func (m *Manual) Set(h uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h > m.h {
		m.h = h
	}
}

func (m *Manual) Advance(n uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.h += n
	return m.h
}
