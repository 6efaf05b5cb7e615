// Package sweeper periodically announces markets that have reached their
// close height and are waiting on the oracle.
package sweeper

import (
	"context"
	"strconv"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kentomson01/stacksbet/internal/model"
)

// MsgAwaitingResolution is published once per market.
const MsgAwaitingResolution = "AwaitingResolution"

type Source interface {
	AwaitingResolution() []model.Market
	Height() uint64
}

type Sweeper struct {
	cron    *cron.Cron
	src     Source
	publish func(room, msgType string, data any)
	log     *zap.Logger

	mu        sync.Mutex
	announced map[uint64]bool
}

func New(schedule string, src Source, publish func(room, msgType string, data any), log *zap.Logger) (*Sweeper, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Sweeper{
		cron:      cron.New(),
		src:       src,
		publish:   publish,
		log:       log.Named("sweeper"),
		announced: make(map[uint64]bool),
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep() }); err != nil {
		return nil, err
	}
	return s, nil
}

// Sweep announces newly awaiting markets and returns how many it announced.
func (s *Sweeper) Sweep() int {
	height := s.src.Height()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.src.AwaitingResolution() {
		if s.announced[m.ID] {
			continue
		}
		s.announced[m.ID] = true
		n++
		s.log.Info("market awaiting resolution",
			zap.Uint64("market_id", m.ID),
			zap.Uint64("close_height", m.CloseHeight),
			zap.Uint64("height", height),
			zap.Uint64("total_pool", m.TotalPool()),
		)
		if s.publish != nil {
			s.publish(strconv.FormatUint(m.ID, 10), MsgAwaitingResolution, m)
		}
	}
	return n
}

// Run starts the schedule and blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("sweeper started")
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("sweeper stopped")
	return nil
}
