package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kentomson01/stacksbet/internal/model"
)

// PublishFunc broadcasts a WS message for a market.
type PublishFunc func(marketID, msgType string, data any)

// PlatformRoom is the publish room for events not tied to one market.
const PlatformRoom = "platform"

// Ledger moves value between principals. Commit applies every transfer and
// journals ev as one unit; on error nothing has been applied.
type Ledger interface {
	BalanceReader
	Commit(ctx context.Context, transfers []model.Transfer, ev model.Event) error
}

// Journal replays committed events in sequence order. Several engines may
// share one journal; each follows the others' commits through it.
type Journal interface {
	EventsAfter(ctx context.Context, seq int64) ([]model.Event, error)
}

// Clock supplies the current, non-decreasing block height.
type Clock interface {
	Height() uint64
}

var ErrStopped = errors.New("engine stopped")

// maxCommitAttempts bounds retries when another writer takes our seq.
const maxCommitAttempts = 3

// ── Engine ───────────────────────────────────────────

// Engine serialises every mutating operation through one goroutine. State is
// only changed by applying an event the ledger has already committed.
type Engine struct {
	mu          sync.RWMutex
	cfg         model.PlatformConfig
	registry    *Registry
	predictions *PredictionLedger
	settlement  *Settlement
	stats       *StatsTracker
	seq         int64

	ledger    Ledger
	journal   Journal
	clock     Clock
	publish   PublishFunc
	log       *zap.Logger
	syncEvery time.Duration

	cmdCh chan command
	quit  chan struct{}
}

func New(opts Options, ledger Ledger, clock Clock, pub PublishFunc, log *zap.Logger) (*Engine, error) {
	cfg, err := opts.config()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	reg := NewRegistry()
	preds := NewPredictionLedger(reg, ledger)
	return &Engine{
		cfg:         cfg,
		registry:    reg,
		predictions: preds,
		settlement:  NewSettlement(reg, preds),
		stats:       NewStatsTracker(),
		syncEvery:   opts.SyncInterval,
		ledger:      ledger,
		clock:       clock,
		publish:     pub,
		log:         log.Named("engine"),
		cmdCh:       make(chan command),
		quit:        make(chan struct{}),
	}, nil
}

// Boot rebuilds state from the journal and keeps following it. Call it
// before Run.
func (e *Engine) Boot(ctx context.Context, j Journal) error {
	e.journal = j
	n, err := e.catchUp(ctx)
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	e.log.Info("replayed journal",
		zap.Int("events", n),
		zap.Uint64("markets", e.registry.NextID()),
		zap.Int("predictions", e.predictions.Len()),
	)
	return nil
}

// Run executes commands until ctx is cancelled. With a sync interval set it
// also pulls in commits made by other engines while idle.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.quit)
	var tick <-chan time.Time
	if e.syncEvery > 0 && e.journal != nil {
		t := time.NewTicker(e.syncEvery)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if _, err := e.catchUp(ctx); err != nil {
				e.log.Warn("journal sync failed", zap.Error(err))
			}
		case cmd := <-e.cmdCh:
			cmd.exec(cmd.ctx)
			close(cmd.done)
		}
	}
}

// catchUp applies events journaled after e.seq. Engine goroutine or Boot only.
func (e *Engine) catchUp(ctx context.Context) (int, error) {
	if e.journal == nil {
		return 0, nil
	}
	events, err := e.journal.EventsAfter(ctx, e.seq)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, ev := range events {
		if ev.Seq != e.seq+1 {
			return i, fmt.Errorf("journal gap: expected seq %d, got %d", e.seq+1, ev.Seq)
		}
		e.apply(ev)
	}
	return len(events), nil
}

// Sync applies whatever other engines sharing the journal have committed.
func (e *Engine) Sync(ctx context.Context) error {
	_, err := submit(ctx, e, func(context.Context) (struct{}, error) { return struct{}{}, nil })
	return err
}

// ── Commands ─────────────────────────────────────────

type command struct {
	ctx  context.Context
	exec func(ctx context.Context)
	done chan struct{}
}

// submit hands fn to the engine goroutine and waits for it. Once accepted a
// command always runs to completion, even if ctx is cancelled meanwhile.
func submit[T any](ctx context.Context, e *Engine, fn func(context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	cmd := command{
		ctx:  context.WithoutCancel(ctx),
		exec: func(ctx context.Context) { out, err = synced(ctx, e, fn) },
		done: make(chan struct{}),
	}
	select {
	case e.cmdCh <- cmd:
	case <-ctx.Done():
		return out, ctx.Err()
	case <-e.quit:
		return out, ErrStopped
	}
	<-cmd.done
	return out, err
}

// synced runs fn against the journal tail. If another writer commits between
// catch-up and fn's own commit, fn is validated again from the new tail.
func synced[T any](ctx context.Context, e *Engine, fn func(context.Context) (T, error)) (T, error) {
	for attempt := 1; ; attempt++ {
		if n, err := e.catchUp(ctx); err != nil {
			var zero T
			return zero, fmt.Errorf("journal sync: %w", err)
		} else if n > 0 {
			e.log.Debug("applied foreign commits", zap.Int("events", n), zap.Int64("seq", e.seq))
		}
		out, err := fn(ctx)
		if !errors.Is(err, model.ErrSeqConflict) || attempt == maxCommitAttempts {
			return out, err
		}
		e.log.Info("journal moved during commit; retrying", zap.Int("attempt", attempt))
	}
}

// CreateMarket opens a new market. Owner only.
func (e *Engine) CreateMarket(ctx context.Context, caller string, req model.CreateMarketReq) (uint64, error) {
	return submit(ctx, e, func(ctx context.Context) (uint64, error) {
		return e.createMarket(ctx, caller, req)
	})
}

// MakePrediction escrows a stake on one side of an open market.
func (e *Engine) MakePrediction(ctx context.Context, caller string, marketID uint64, req model.PredictionReq) error {
	_, err := submit(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.placeStake(ctx, caller, marketID, req.Direction, req.Amount)
	})
	return err
}

// ResolveMarket records the final price. Oracle only, once per market.
func (e *Engine) ResolveMarket(ctx context.Context, caller string, marketID, finalPrice uint64) error {
	_, err := submit(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.resolveMarket(ctx, caller, marketID, finalPrice)
	})
	return err
}

// ClaimWinnings pays out a winning prediction and returns the net amount.
func (e *Engine) ClaimWinnings(ctx context.Context, caller string, marketID uint64) (model.ClaimResult, error) {
	return submit(ctx, e, func(ctx context.Context) (model.ClaimResult, error) {
		return e.claim(ctx, caller, marketID)
	})
}

func (e *Engine) UpdateOracle(ctx context.Context, caller, oracle string) error {
	_, err := submit(ctx, e, func(ctx context.Context) (struct{}, error) {
		if err := requireOwner(e.cfg, caller, "update oracle"); err != nil {
			return struct{}{}, err
		}
		if err := validateOracle(e.cfg, oracle); err != nil {
			return struct{}{}, err
		}
		ev := e.newEvent(model.EventOracleUpdated, caller)
		ev.Account = oracle
		return struct{}{}, e.commit(ctx, nil, ev)
	})
	return err
}

func (e *Engine) UpdateMinimumStake(ctx context.Context, caller string, minimum uint64) error {
	_, err := submit(ctx, e, func(ctx context.Context) (struct{}, error) {
		if err := requireOwner(e.cfg, caller, "update minimum stake"); err != nil {
			return struct{}{}, err
		}
		if err := validateMinimumStake(minimum); err != nil {
			return struct{}{}, err
		}
		ev := e.newEvent(model.EventMinimumStakeUpdated, caller)
		ev.Amount = minimum
		return struct{}{}, e.commit(ctx, nil, ev)
	})
	return err
}

func (e *Engine) UpdatePlatformFee(ctx context.Context, caller string, bps uint64) error {
	_, err := submit(ctx, e, func(ctx context.Context) (struct{}, error) {
		if err := requireOwner(e.cfg, caller, "update platform fee"); err != nil {
			return struct{}{}, err
		}
		if err := validateFeeRate(bps); err != nil {
			return struct{}{}, err
		}
		ev := e.newEvent(model.EventFeeRateUpdated, caller)
		ev.Amount = bps
		return struct{}{}, e.commit(ctx, nil, ev)
	})
	return err
}

// WithdrawPlatformFees moves amount from the escrow account to the owner.
func (e *Engine) WithdrawPlatformFees(ctx context.Context, caller string, amount uint64) error {
	_, err := submit(ctx, e, func(ctx context.Context) (struct{}, error) {
		if err := requireOwner(e.cfg, caller, "withdraw fees"); err != nil {
			return struct{}{}, err
		}
		if amount == 0 {
			return struct{}{}, fmt.Errorf("%w: amount must be > 0", model.ErrInvalidParameter)
		}
		bal, err := e.ledger.Balance(ctx, e.cfg.Escrow)
		if err != nil {
			return struct{}{}, fmt.Errorf("escrow balance: %w", err)
		}
		if amount > bal {
			return struct{}{}, fmt.Errorf("%w: escrow holds %d", model.ErrInsufficientBalance, bal)
		}
		ev := e.newEvent(model.EventFeesWithdrawn, caller)
		ev.Amount = amount
		ev.Account = e.cfg.Owner
		transfers := []model.Transfer{{From: e.cfg.Escrow, To: e.cfg.Owner, Amount: amount}}
		return struct{}{}, e.commit(ctx, transfers, ev)
	})
	return err
}

// ── Operations (engine goroutine) ────────────────────

func (e *Engine) createMarket(ctx context.Context, caller string, req model.CreateMarketReq) (uint64, error) {
	ev := e.newEvent(model.EventMarketCreated, caller)
	if err := e.registry.ValidateCreate(e.cfg, caller, req, ev.Height); err != nil {
		return 0, err
	}
	id := e.registry.NextID()
	ev.MarketID = &id
	ev.Price = req.ReferencePrice
	ev.OpenHeight = req.OpenHeight
	ev.CloseHeight = req.CloseHeight
	if err := e.commit(ctx, nil, ev); err != nil {
		return 0, err
	}
	e.log.Info("market created",
		zap.Uint64("market_id", id),
		zap.Uint64("reference_price", req.ReferencePrice),
		zap.Uint64("open_height", req.OpenHeight),
		zap.Uint64("close_height", req.CloseHeight),
	)
	return id, nil
}

func (e *Engine) placeStake(ctx context.Context, participant string, marketID uint64, d model.Direction, amount uint64) error {
	ev := e.newEvent(model.EventStakePlaced, participant)
	if err := e.predictions.ValidateStake(ctx, e.cfg, marketID, participant, d, amount, ev.Height); err != nil {
		return err
	}
	ev.MarketID = &marketID
	ev.Participant = participant
	ev.Direction = d
	ev.Amount = amount
	transfers := []model.Transfer{{From: participant, To: e.cfg.Escrow, Amount: amount}}
	return e.commit(ctx, transfers, ev)
}

func (e *Engine) resolveMarket(ctx context.Context, caller string, marketID, finalPrice uint64) error {
	ev := e.newEvent(model.EventMarketResolved, caller)
	if err := e.registry.ValidateResolve(e.cfg, caller, marketID, finalPrice, ev.Height); err != nil {
		return err
	}
	ev.MarketID = &marketID
	ev.Price = finalPrice
	if err := e.commit(ctx, nil, ev); err != nil {
		return err
	}
	m, _ := e.registry.Get(marketID)
	winner, _ := m.WinningDirection()
	e.log.Info("market resolved",
		zap.Uint64("market_id", marketID),
		zap.Uint64("final_price", finalPrice),
		zap.String("winner", string(winner)),
		zap.Uint64("total_pool", m.TotalPool()),
	)
	return nil
}

func (e *Engine) claim(ctx context.Context, participant string, marketID uint64) (model.ClaimResult, error) {
	payout, err := e.settlement.Quote(e.cfg, marketID, participant)
	if err != nil {
		return model.ClaimResult{}, err
	}
	ev := e.newEvent(model.EventWinningsClaimed, participant)
	ev.MarketID = &marketID
	ev.Participant = participant
	ev.Amount = payout.Net
	ev.Fee = payout.Fee
	// Both transfers and the claimed flag land together or not at all.
	if err := e.commit(ctx, payout.Transfers(e.cfg.Escrow, participant, e.cfg.Owner), ev); err != nil {
		return model.ClaimResult{}, err
	}
	return model.ClaimResult{MarketID: marketID, NetPayout: payout.Net, Fee: payout.Fee}, nil
}

func (e *Engine) newEvent(t model.EventType, caller string) model.Event {
	return model.Event{
		ID:        uuid.New().String(),
		Type:      t,
		Height:    e.clock.Height(),
		Caller:    caller,
		CreatedAt: time.Now().UTC(),
	}
}

// commit journals ev with its transfers, then applies it to memory.
func (e *Engine) commit(ctx context.Context, transfers []model.Transfer, ev model.Event) error {
	ev.Seq = e.seq + 1
	if err := e.ledger.Commit(ctx, transfers, ev); err != nil {
		if !errors.Is(err, model.ErrSeqConflict) {
			e.log.Warn("commit rejected", zap.String("type", string(ev.Type)), zap.Error(err))
		}
		return err
	}
	e.mu.Lock()
	e.apply(ev)
	e.mu.Unlock()

	if e.publish != nil {
		room := PlatformRoom
		if ev.MarketID != nil {
			room = strconv.FormatUint(*ev.MarketID, 10)
		}
		e.publish(room, string(ev.Type), ev)
	}
	return nil
}

// apply mutates state for a committed event. Caller holds e.mu.
func (e *Engine) apply(ev model.Event) {
	switch ev.Type {
	case model.EventMarketCreated:
		e.registry.create(*ev.MarketID, ev.Caller, model.CreateMarketReq{
			ReferencePrice: ev.Price,
			OpenHeight:     ev.OpenHeight,
			CloseHeight:    ev.CloseHeight,
		})
	case model.EventStakePlaced:
		e.predictions.record(model.Prediction{
			MarketID:    *ev.MarketID,
			Participant: ev.Participant,
			Direction:   ev.Direction,
			Amount:      ev.Amount,
			Height:      ev.Height,
		})
		e.registry.recordStake(*ev.MarketID, ev.Direction, ev.Amount)
		e.stats.OnStakePlaced(ev.Participant, ev.Amount)
	case model.EventMarketResolved:
		e.registry.resolve(*ev.MarketID, ev.Price, ev.Height)
	case model.EventWinningsClaimed:
		e.predictions.markClaimed(model.PredictionKey{MarketID: *ev.MarketID, Participant: ev.Participant}, ev.Amount)
		e.stats.OnPayoutClaimed(ev.Participant, ev.Amount)
		e.cfg.FeesCollected += ev.Fee
	case model.EventOracleUpdated:
		e.cfg.Oracle = ev.Account
	case model.EventMinimumStakeUpdated:
		e.cfg.MinimumStake = ev.Amount
	case model.EventFeeRateUpdated:
		e.cfg.FeeRateBps = ev.Amount
	case model.EventFeesWithdrawn:
		// value only; no engine state
	}
	e.seq = ev.Seq
}

// ── Queries ──────────────────────────────────────────

func (e *Engine) Height() uint64 { return e.clock.Height() }

func (e *Engine) Config() model.PlatformConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config()
}

func (e *Engine) config() model.PlatformConfig {
	cfg := e.cfg
	cfg.MarketCount = e.registry.NextID()
	cfg.TotalVolume = e.registry.Volume()
	return cfg
}

func (e *Engine) Market(id uint64) (model.Market, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.registry.Get(id)
	if !ok {
		return model.Market{}, fmt.Errorf("market %d: %w", id, model.ErrNotFound)
	}
	return m, nil
}

func (e *Engine) Markets() []model.Market {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.List()
}

// AwaitingResolution lists markets past close height with no final price.
func (e *Engine) AwaitingResolution() []model.Market {
	now := e.clock.Height()
	var out []model.Market
	for _, m := range e.Markets() {
		if m.AwaitingResolution(now) {
			out = append(out, m)
		}
	}
	return out
}

func (e *Engine) MarketStatus(id uint64) (model.MarketStatus, error) {
	m, err := e.Market(id)
	if err != nil {
		return model.MarketStatus{}, err
	}
	return m.Status(e.clock.Height()), nil
}

func (e *Engine) Prediction(marketID uint64, participant string) (model.Prediction, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.predictions.Get(marketID, participant)
	if !ok {
		return model.Prediction{}, fmt.Errorf("prediction %d/%s: %w", marketID, participant, model.ErrNotFound)
	}
	return p, nil
}

// PotentialWinnings estimates gross winnings from the current pools.
func (e *Engine) PotentialWinnings(marketID uint64, participant string) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settlement.Estimate(marketID, participant)
}

func (e *Engine) ParticipantStats(participant string) (model.ParticipantStats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.stats.Get(participant)
	if !ok {
		return model.ParticipantStats{}, fmt.Errorf("stats %s: %w", participant, model.ErrNotFound)
	}
	return st, nil
}

func (e *Engine) Leaderboard(limit int) []model.ParticipantStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats.Leaderboard(limit)
}

func (e *Engine) PlatformStats(ctx context.Context) (model.PlatformStats, error) {
	cfg := e.Config()
	bal, err := e.ledger.Balance(ctx, cfg.Escrow)
	if err != nil {
		return model.PlatformStats{}, fmt.Errorf("escrow balance: %w", err)
	}
	return model.PlatformStats{PlatformConfig: cfg, EscrowBalance: bal, Height: e.clock.Height()}, nil
}
