package engine

import (
	"context"
	"fmt"

	"github.com/kentomson01/stacksbet/internal/model"
)

// BalanceReader is the read half of the value ledger.
type BalanceReader interface {
	Balance(ctx context.Context, account string) (uint64, error)
}

// PredictionLedger owns one stake record per (market, participant).
type PredictionLedger struct {
	registry *Registry
	balances BalanceReader
	entries  map[model.PredictionKey]*model.Prediction
}

func NewPredictionLedger(reg *Registry, balances BalanceReader) *PredictionLedger {
	return &PredictionLedger{
		registry: reg,
		balances: balances,
		entries:  make(map[model.PredictionKey]*model.Prediction),
	}
}

func (l *PredictionLedger) Get(marketID uint64, participant string) (model.Prediction, bool) {
	p, ok := l.entries[model.PredictionKey{MarketID: marketID, Participant: participant}]
	if !ok {
		return model.Prediction{}, false
	}
	return *p, true
}

func (l *PredictionLedger) Len() int { return len(l.entries) }

// ValidateStake runs every placeStake check, in order, without mutating anything.
func (l *PredictionLedger) ValidateStake(ctx context.Context, cfg model.PlatformConfig, marketID uint64, participant string, d model.Direction, amount, now uint64) error {
	if participant == cfg.Escrow {
		return fmt.Errorf("%w: the escrow account cannot stake", model.ErrInvalidParameter)
	}
	m, ok := l.registry.Get(marketID)
	if !ok {
		return fmt.Errorf("market %d: %w", marketID, model.ErrNotFound)
	}
	if !m.IsOpen(now) {
		return fmt.Errorf("%w: market %d not accepting predictions at height %d", model.ErrMarketClosed, marketID, now)
	}
	if !d.Valid() {
		return fmt.Errorf("%w: direction %q", model.ErrInvalidPrediction, d)
	}
	if amount < cfg.MinimumStake {
		return fmt.Errorf("%w: stake %d below minimum %d", model.ErrInvalidParameter, amount, cfg.MinimumStake)
	}
	bal, err := l.balances.Balance(ctx, participant)
	if err != nil {
		return fmt.Errorf("balance %s: %w", participant, err)
	}
	if bal < amount {
		return fmt.Errorf("%w: need %d, have %d", model.ErrInsufficientBalance, amount, bal)
	}
	if _, exists := l.entries[model.PredictionKey{MarketID: marketID, Participant: participant}]; exists {
		return model.ErrDuplicatePrediction
	}
	if _, err := model.AddAmount(m.TotalPool(), amount); err != nil {
		return err
	}
	if _, err := model.AddAmount(l.registry.Volume(), amount); err != nil {
		return err
	}
	return nil
}

func (l *PredictionLedger) record(p model.Prediction) {
	k := p.Key()
	if _, exists := l.entries[k]; exists {
		return
	}
	l.entries[k] = &p
}

func (l *PredictionLedger) markClaimed(k model.PredictionKey, payout uint64) {
	if p := l.entries[k]; p != nil {
		p.Claimed = true
		p.Payout = payout
	}
}
