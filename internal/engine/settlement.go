package engine

import (
	"fmt"

	"github.com/kentomson01/stacksbet/internal/model"
)

// Payout is the result of pricing a claim.
type Payout struct {
	Gross uint64
	Net   uint64
	Fee   uint64
}

// Transfers lists the ledger movements that settle the payout out of escrow.
// Zero-amount legs are omitted.
func (p Payout) Transfers(escrow, participant, owner string) []model.Transfer {
	var out []model.Transfer
	if p.Net > 0 {
		out = append(out, model.Transfer{From: escrow, To: participant, Amount: p.Net})
	}
	if p.Fee > 0 {
		out = append(out, model.Transfer{From: escrow, To: owner, Amount: p.Fee})
	}
	return out
}

// Settlement prices claims. It only reads registry and prediction state;
// marking a prediction claimed happens when the claim event is applied.
type Settlement struct {
	registry    *Registry
	predictions *PredictionLedger
}

func NewSettlement(reg *Registry, preds *PredictionLedger) *Settlement {
	return &Settlement{registry: reg, predictions: preds}
}

// Quote validates a claim and computes its payout.
func (s *Settlement) Quote(cfg model.PlatformConfig, marketID uint64, participant string) (Payout, error) {
	m, ok := s.registry.Get(marketID)
	if !ok {
		return Payout{}, fmt.Errorf("market %d: %w", marketID, model.ErrNotFound)
	}
	p, ok := s.predictions.Get(marketID, participant)
	if !ok {
		return Payout{}, fmt.Errorf("prediction %d/%s: %w", marketID, participant, model.ErrNotFound)
	}
	winner, resolved := m.WinningDirection()
	if !resolved {
		return Payout{}, fmt.Errorf("market %d: %w", marketID, model.ErrMarketNotResolved)
	}
	if p.Claimed {
		return Payout{}, fmt.Errorf("market %d: %w", marketID, model.ErrAlreadyClaimed)
	}
	if p.Direction != winner {
		return Payout{}, fmt.Errorf("%w: market %d resolved %s", model.ErrInvalidPrediction, marketID, winner)
	}

	gross, err := model.CalcGrossWinnings(p.Amount, m.TotalPool(), m.PoolFor(winner))
	if err != nil {
		return Payout{}, err
	}
	net, fee, err := model.CalcNetPayout(gross, cfg.FeeRateBps)
	if err != nil {
		return Payout{}, err
	}
	return Payout{Gross: gross, Net: net, Fee: fee}, nil
}

// Estimate returns gross winnings for the participant's side using current
// pools, whether or not the market is resolved. An empty side yields 0.
func (s *Settlement) Estimate(marketID uint64, participant string) (uint64, error) {
	m, ok := s.registry.Get(marketID)
	if !ok {
		return 0, fmt.Errorf("market %d: %w", marketID, model.ErrNotFound)
	}
	p, ok := s.predictions.Get(marketID, participant)
	if !ok {
		return 0, fmt.Errorf("prediction %d/%s: %w", marketID, participant, model.ErrNotFound)
	}
	side := m.PoolFor(p.Direction)
	if side == 0 {
		return 0, nil
	}
	return model.CalcGrossWinnings(p.Amount, m.TotalPool(), side)
}
