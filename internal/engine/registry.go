package engine

import (
	"fmt"
	"sort"

	"github.com/kentomson01/stacksbet/internal/model"
)

// Registry owns market records, the market counter and platform volume.
type Registry struct {
	markets map[uint64]*model.Market
	nextID  uint64
	volume  uint64
}

func NewRegistry() *Registry {
	return &Registry{markets: make(map[uint64]*model.Market)}
}

// ── Queries ──────────────────────────────────────────

// Get returns a copy of the market so callers never alias registry state.
func (r *Registry) Get(id uint64) (model.Market, bool) {
	m, ok := r.markets[id]
	if !ok {
		return model.Market{}, false
	}
	return snapshot(m), true
}

func (r *Registry) List() []model.Market {
	out := make([]model.Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, snapshot(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) IsOpen(id, now uint64) bool {
	m, ok := r.markets[id]
	return ok && m.IsOpen(now)
}

func (r *Registry) NextID() uint64 { return r.nextID }
func (r *Registry) Volume() uint64 { return r.volume }

func snapshot(m *model.Market) model.Market {
	out := *m
	if m.FinalPrice != nil {
		p := *m.FinalPrice
		out.FinalPrice = &p
	}
	if m.ResolutionHeight != nil {
		h := *m.ResolutionHeight
		out.ResolutionHeight = &h
	}
	return out
}

// ── Validation ───────────────────────────────────────

func (r *Registry) ValidateCreate(cfg model.PlatformConfig, caller string, req model.CreateMarketReq, now uint64) error {
	if caller != cfg.Owner {
		return fmt.Errorf("create market: %w", model.ErrUnauthorized)
	}
	switch {
	case req.ReferencePrice == 0:
		return fmt.Errorf("%w: reference price must be > 0", model.ErrInvalidParameter)
	case req.CloseHeight <= req.OpenHeight:
		return fmt.Errorf("%w: close height must be after open height", model.ErrInvalidParameter)
	case req.OpenHeight < now:
		return fmt.Errorf("%w: open height %d is in the past (now %d)", model.ErrInvalidParameter, req.OpenHeight, now)
	case req.CloseHeight-req.OpenHeight < model.MinMarketDuration:
		return fmt.Errorf("%w: market must last at least %d blocks", model.ErrInvalidParameter, model.MinMarketDuration)
	}
	return nil
}

func (r *Registry) ValidateResolve(cfg model.PlatformConfig, caller string, id, finalPrice, now uint64) error {
	if caller != cfg.Oracle {
		return fmt.Errorf("resolve market: %w", model.ErrUnauthorized)
	}
	m, ok := r.markets[id]
	if !ok {
		return fmt.Errorf("market %d: %w", id, model.ErrNotFound)
	}
	if now < m.CloseHeight {
		return fmt.Errorf("%w: market %d closes at %d (now %d)", model.ErrMarketClosed, id, m.CloseHeight, now)
	}
	if m.Resolved {
		return fmt.Errorf("%w: market %d already resolved", model.ErrMarketClosed, id)
	}
	if finalPrice == 0 {
		return fmt.Errorf("%w: final price must be > 0", model.ErrInvalidParameter)
	}
	return nil
}

// ── Mutations (journal apply only) ───────────────────

func (r *Registry) create(id uint64, creator string, req model.CreateMarketReq) {
	r.markets[id] = &model.Market{
		ID:             id,
		Creator:        creator,
		ReferencePrice: req.ReferencePrice,
		OpenHeight:     req.OpenHeight,
		CloseHeight:    req.CloseHeight,
	}
	if id >= r.nextID {
		r.nextID = id + 1
	}
}

func (r *Registry) resolve(id, finalPrice, height uint64) {
	m := r.markets[id]
	if m == nil || m.Resolved {
		return
	}
	m.FinalPrice = &finalPrice
	m.ResolutionHeight = &height
	m.Resolved = true
}

// recordStake adds to the pool on side d. Callers have already validated.
func (r *Registry) recordStake(id uint64, d model.Direction, amount uint64) {
	m := r.markets[id]
	if m == nil {
		return
	}
	if d == model.DirectionUp {
		m.TotalUp += amount
	} else {
		m.TotalDown += amount
	}
	r.volume += amount
}
