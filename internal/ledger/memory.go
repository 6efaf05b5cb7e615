package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/kentomson01/stacksbet/internal/model"
)

// Memory is a process-local ledger and journal. Commit is all-or-nothing,
// matching the Postgres store.
type Memory struct {
	mu       sync.Mutex
	balances map[string]uint64
	events   []model.Event
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[string]uint64)}
}

func (m *Memory) Balance(_ context.Context, account string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}

// Deposit credits account from outside the platform.
func (m *Memory) Deposit(_ context.Context, account string, amount uint64) (uint64, error) {
	if account == "" || amount == 0 {
		return 0, fmt.Errorf("%w: deposit needs an account and a positive amount", model.ErrInvalidParameter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, err := model.AddAmount(m.balances[account], amount)
	if err != nil {
		return 0, err
	}
	m.balances[account] = bal
	return bal, nil
}

func (m *Memory) Commit(_ context.Context, transfers []model.Transfer, ev model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch want := int64(len(m.events)) + 1; {
	case ev.Seq < want:
		return fmt.Errorf("seq %d: %w", ev.Seq, model.ErrSeqConflict)
	case ev.Seq > want:
		return fmt.Errorf("journal: expected seq %d, got %d", want, ev.Seq)
	}
	staged := make(map[string]uint64)
	get := func(acct string) uint64 {
		if v, ok := staged[acct]; ok {
			return v
		}
		return m.balances[acct]
	}
	for _, t := range transfers {
		if t.Amount == 0 {
			continue
		}
		from := get(t.From)
		if from < t.Amount {
			return fmt.Errorf("%w: %s holds %d, needs %d", model.ErrInsufficientBalance, t.From, from, t.Amount)
		}
		staged[t.From] = from - t.Amount
		to, err := model.AddAmount(get(t.To), t.Amount)
		if err != nil {
			return err
		}
		staged[t.To] = to
	}
	for acct, v := range staged {
		m.balances[acct] = v
	}
	m.events = append(m.events, ev)
	return nil
}

// EventsAfter returns the journal from seq+1 onwards.
func (m *Memory) EventsAfter(_ context.Context, seq int64) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(m.events)) {
		return nil, nil
	}
	out := make([]model.Event, len(m.events)-int(seq))
	copy(out, m.events[seq:])
	return out, nil
}

// ListEvents returns the newest events first, optionally for one market.
func (m *Memory) ListEvents(_ context.Context, marketID *uint64, limit int) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Event
	for i := len(m.events) - 1; i >= 0; i-- {
		ev := m.events[i]
		if marketID != nil && (ev.MarketID == nil || *ev.MarketID != *marketID) {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
