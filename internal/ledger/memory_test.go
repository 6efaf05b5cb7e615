package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/kentomson01/stacksbet/internal/model"
)

func u64(v uint64) *uint64 { return &v }

func TestCommitMovesValueAndJournals(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.Deposit(ctx, "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := m.Commit(ctx, []model.Transfer{{From: "alice", To: "pool", Amount: 60}}, model.Event{Seq: 1, Type: model.EventStakePlaced})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if b, _ := m.Balance(ctx, "alice"); b != 40 {
		t.Fatalf("alice = %d, want 40", b)
	}
	if b, _ := m.Balance(ctx, "pool"); b != 60 {
		t.Fatalf("pool = %d, want 60", b)
	}
	evs, _ := m.EventsAfter(ctx, 0)
	if len(evs) != 1 || evs[0].Type != model.EventStakePlaced {
		t.Fatalf("events = %+v", evs)
	}
}

func TestCommitIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Deposit(ctx, "pool", 100)

	// First leg fits, second does not.
	err := m.Commit(ctx, []model.Transfer{
		{From: "pool", To: "alice", Amount: 80},
		{From: "pool", To: "owner", Amount: 30},
	}, model.Event{Seq: 1, Type: model.EventWinningsClaimed})
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want insufficient balance", err)
	}
	if b, _ := m.Balance(ctx, "pool"); b != 100 {
		t.Fatalf("pool = %d, want untouched 100", b)
	}
	if b, _ := m.Balance(ctx, "alice"); b != 0 {
		t.Fatalf("alice = %d, want 0", b)
	}
	if evs, _ := m.EventsAfter(ctx, 0); len(evs) != 0 {
		t.Fatalf("journal has %d events after failed commit", len(evs))
	}
}

func TestCommitRejectsSequenceGap(t *testing.T) {
	m := NewMemory()
	err := m.Commit(context.Background(), nil, model.Event{Seq: 2})
	if err == nil || errors.Is(err, model.ErrSeqConflict) {
		t.Fatalf("gap err = %v, want a non-conflict error", err)
	}
}

func TestCommitReportsTakenSeq(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Deposit(ctx, "alice", 100)
	if err := m.Commit(ctx, nil, model.Event{Seq: 1, Type: model.EventMarketCreated}); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	err := m.Commit(ctx, []model.Transfer{{From: "alice", To: "pool", Amount: 10}}, model.Event{Seq: 1, Type: model.EventStakePlaced})
	if !errors.Is(err, model.ErrSeqConflict) {
		t.Fatalf("err = %v, want seq conflict", err)
	}
	if b, _ := m.Balance(ctx, "alice"); b != 100 {
		t.Fatalf("alice = %d after rejected commit", b)
	}
}

func TestEventsAfter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for seq := int64(1); seq <= 3; seq++ {
		if err := m.Commit(ctx, nil, model.Event{Seq: seq}); err != nil {
			t.Fatalf("commit %d: %v", seq, err)
		}
	}
	tests := []struct {
		after int64
		want  []int64
	}{
		{0, []int64{1, 2, 3}},
		{2, []int64{3}},
		{3, nil},
		{9, nil},
	}
	for _, tt := range tests {
		evs, err := m.EventsAfter(ctx, tt.after)
		if err != nil {
			t.Fatalf("after %d: %v", tt.after, err)
		}
		if len(evs) != len(tt.want) {
			t.Fatalf("after %d: got %d events, want %d", tt.after, len(evs), len(tt.want))
		}
		for i, ev := range evs {
			if ev.Seq != tt.want[i] {
				t.Fatalf("after %d: event %d has seq %d, want %d", tt.after, i, ev.Seq, tt.want[i])
			}
		}
	}
}

func TestDepositValidation(t *testing.T) {
	m := NewMemory()
	if _, err := m.Deposit(context.Background(), "alice", 0); !errors.Is(err, model.ErrInvalidParameter) {
		t.Fatalf("zero deposit err = %v", err)
	}
	m.Deposit(context.Background(), "alice", ^uint64(0))
	if _, err := m.Deposit(context.Background(), "alice", 1); !errors.Is(err, model.ErrInvalidParameter) {
		t.Fatalf("overflow deposit err = %v", err)
	}
}

func TestListEventsFiltersNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Commit(ctx, nil, model.Event{Seq: 1, MarketID: u64(0)})
	m.Commit(ctx, nil, model.Event{Seq: 2, MarketID: u64(1)})
	m.Commit(ctx, nil, model.Event{Seq: 3})
	m.Commit(ctx, nil, model.Event{Seq: 4, MarketID: u64(0)})

	evs, _ := m.ListEvents(ctx, u64(0), 0)
	if len(evs) != 2 || evs[0].Seq != 4 || evs[1].Seq != 1 {
		t.Fatalf("market 0 events = %+v", evs)
	}
	evs, _ = m.ListEvents(ctx, nil, 2)
	if len(evs) != 2 || evs[0].Seq != 4 || evs[1].Seq != 3 {
		t.Fatalf("limited events = %+v", evs)
	}
}
