package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kentomson01/stacksbet/internal/model"
)

// openTestStore connects to STACKSBET_TEST_DSN, migrates it and empties the
// ledger tables. The database must be disposable.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("STACKSBET_TEST_DSN")
	if dsn == "" {
		t.Skip("STACKSBET_TEST_DSN not set")
	}
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate("../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := s.DB.Exec(`TRUNCATE accounts, event_log`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func testEvent(seq int64, t model.EventType) model.Event {
	return model.Event{Seq: seq, ID: uuid.NewString(), Type: t, CreatedAt: time.Now().UTC()}
}

func TestPostgresCommitIsAllOrNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Deposit(ctx, "pool", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// First leg fits, second does not.
	err := s.Commit(ctx, []model.Transfer{
		{From: "pool", To: "alice", Amount: 80},
		{From: "pool", To: "owner", Amount: 30},
	}, testEvent(1, model.EventWinningsClaimed))
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want insufficient balance", err)
	}
	for acct, want := range map[string]uint64{"pool": 100, "alice": 0, "owner": 0} {
		if got, _ := s.Balance(ctx, acct); got != want {
			t.Fatalf("%s = %d, want %d after rolled back commit", acct, got, want)
		}
	}
	if evs, _ := s.EventsAfter(ctx, 0); len(evs) != 0 {
		t.Fatalf("event_log has %d rows after rolled back commit", len(evs))
	}

	ev := testEvent(1, model.EventWinningsClaimed)
	market := uint64(0)
	ev.MarketID = &market
	ev.Participant = "alice"
	ev.Amount = 70
	ev.Fee = 30
	if err := s.Commit(ctx, []model.Transfer{
		{From: "pool", To: "alice", Amount: 70},
		{From: "pool", To: "owner", Amount: 30},
	}, ev); err != nil {
		t.Fatalf("commit: %v", err)
	}
	for acct, want := range map[string]uint64{"pool": 0, "alice": 70, "owner": 30} {
		if got, _ := s.Balance(ctx, acct); got != want {
			t.Fatalf("%s = %d, want %d", acct, got, want)
		}
	}
	evs, err := s.EventsAfter(ctx, 0)
	if err != nil || len(evs) != 1 {
		t.Fatalf("events = %+v, %v", evs, err)
	}
	if got := evs[0]; got.ID != ev.ID || got.MarketID == nil || *got.MarketID != 0 || got.Amount != 70 || got.Fee != 30 {
		t.Fatalf("journaled event = %+v", got)
	}
}

func TestPostgresRejectsTakenSeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Deposit(ctx, "alice", 50)

	if err := s.Commit(ctx, nil, testEvent(1, model.EventMarketCreated)); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	err := s.Commit(ctx, []model.Transfer{{From: "alice", To: "pool", Amount: 20}}, testEvent(1, model.EventStakePlaced))
	if !errors.Is(err, model.ErrSeqConflict) {
		t.Fatalf("err = %v, want seq conflict", err)
	}
	if got, _ := s.Balance(ctx, "alice"); got != 50 {
		t.Fatalf("alice = %d, transfer survived a rejected journal write", got)
	}
	if evs, _ := s.EventsAfter(ctx, 0); len(evs) != 1 || evs[0].Type != model.EventMarketCreated {
		t.Fatalf("journal = %+v", evs)
	}
}

func TestPostgresEventsAfterAndBigAmounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	huge := ^uint64(0)
	if _, err := s.Deposit(ctx, "whale", huge); err != nil {
		t.Fatalf("deposit max: %v", err)
	}
	if got, _ := s.Balance(ctx, "whale"); got != huge {
		t.Fatalf("balance = %d, want %d", got, huge)
	}
	if _, err := s.Deposit(ctx, "whale", 1); !errors.Is(err, model.ErrInvalidParameter) {
		t.Fatalf("overflow deposit err = %v", err)
	}

	for seq := int64(1); seq <= 3; seq++ {
		ev := testEvent(seq, model.EventMarketResolved)
		ev.Price = huge - uint64(seq)
		if err := s.Commit(ctx, nil, ev); err != nil {
			t.Fatalf("commit %d: %v", seq, err)
		}
	}
	evs, err := s.EventsAfter(ctx, 1)
	if err != nil || len(evs) != 2 {
		t.Fatalf("events after 1 = %+v, %v", evs, err)
	}
	if evs[0].Seq != 2 || evs[1].Seq != 3 || evs[1].Price != huge-3 {
		t.Fatalf("tail = %+v", evs)
	}
}
