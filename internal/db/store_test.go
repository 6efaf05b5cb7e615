package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/kentomson01/stacksbet/internal/model"
)

func TestAmountRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 97_500000, ^uint64(0)} {
		got, err := parseAmount(amountArg(v))
		if err != nil || got != v {
			t.Fatalf("round trip %d = %d, %v", v, got, err)
		}
	}
	if _, err := parseAmount("-1"); err == nil {
		t.Fatal("negative balance parsed")
	}
}

func TestPgCode(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pq.Error{Code: uniqueViolation})
	if pgCode(err) != uniqueViolation {
		t.Fatalf("pgCode = %q", pgCode(err))
	}
	if pgCode(fmt.Errorf("plain")) != "" {
		t.Fatal("non-pq error produced a code")
	}
}

func TestMemoryUsers(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryUsers()
	if _, err := m.CreateUser(ctx, "alice", "h1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.CreateUser(ctx, "alice", "h2"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate err = %v", err)
	}
	if err := m.UpsertUser(ctx, "alice", "h3"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := m.UpsertUser(ctx, "owner", "h4"); err != nil {
		t.Fatalf("upsert new: %v", err)
	}
	u, _ := m.GetUserByHandle(ctx, "alice")
	if u == nil || u.PasswordHash != "h3" {
		t.Fatalf("alice = %+v", u)
	}
	if u, _ := m.GetUserByHandle(ctx, "nobody"); u != nil {
		t.Fatalf("unknown handle = %+v", u)
	}
}

func TestEventEncoding(t *testing.T) {
	zero := uint64(0)
	big := uint64(1)<<53 + 1
	ev := model.Event{
		Seq:       7,
		ID:        "e7",
		Type:      model.EventFeesWithdrawn,
		Height:    big,
		Caller:    "owner",
		MarketID:  &zero,
		Price:     ^uint64(0),
		Fee:       big,
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	raw, err := encodeEvent(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, want := range []string{`"market_id":0`, `"price":18446744073709551615`, `"fee":9007199254740993`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("encoded event %s lacks %s", raw, want)
		}
	}
	if strings.Contains(string(raw), `"amount"`) {
		t.Fatalf("zero amount was encoded: %s", raw)
	}

	got, err := decodeEvent(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MarketID == nil || *got.MarketID != 0 {
		t.Fatalf("market id = %v, want pointer to 0", got.MarketID)
	}
	if got.Price != ^uint64(0) || got.Fee != big || got.Height != big || got.Amount != 0 {
		t.Fatalf("amounts = price %d fee %d height %d amount %d", got.Price, got.Fee, got.Height, got.Amount)
	}
	if got.Seq != ev.Seq || got.Type != ev.Type || !got.CreatedAt.Equal(ev.CreatedAt) {
		t.Fatalf("decoded = %+v", got)
	}

	noMarket, _ := encodeEvent(model.Event{Seq: 1, Type: model.EventOracleUpdated})
	if got, _ := decodeEvent(noMarket); got.MarketID != nil {
		t.Fatalf("absent market id decoded as %d", *got.MarketID)
	}
	if _, err := decodeEvent([]byte(`{"seq":"one"}`)); err == nil {
		t.Fatal("malformed payload decoded")
	}
}
