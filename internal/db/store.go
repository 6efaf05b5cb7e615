package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kentomson01/stacksbet/internal/model"
)

var ErrDuplicate = errors.New("already exists")

type Store struct{ DB *sql.DB }

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) Migrate(dir string) error {
	driver, err := postgres.WithInstance(s.DB, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, nil)
}

// pgCode returns the SQLSTATE of a lib/pq error, or "".
func pgCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

// ── Users ────────────────────────────────────────────

func (s *Store) CreateUser(ctx context.Context, handle, hash string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (id, handle, password_hash) VALUES ($1,$2,$3)
		 RETURNING id, handle, password_hash, created_at`, uuid.NewString(), handle, hash,
	).Scan(&u.ID, &u.Handle, &u.PasswordHash, &u.CreatedAt)
	if pgCode(err) == uniqueViolation {
		return nil, fmt.Errorf("user %s: %w", handle, ErrDuplicate)
	}
	return u, err
}

// UpsertUser creates handle or resets its password. Used to seed the
// owner and oracle accounts.
func (s *Store) UpsertUser(ctx context.Context, handle, hash string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (id, handle, password_hash) VALUES ($1,$2,$3)
		 ON CONFLICT (handle) DO UPDATE SET password_hash = EXCLUDED.password_hash`,
		uuid.NewString(), handle, hash,
	)
	return err
}

func (s *Store) GetUserByHandle(ctx context.Context, handle string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, handle, password_hash, created_at FROM users WHERE handle=$1`, handle,
	).Scan(&u.ID, &u.Handle, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// ── Accounts ─────────────────────────────────────────

// Amounts travel as decimal strings: NUMERIC(20,0) covers the full uint64
// range, which database/sql cannot bind natively.
func amountArg(v uint64) string { return strconv.FormatUint(v, 10) }

func parseAmount(raw string) (uint64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return v, nil
}

func (s *Store) Balance(ctx context.Context, principal string) (uint64, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx,
		`SELECT balance::text FROM accounts WHERE principal=$1`, principal,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseAmount(raw)
}

// Deposit credits principal from outside the platform.
func (s *Store) Deposit(ctx context.Context, principal string, amount uint64) (uint64, error) {
	if principal == "" || amount == 0 {
		return 0, fmt.Errorf("%w: deposit needs an account and a positive amount", model.ErrInvalidParameter)
	}
	var raw string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO accounts (principal, balance) VALUES ($1, $2::numeric)
		 ON CONFLICT (principal) DO UPDATE
		 SET balance = accounts.balance + EXCLUDED.balance, updated_at = now()
		 RETURNING balance::text`, principal, amountArg(amount),
	).Scan(&raw)
	if pgCode(err) == checkViolation {
		return 0, fmt.Errorf("%w: amount overflow", model.ErrInvalidParameter)
	}
	if err != nil {
		return 0, err
	}
	return parseAmount(raw)
}

func debit(tx *sql.Tx, principal string, amount uint64) error {
	res, err := tx.Exec(
		`UPDATE accounts SET balance = balance - $1::numeric, updated_at = now()
		 WHERE principal=$2 AND balance >= $1::numeric`, amountArg(amount), principal,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s cannot cover %d", model.ErrInsufficientBalance, principal, amount)
	}
	return nil
}

func credit(tx *sql.Tx, principal string, amount uint64) error {
	_, err := tx.Exec(
		`INSERT INTO accounts (principal, balance) VALUES ($1, $2::numeric)
		 ON CONFLICT (principal) DO UPDATE
		 SET balance = accounts.balance + EXCLUDED.balance, updated_at = now()`,
		principal, amountArg(amount),
	)
	if pgCode(err) == checkViolation {
		return fmt.Errorf("%w: %s balance overflow", model.ErrInvalidParameter, principal)
	}
	return err
}

// Commit applies transfers in order and journals ev in one transaction.
func (s *Store) Commit(ctx context.Context, transfers []model.Transfer, ev model.Event) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range transfers {
		if t.Amount == 0 {
			continue
		}
		if err := debit(tx, t.From, t.Amount); err != nil {
			return err
		}
		if err := credit(tx, t.To, t.Amount); err != nil {
			return err
		}
	}
	if err := AppendEvent(tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

// ── Event Log ────────────────────────────────────────

// Events are stored as their JSON form in a JSONB column, which keeps
// integers exact past 2^53.
func encodeEvent(ev model.Event) ([]byte, error) { return json.Marshal(ev) }

func decodeEvent(raw []byte) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

func AppendEvent(tx *sql.Tx, ev model.Event) error {
	b, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	var marketID *int64
	if ev.MarketID != nil {
		id := int64(*ev.MarketID)
		marketID = &id
	}
	_, err = tx.Exec(
		`INSERT INTO event_log (seq, id, market_id, type, payload_json, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		ev.Seq, ev.ID, marketID, string(ev.Type), b, ev.CreatedAt,
	)
	if pgCode(err) == uniqueViolation {
		return fmt.Errorf("seq %d: %w", ev.Seq, model.ErrSeqConflict)
	}
	return err
}

// EventsAfter returns the journal from seq+1 onwards, in sequence order.
func (s *Store) EventsAfter(ctx context.Context, seq int64) ([]model.Event, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT payload_json FROM event_log WHERE seq > $1 ORDER BY seq`, seq)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// ListEvents returns the newest events first, optionally for one market.
func (s *Store) ListEvents(ctx context.Context, marketID *uint64, limit int) ([]model.Event, error) {
	q := `SELECT payload_json FROM event_log`
	var args []any
	if marketID != nil {
		q += ` WHERE market_id=$1`
		args = append(args, int64(*marketID))
	}
	q += ` ORDER BY seq DESC`
	if limit > 0 {
		q += ` LIMIT ` + strconv.Itoa(limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]model.Event, error) {
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		ev, err := decodeEvent(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
