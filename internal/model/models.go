package model

import "time"

// ── Enums ────────────────────────────────────────────

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

func (d Direction) Valid() bool { return d == DirectionUp || d == DirectionDown }

type EventType string

const (
	EventMarketCreated       EventType = "MarketCreated"
	EventStakePlaced         EventType = "StakePlaced"
	EventMarketResolved      EventType = "MarketResolved"
	EventWinningsClaimed     EventType = "WinningsClaimed"
	EventOracleUpdated       EventType = "OracleUpdated"
	EventMinimumStakeUpdated EventType = "MinimumStakeUpdated"
	EventFeeRateUpdated      EventType = "FeeRateUpdated"
	EventFeesWithdrawn       EventType = "FeesWithdrawn"
)

// ── Limits ───────────────────────────────────────────

const (
	BasisPoints         uint64 = 10000
	MaxFeeRateBps       uint64 = 1000
	MaxMinimumStake     uint64 = 100_000000
	MinMarketDuration   uint64 = 10
	DefaultFeeRateBps   uint64 = 250
	DefaultMinimumStake uint64 = 1_000000
)

// ── Domain Objects ───────────────────────────────────

type Market struct {
	ID               uint64  `json:"id"`
	Creator          string  `json:"creator"`
	ReferencePrice   uint64  `json:"reference_price"`
	FinalPrice       *uint64 `json:"final_price"`
	TotalUp          uint64  `json:"total_up"`
	TotalDown        uint64  `json:"total_down"`
	OpenHeight       uint64  `json:"open_height"`
	CloseHeight      uint64  `json:"close_height"`
	ResolutionHeight *uint64 `json:"resolution_height"`
	Resolved         bool    `json:"resolved"`
}

func (m Market) TotalPool() uint64 { return m.TotalUp + m.TotalDown }

// PoolFor returns the stake total on side d.
func (m Market) PoolFor(d Direction) uint64 {
	if d == DirectionUp {
		return m.TotalUp
	}
	return m.TotalDown
}

// IsOpen reports whether stakes are accepted at height now.
func (m Market) IsOpen(now uint64) bool {
	return !m.Resolved && m.OpenHeight <= now && now < m.CloseHeight
}

// WinningDirection is up only when the final price is strictly above the
// reference price; a tie goes to down. ok is false until resolution.
func (m Market) WinningDirection() (d Direction, ok bool) {
	if !m.Resolved || m.FinalPrice == nil {
		return "", false
	}
	if *m.FinalPrice > m.ReferencePrice {
		return DirectionUp, true
	}
	return DirectionDown, true
}

// Status derives the observable window state at height now.
func (m Market) Status(now uint64) MarketStatus {
	st := MarketStatus{IsActive: m.IsOpen(now), IsResolved: m.Resolved}
	if now < m.CloseHeight {
		st.BlocksRemaining = m.CloseHeight - now
	}
	return st
}

// AwaitingResolution reports the Closed-Unresolved state.
func (m Market) AwaitingResolution(now uint64) bool {
	return !m.Resolved && now >= m.CloseHeight
}

type MarketStatus struct {
	IsActive        bool   `json:"is_active"`
	IsResolved      bool   `json:"is_resolved"`
	BlocksRemaining uint64 `json:"blocks_remaining"`
}

// PredictionKey identifies a prediction; one per participant per market.
type PredictionKey struct {
	MarketID    uint64
	Participant string
}

type Prediction struct {
	MarketID    uint64    `json:"market_id"`
	Participant string    `json:"participant"`
	Direction   Direction `json:"direction"`
	Amount      uint64    `json:"amount"`
	Height      uint64    `json:"height"`
	Claimed     bool      `json:"claimed"`
	Payout      uint64    `json:"payout"`
}

func (p Prediction) Key() PredictionKey {
	return PredictionKey{MarketID: p.MarketID, Participant: p.Participant}
}

type ParticipantStats struct {
	Participant      string `json:"participant"`
	TotalPredictions uint64 `json:"total_predictions"`
	TotalStaked      uint64 `json:"total_staked"`
	TotalWon         uint64 `json:"total_won"`
	WinRateBps       uint64 `json:"win_rate_bps"`
}

// PlatformConfig is the process-wide configuration record.
type PlatformConfig struct {
	Owner         string `json:"owner"`
	Oracle        string `json:"oracle"`
	Escrow        string `json:"escrow"`
	MinimumStake  uint64 `json:"minimum_stake"`
	FeeRateBps    uint64 `json:"fee_rate_bps"`
	TotalVolume   uint64 `json:"total_volume"`
	MarketCount   uint64 `json:"market_count"`
	FeesCollected uint64 `json:"fees_collected"`
}

type PlatformStats struct {
	PlatformConfig
	EscrowBalance uint64 `json:"escrow_balance"`
	Height        uint64 `json:"height"`
}

// Transfer is one movement of value between two principals.
type Transfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// Event is a journal entry. Fields unused by a given Type stay zero.
type Event struct {
	Seq         int64     `json:"seq"`
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Height      uint64    `json:"height"`
	Caller      string    `json:"caller"`
	MarketID    *uint64   `json:"market_id,omitempty"`
	Participant string    `json:"participant,omitempty"`
	Direction   Direction `json:"direction,omitempty"`
	Amount      uint64    `json:"amount,omitempty"`
	Fee         uint64    `json:"fee,omitempty"`
	Price       uint64    `json:"price,omitempty"`
	OpenHeight  uint64    `json:"open_height,omitempty"`
	CloseHeight uint64    `json:"close_height,omitempty"`
	Account     string    `json:"account,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type User struct {
	ID           string    `json:"id"`
	Handle       string    `json:"handle"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ── API Types ────────────────────────────────────────

type CreateMarketReq struct {
	ReferencePrice uint64 `json:"reference_price"`
	OpenHeight     uint64 `json:"open_height"`
	CloseHeight    uint64 `json:"close_height"`
}

type PredictionReq struct {
	Direction Direction `json:"direction"`
	Amount    uint64    `json:"amount"`
}

type ResolveReq struct {
	FinalPrice uint64 `json:"final_price"`
}

type ClaimResult struct {
	MarketID  uint64 `json:"market_id"`
	NetPayout uint64 `json:"net_payout"`
	Fee       uint64 `json:"fee"`
}
