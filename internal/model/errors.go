package model

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrInvalidPrediction   = errors.New("invalid prediction")
	ErrMarketClosed        = errors.New("market closed")
	ErrAlreadyClaimed      = errors.New("already claimed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrMarketNotResolved   = errors.New("market not resolved")
)

// ErrSeqConflict means another writer already journaled the sequence number.
var ErrSeqConflict = errors.New("journal sequence taken")

// ErrDuplicatePrediction is an ErrInvalidParameter: a participant stakes once per market.
var ErrDuplicatePrediction = fmt.Errorf("%w: prediction already placed", ErrInvalidParameter)

// ErrorCode maps a taxonomy error to its stable wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidPrediction):
		return "invalid_prediction"
	case errors.Is(err, ErrMarketClosed):
		return "market_closed"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrMarketNotResolved):
		return "market_not_resolved"
	}
	return "internal"
}
