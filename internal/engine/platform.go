package engine

import (
	"fmt"
	"time"

	"github.com/kentomson01/stacksbet/internal/model"
)

// Options is the explicit initialisation of the platform configuration.
type Options struct {
	Owner        string
	Oracle       string
	Escrow       string
	MinimumStake uint64
	FeeRateBps   uint64

	// SyncInterval polls the journal for other engines' commits. Zero
	// disables polling; commands still catch up before they run.
	SyncInterval time.Duration
}

func (o Options) config() (model.PlatformConfig, error) {
	switch {
	case o.Owner == "" || o.Oracle == "" || o.Escrow == "":
		return model.PlatformConfig{}, fmt.Errorf("%w: owner, oracle and escrow are required", model.ErrInvalidParameter)
	case o.Escrow == o.Owner || o.Escrow == o.Oracle:
		return model.PlatformConfig{}, fmt.Errorf("%w: escrow account must be distinct", model.ErrInvalidParameter)
	}
	if err := validateMinimumStake(o.MinimumStake); err != nil {
		return model.PlatformConfig{}, err
	}
	if err := validateFeeRate(o.FeeRateBps); err != nil {
		return model.PlatformConfig{}, err
	}
	return model.PlatformConfig{
		Owner:        o.Owner,
		Oracle:       o.Oracle,
		Escrow:       o.Escrow,
		MinimumStake: o.MinimumStake,
		FeeRateBps:   o.FeeRateBps,
	}, nil
}

func requireOwner(cfg model.PlatformConfig, caller, op string) error {
	if caller != cfg.Owner {
		return fmt.Errorf("%s: %w", op, model.ErrUnauthorized)
	}
	return nil
}

func validateOracle(cfg model.PlatformConfig, oracle string) error {
	if oracle == "" {
		return fmt.Errorf("%w: oracle must be set", model.ErrInvalidParameter)
	}
	if oracle == cfg.Escrow {
		return fmt.Errorf("%w: oracle cannot be the escrow account", model.ErrInvalidParameter)
	}
	return nil
}

func validateMinimumStake(v uint64) error {
	if v == 0 || v > model.MaxMinimumStake {
		return fmt.Errorf("%w: minimum stake must be in (0, %d]", model.ErrInvalidParameter, model.MaxMinimumStake)
	}
	return nil
}

func validateFeeRate(bps uint64) error {
	if bps > model.MaxFeeRateBps {
		return fmt.Errorf("%w: fee rate %d bps above cap %d", model.ErrInvalidParameter, bps, model.MaxFeeRateBps)
	}
	return nil
}
