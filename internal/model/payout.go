package model

import (
	"fmt"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"
)

// ── Payout ───────────────────────────────────────────

// CalcGrossWinnings returns floor(stake * totalPool / winningPool).
func CalcGrossWinnings(stake, totalPool, winningPool uint64) (uint64, error) {
	if winningPool == 0 {
		return 0, fmt.Errorf("%w: empty winning pool", ErrInvalidParameter)
	}
	return mulDiv(stake, totalPool, winningPool)
}

// CalcPlatformFee returns floor(gross * feeRateBps / 10000).
func CalcPlatformFee(gross, feeRateBps uint64) (uint64, error) {
	return mulDiv(gross, feeRateBps, BasisPoints)
}

// CalcNetPayout splits gross winnings into the participant's net share and the fee.
func CalcNetPayout(gross, feeRateBps uint64) (net, fee uint64, err error) {
	fee, err = CalcPlatformFee(gross, feeRateBps)
	if err != nil {
		return 0, 0, err
	}
	return gross - fee, fee, nil
}

// mulDiv computes floor(a*b/c) with a 128-bit intermediate product.
func mulDiv(a, b, c uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, fmt.Errorf("%w: amount overflow", ErrInvalidParameter)
	}
	q, _ := bits.Div64(hi, lo, c)
	return q, nil
}

// AddAmount adds two amounts, failing instead of wrapping.
func AddAmount(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: amount overflow", ErrInvalidParameter)
	}
	return sum, nil
}

// ── Display ──────────────────────────────────────────

// FormatUnits renders an integer amount of smallest units with the given
// number of decimal places, e.g. 97500000 at 6 places is "97.500000".
func FormatUnits(amount uint64, places int32) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -places)
	return d.StringFixed(places)
}
