// Package money holds the fixed-point decimal helpers shared by the quote
// and execution engines: share/money quantization and the fee and
// probability conversions that sit at the float/decimal boundary.
//
// All monetary and share amounts that cross a package boundary in ammcore
// are shopspring/decimal values. Floats are used only inside internal/lmsr
// for the log-domain math itself.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SharesExp is the number of decimal places shares are quantized to.
const SharesExp = 8

// QuantizeShares rounds down to 8 decimal places. Shares always round down
// so that a user can never receive (buy) or be charged (sell) more shares
// than the math produced.
func QuantizeShares(x decimal.Decimal) decimal.Decimal {
	return x.Truncate(SharesExp)
}

// QuantizeMoneyUp rounds a money amount up to moneyExp decimal places. Used
// for the amount a buyer pays: it must never be less than what the math
// computed.
func QuantizeMoneyUp(x decimal.Decimal, moneyExp int32) decimal.Decimal {
	return roundAtScale(x, moneyExp, decimal.RoundUp)
}

// QuantizeMoneyDown rounds a money amount down to moneyExp decimal places.
// Used for the amount a seller receives: it must never be more than what
// the math computed.
func QuantizeMoneyDown(x decimal.Decimal, moneyExp int32) decimal.Decimal {
	return roundAtScale(x, moneyExp, decimal.RoundDown)
}

func roundAtScale(x decimal.Decimal, exp int32, mode decimal.RoundingMode) decimal.Decimal {
	switch mode {
	case decimal.RoundUp:
		return x.RoundCeil(exp)
	default:
		return x.RoundFloor(exp)
	}
}

// FeeRateFromBps converts an integer basis-point fee into a decimal rate in
// [0, 1). feeBps==10000 (100%) is rejected because it would force a
// division by zero when grossing a net amount back up to gross; valid
// trading-time fees are [0, 9999].
func FeeRateFromBps(feeBps int) (decimal.Decimal, error) {
	if feeBps < 0 || feeBps >= 10000 {
		return decimal.Zero, fmt.Errorf("fee_bps must be in [0, 9999], got %d", feeBps)
	}
	return decimal.New(int64(feeBps), -4), nil
}

// BpsFromProbabilities converts a probability vector (clamped to [0,1])
// into integer basis points, rounded to the nearest bp.
func BpsFromProbabilities(probabilities []float64) []int {
	out := make([]int, len(probabilities))
	for i, p := range probabilities {
		if p < 0.0 {
			p = 0.0
		} else if p > 1.0 {
			p = 1.0
		}
		out[i] = int(roundHalfAwayFromZero(p * 10000.0))
	}
	return out
}

func roundHalfAwayFromZero(x float64) float64 {
	if x >= 0 {
		return float64(int64(x + 0.5))
	}
	return float64(int64(x - 0.5))
}

// RoundBps rounds a ratio (e.g. amount/shares) to the nearest integer basis
// point, used for avg_price_bps reporting on quote results.
func RoundBps(ratio float64) int {
	return int(roundHalfAwayFromZero(ratio * 10000.0))
}

// QPrecision is the number of decimal places an LMSR q value is stored at,
// matching the liquidity-parameter precision pool setup quantizes b to.
const QPrecision = 18

// QuantizeQ rounds a q value converted from float64 to QPrecision decimal
// places (half away from zero) before it is persisted, so repeated trades
// don't accumulate float noise in storage beyond the pool's own precision.
func QuantizeQ(x decimal.Decimal) decimal.Decimal {
	return x.Round(QPrecision)
}
