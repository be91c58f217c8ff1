// Package quote implements the pure LMSR quote engine: given a pool
// snapshot and a trade request, it computes shares/amount, fee, and the
// pre/post probability vectors without touching storage. Execution wraps
// this with locking and persistence; everything here is deterministic and
// side-effect free so it can be property-tested directly.
package quote

import (
	"math"

	"github.com/shopspring/decimal"

	"ammcore/internal/errs"
	"ammcore/internal/lmsr"
	"ammcore/internal/money"
	"ammcore/internal/poolstate"
	"ammcore/internal/types"
)

// DefaultMoneyExp is the decimal place money amounts are quantized to when
// a caller does not override it (cents, matching the original $0.01 quant).
const DefaultMoneyExp = 2

// Request is the caller-supplied trade intent passed to Quote. Exactly one
// of AmountIn or Shares must be set. OptionID and OptionIndex follow the
// same "exactly one" rule as poolstate.State.resolve.
type Request struct {
	OptionID    *string
	OptionIndex *int
	Side        types.Side
	AmountIn    *decimal.Decimal
	Shares      *decimal.Decimal
	MoneyExp    int32
}

// Result mirrors the original Python quote response: a superset of fields
// is populated depending on which branch (buy/sell, amount/shares,
// yes/no-side) was taken; the rest stay at their zero value.
type Result struct {
	MarketID string
	PoolID   string
	OptionID string
	Side     types.Side
	IsNoSide bool

	AmountIn  decimal.Decimal
	SharesOut decimal.Decimal

	AmountOut decimal.Decimal
	SharesIn  decimal.Decimal

	FeeAmount   decimal.Decimal
	AvgPriceBps int

	PreProbBps  []int
	PostProbBps []int

	OptionIDs     []string
	OptionIndexes []int

	NoBuyDeltas  []float64
	NoSellDeltas []float64

	RequestedAmountOut decimal.Decimal
	GrossNeeded        decimal.Decimal
}

// Quote computes a trade quote against an immutable pool snapshot. state
// is never mutated; the returned Result carries no new q-vector: it gives
// the post-trade probabilities in PostProbBps and, for NO-side trades, the
// per-option q deltas in NoBuyDeltas/NoSellDeltas, leaving the caller
// (execution) to compute and persist the actual q values.
func Quote(state *poolstate.State, req Request) (*Result, error) {
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return nil, errs.InvalidParam("side", "side must be 'buy' or 'sell'")
	}
	if (req.AmountIn == nil) == (req.Shares == nil) {
		return nil, errs.InvalidParam("amount_in/shares", "provide exactly one of amount_in or shares")
	}

	moneyExp := req.MoneyExp
	if moneyExp == 0 {
		moneyExp = DefaultMoneyExp
	}

	feeRate, err := money.FeeRateFromBps(state.FeeBps)
	if err != nil {
		return nil, errs.InvalidParam("fee_bps", err.Error())
	}
	oneMinusFee := decimal.NewFromInt(1).Sub(feeRate)

	targetIdx, isNoSide, err := state.ResolveWithSide(req.OptionID, req.OptionIndex)
	if err != nil {
		return nil, err
	}

	preProbs, err := lmsr.Prices(state.Q, state.B)
	if err != nil {
		return nil, errs.QuoteMathError(err)
	}
	preProbBps := money.BpsFromProbabilities(preProbs)
	pK := preProbs[targetIdx]

	postProbBps := func(qPost []float64) ([]int, error) {
		p, err := lmsr.Prices(qPost, state.B)
		if err != nil {
			return nil, err
		}
		return money.BpsFromProbabilities(p), nil
	}

	if req.Side == types.SideBuy {
		if req.AmountIn != nil {
			return quoteBuyAmount(state, req, targetIdx, isNoSide, *req.AmountIn, feeRate, moneyExp, preProbBps, pK, postProbBps)
		}
		return quoteBuyShares(state, req, targetIdx, *req.Shares, feeRate, oneMinusFee, moneyExp, preProbBps, postProbBps)
	}

	if req.Shares != nil {
		return quoteSellShares(state, req, targetIdx, isNoSide, *req.Shares, feeRate, moneyExp, preProbBps, postProbBps)
	}
	return quoteSellAmount(state, req, targetIdx, *req.AmountIn, feeRate, oneMinusFee, moneyExp, pK, preProbBps, postProbBps)
}

func computeNoBuyDeltas(state *poolstate.State, targetIdx int, netFloat float64) ([]float64, float64, error) {
	n := len(state.Q)
	if n < 2 {
		return nil, 0, errs.QuoteMathError(errStr("cannot buy No in a single-option pool"))
	}

	probs, err := lmsr.Prices(state.Q, state.B)
	if err != nil {
		return nil, 0, errs.QuoteMathError(err)
	}

	otherProbSum := 0.0
	for j, p := range probs {
		if j != targetIdx {
			otherProbSum += p
		}
	}
	if otherProbSum <= 0 {
		return nil, 0, errs.QuoteMathError(errStr("no other options available to distribute buy"))
	}

	deltas := make([]float64, n)
	totalShares := 0.0
	for j := range deltas {
		if j == targetIdx {
			continue
		}
		amountJ := netFloat * (probs[j] / otherProbSum)
		if amountJ > 0 {
			deltaJ, err := lmsr.BuyAmountToDeltaQ(state.Q, state.B, j, amountJ)
			if err != nil {
				return nil, 0, errs.QuoteMathError(err)
			}
			deltas[j] = deltaJ
			totalShares += deltaJ
		}
	}
	return deltas, totalShares, nil
}

func quoteBuyAmount(
	state *poolstate.State, req Request, targetIdx int, isNoSide bool, grossIn decimal.Decimal,
	feeRate decimal.Decimal, moneyExp int32,
	preProbBps []int, pK float64, postProbBpsFn func([]float64) ([]int, error),
) (*Result, error) {
	if !grossIn.IsPositive() {
		return nil, errs.InvalidParam("amount_in", "amount_in must be > 0")
	}

	feeDec := money.QuantizeMoneyUp(grossIn.Mul(feeRate), moneyExp)
	netDec := grossIn.Sub(feeDec)
	if !netDec.IsPositive() {
		return nil, errs.AmountTooLow(grossIn.String())
	}
	netFloat, _ := netDec.Float64()
	if !isFinitePositive(netFloat) {
		return nil, errs.InvalidParam("amount_in", "amount_in must be finite")
	}

	if isNoSide && state.IsExclusive {
		deltas, totalShares, err := computeNoBuyDeltas(state, targetIdx, netFloat)
		if err != nil {
			return nil, err
		}
		if totalShares <= 0 {
			return nil, errs.QuoteMathError(errStr("amount too low to produce any shares (after fees / rounding)"))
		}

		qPost := append([]float64(nil), state.Q...)
		for j, d := range deltas {
			qPost[j] += d
		}
		postBps, err := postProbBpsFn(qPost)
		if err != nil {
			return nil, errs.QuoteMathError(err)
		}

		sharesOutDec := money.QuantizeShares(decimal.NewFromFloat(totalShares))
		sharesOutF, _ := sharesOutDec.Float64()
		grossF, _ := grossIn.Float64()
		avgPriceBps := money.RoundBps(grossF / sharesOutF)

		return &Result{
			MarketID:      state.MarketID,
			PoolID:        state.PoolID,
			OptionID:      state.OptionIDs[targetIdx],
			Side:          types.SideBuy,
			IsNoSide:      true,
			AmountIn:      money.QuantizeMoneyUp(grossIn, moneyExp),
			SharesOut:     sharesOutDec,
			FeeAmount:     feeDec,
			AvgPriceBps:   avgPriceBps,
			PreProbBps:    preProbBps,
			PostProbBps:   postBps,
			OptionIDs:     state.OptionIDs,
			OptionIndexes: state.OptionIndexes,
			NoBuyDeltas:   deltas,
		}, nil
	}

	delta, err := lmsr.BuyAmountToDeltaQ(state.Q, state.B, targetIdx, netFloat)
	if err != nil || !isFinitePositive(delta) {
		return nil, errs.QuoteMathError(errStr("amount too low to produce any shares (after fees / rounding)"))
	}

	qPost := append([]float64(nil), state.Q...)
	qPost[targetIdx] += delta
	postBps, err := postProbBpsFn(qPost)
	if err != nil {
		return nil, errs.QuoteMathError(err)
	}

	sharesOutDec := money.QuantizeShares(decimal.NewFromFloat(delta))
	sharesOutF, _ := sharesOutDec.Float64()
	grossF, _ := grossIn.Float64()
	avgPriceBps := money.RoundBps(grossF / sharesOutF)

	return &Result{
		MarketID:      state.MarketID,
		PoolID:        state.PoolID,
		OptionID:      state.OptionIDs[targetIdx],
		Side:          types.SideBuy,
		AmountIn:      money.QuantizeMoneyUp(grossIn, moneyExp),
		SharesOut:     sharesOutDec,
		FeeAmount:     feeDec,
		AvgPriceBps:   avgPriceBps,
		PreProbBps:    preProbBps,
		PostProbBps:   postBps,
		OptionIDs:     state.OptionIDs,
		OptionIndexes: state.OptionIndexes,
	}, nil
}

func quoteBuyShares(
	state *poolstate.State, req Request, targetIdx int, sharesIn decimal.Decimal,
	feeRate, oneMinusFee decimal.Decimal, moneyExp int32,
	preProbBps []int, postProbBpsFn func([]float64) ([]int, error),
) (*Result, error) {
	if !sharesIn.IsPositive() {
		return nil, errs.InvalidParam("shares", "shares must be > 0")
	}
	sharesFloat, _ := sharesIn.Float64()
	if !isFinitePositive(sharesFloat) {
		return nil, errs.InvalidParam("shares", "shares must be finite")
	}

	qPost := append([]float64(nil), state.Q...)
	qPost[targetIdx] += sharesFloat

	costPost, err := lmsr.Cost(qPost, state.B)
	if err != nil {
		return nil, errs.QuoteMathError(err)
	}
	costPre, err := lmsr.Cost(state.Q, state.B)
	if err != nil {
		return nil, errs.QuoteMathError(err)
	}
	netCostFloat := costPost - costPre
	if !isFinitePositive(netCostFloat) {
		return nil, errs.QuoteMathError(errStr("invalid net cost for buy(shares)"))
	}

	netCostDec := money.QuantizeMoneyUp(decimal.NewFromFloat(netCostFloat), moneyExp)
	if !oneMinusFee.IsPositive() {
		return nil, errs.InvalidParam("fee_bps", "fee too high")
	}
	grossInDec := money.QuantizeMoneyUp(netCostDec.Div(oneMinusFee), moneyExp)
	feeDec := grossInDec.Sub(netCostDec)

	postBps, err := postProbBpsFn(qPost)
	if err != nil {
		return nil, errs.QuoteMathError(err)
	}
	grossF, _ := grossInDec.Float64()
	avgPriceBps := money.RoundBps(grossF / sharesFloat)

	return &Result{
		MarketID:      state.MarketID,
		PoolID:        state.PoolID,
		OptionID:      state.OptionIDs[targetIdx],
		Side:          types.SideBuy,
		AmountIn:      grossInDec,
		SharesOut:     sharesIn,
		FeeAmount:     feeDec,
		AvgPriceBps:   avgPriceBps,
		PreProbBps:    preProbBps,
		PostProbBps:   postBps,
		OptionIDs:     state.OptionIDs,
		OptionIndexes: state.OptionIndexes,
	}, nil
}

func quoteSellShares(
	state *poolstate.State, req Request, targetIdx int, isNoSide bool, sharesIn decimal.Decimal,
	feeRate decimal.Decimal, moneyExp int32,
	preProbBps []int, postProbBpsFn func([]float64) ([]int, error),
) (*Result, error) {
	if !sharesIn.IsPositive() {
		return nil, errs.InvalidParam("shares", "shares must be > 0")
	}
	sharesFloat, _ := sharesIn.Float64()
	if !isFinitePositive(sharesFloat) {
		return nil, errs.InvalidParam("shares", "shares must be finite")
	}

	if isNoSide && state.IsExclusive {
		n := len(state.Q)
		probs, err := lmsr.Prices(state.Q, state.B)
		if err != nil {
			return nil, errs.QuoteMathError(err)
		}
		otherProbSum := 0.0
		for j, p := range probs {
			if j != targetIdx {
				otherProbSum += p
			}
		}
		if otherProbSum <= 0 {
			return nil, errs.QuoteMathError(errStr("no other options available for No sell"))
		}

		deltas := make([]float64, n)
		for j := range deltas {
			if j == targetIdx {
				continue
			}
			shareJ := sharesFloat * (probs[j] / otherProbSum)
			deltas[j] = -shareJ
		}
		qPost := append([]float64(nil), state.Q...)
		for j, d := range deltas {
			qPost[j] += d
		}

		costPre, err := lmsr.Cost(state.Q, state.B)
		if err != nil {
			return nil, errs.QuoteMathError(err)
		}
		costPost, err := lmsr.Cost(qPost, state.B)
		if err != nil {
			return nil, errs.QuoteMathError(err)
		}
		grossFloat := costPre - costPost
		if !isFinitePositive(grossFloat) {
			return nil, errs.QuoteMathError(errStr("invalid gross proceeds for sell No(shares)"))
		}

		grossDec := money.QuantizeMoneyDown(decimal.NewFromFloat(grossFloat), moneyExp)
		feeDec := money.QuantizeMoneyUp(grossDec.Mul(feeRate), moneyExp)
		netOutDec := money.QuantizeMoneyDown(grossDec.Sub(feeDec), moneyExp)
		if !netOutDec.IsPositive() {
			return nil, errs.QuoteMathError(errStr("proceeds too low after fees / rounding"))
		}

		postBps, err := postProbBpsFn(qPost)
		if err != nil {
			return nil, errs.QuoteMathError(err)
		}
		netF, _ := netOutDec.Float64()
		avgPriceBps := money.RoundBps(netF / sharesFloat)

		return &Result{
			MarketID:      state.MarketID,
			PoolID:        state.PoolID,
			OptionID:      state.OptionIDs[targetIdx],
			Side:          types.SideSell,
			IsNoSide:      true,
			AmountOut:     netOutDec,
			SharesIn:      sharesIn,
			FeeAmount:     feeDec,
			AvgPriceBps:   avgPriceBps,
			PreProbBps:    preProbBps,
			PostProbBps:   postBps,
			OptionIDs:     state.OptionIDs,
			OptionIndexes: state.OptionIndexes,
			NoSellDeltas:  deltas,
		}, nil
	}

	qPost := append([]float64(nil), state.Q...)
	qPost[targetIdx] -= sharesFloat

	costPre, err := lmsr.Cost(state.Q, state.B)
	if err != nil {
		return nil, errs.QuoteMathError(err)
	}
	costPost, err := lmsr.Cost(qPost, state.B)
	if err != nil {
		return nil, errs.QuoteMathError(err)
	}
	grossFloat := costPre - costPost
	if !isFinitePositive(grossFloat) {
		return nil, errs.QuoteMathError(errStr("invalid gross proceeds for sell(shares)"))
	}

	grossDec := money.QuantizeMoneyDown(decimal.NewFromFloat(grossFloat), moneyExp)
	feeDec := money.QuantizeMoneyUp(grossDec.Mul(feeRate), moneyExp)
	netOutDec := money.QuantizeMoneyDown(grossDec.Sub(feeDec), moneyExp)
	if !netOutDec.IsPositive() {
		return nil, errs.QuoteMathError(errStr("proceeds too low after fees / rounding"))
	}

	postBps, err := postProbBpsFn(qPost)
	if err != nil {
		return nil, errs.QuoteMathError(err)
	}
	netF, _ := netOutDec.Float64()
	avgPriceBps := money.RoundBps(netF / sharesFloat)

	return &Result{
		MarketID:      state.MarketID,
		PoolID:        state.PoolID,
		OptionID:      state.OptionIDs[targetIdx],
		Side:          types.SideSell,
		AmountOut:     netOutDec,
		SharesIn:      sharesIn,
		FeeAmount:     feeDec,
		AvgPriceBps:   avgPriceBps,
		PreProbBps:    preProbBps,
		PostProbBps:   postBps,
		OptionIDs:     state.OptionIDs,
		OptionIndexes: state.OptionIndexes,
	}, nil
}

func quoteSellAmount(
	state *poolstate.State, req Request, targetIdx int, desiredNetOut decimal.Decimal,
	feeRate, oneMinusFee decimal.Decimal, moneyExp int32, pK float64,
	preProbBps []int, postProbBpsFn func([]float64) ([]int, error),
) (*Result, error) {
	if !desiredNetOut.IsPositive() {
		return nil, errs.InvalidParam("amount_in", "amount_in (desired amount_out) must be > 0")
	}
	desiredNetOut = money.QuantizeMoneyDown(desiredNetOut, moneyExp)

	if !oneMinusFee.IsPositive() {
		return nil, errs.InvalidParam("fee_bps", "fee too high")
	}
	grossNeededDec := money.QuantizeMoneyUp(desiredNetOut.Div(oneMinusFee), moneyExp)
	grossNeededFloat, _ := grossNeededDec.Float64()

	maxGross, err := lmsr.MaxGrossPayout(pK, state.B)
	if err != nil {
		return nil, errs.QuoteMathError(err)
	}
	if grossNeededFloat >= maxGross {
		maxNet := decimal.NewFromFloat(maxGross).Mul(oneMinusFee)
		maxNet = money.QuantizeMoneyDown(maxNet, moneyExp)
		return nil, errs.QuoteMathError(errStr("desired amount_out too large (max net approx " + maxNet.String() + ")"))
	}

	sharesNeeded, err := lmsr.SolveSellSharesForGrossPayout(pK, state.B, grossNeededFloat)
	if err != nil || !isFinitePositive(sharesNeeded) {
		return nil, errs.QuoteMathError(errStr("invalid shares_in solved for sell(amount_out)"))
	}

	sharesNeededDec := money.QuantizeShares(decimal.NewFromFloat(sharesNeeded))
	sharesNeededF, _ := sharesNeededDec.Float64()

	qPost := append([]float64(nil), state.Q...)
	qPost[targetIdx] -= sharesNeededF

	costPre, err := lmsr.Cost(state.Q, state.B)
	if err != nil {
		return nil, errs.QuoteMathError(err)
	}
	costPost, err := lmsr.Cost(qPost, state.B)
	if err != nil {
		return nil, errs.QuoteMathError(err)
	}
	grossFloat := costPre - costPost
	grossDec := money.QuantizeMoneyDown(decimal.NewFromFloat(grossFloat), moneyExp)
	feeDec := money.QuantizeMoneyUp(grossDec.Mul(feeRate), moneyExp)
	netOutDec := money.QuantizeMoneyDown(grossDec.Sub(feeDec), moneyExp)

	postBps, err := postProbBpsFn(qPost)
	if err != nil {
		return nil, errs.QuoteMathError(err)
	}
	netF, _ := netOutDec.Float64()
	avgPriceBps := money.RoundBps(netF / sharesNeededF)

	return &Result{
		MarketID:           state.MarketID,
		PoolID:             state.PoolID,
		OptionID:           state.OptionIDs[targetIdx],
		Side:               types.SideSell,
		AmountOut:          netOutDec,
		SharesIn:           sharesNeededDec,
		FeeAmount:          feeDec,
		AvgPriceBps:        avgPriceBps,
		PreProbBps:         preProbBps,
		PostProbBps:        postBps,
		OptionIDs:          state.OptionIDs,
		OptionIndexes:      state.OptionIndexes,
		RequestedAmountOut: desiredNetOut,
		GrossNeeded:        grossNeededDec,
	}, nil
}

func isFinitePositive(x float64) bool {
	return !math.IsInf(x, 0) && !math.IsNaN(x) && x > 0.0
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func errStr(s string) error { return simpleErr(s) }
