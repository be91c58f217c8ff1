package quote

import (
	"testing"

	"github.com/shopspring/decimal"

	"ammcore/internal/poolstate"
	"ammcore/internal/types"
)

func newTwoOptionState(t *testing.T, feeBps int) *poolstate.State {
	t.Helper()
	st, err := poolstate.New(
		"market-1", "pool-1",
		1000.0, feeBps,
		[]string{"opt-a", "opt-b"},
		[]int{0, 1},
		[]float64{0, 0},
		nil, false,
	)
	if err != nil {
		t.Fatalf("unexpected error building state: %v", err)
	}
	return st
}

func ptrStr(s string) *string { return &s }

func TestQuoteBuyAmountBasic(t *testing.T) {
	st := newTwoOptionState(t, 100) // 1% fee
	amount := decimal.NewFromInt(10)

	res, err := Quote(st, Request{
		OptionID: ptrStr("opt-a"),
		Side:     types.SideBuy,
		AmountIn: &amount,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.SharesOut.IsPositive() {
		t.Errorf("expected positive shares out, got %v", res.SharesOut)
	}
	if !res.FeeAmount.IsPositive() {
		t.Errorf("expected positive fee, got %v", res.FeeAmount)
	}
	if res.PostProbBps[0] <= res.PreProbBps[0] {
		t.Errorf("buying option a should raise its probability: pre=%v post=%v", res.PreProbBps, res.PostProbBps)
	}
}

func TestQuoteRejectsBothAmountAndShares(t *testing.T) {
	st := newTwoOptionState(t, 0)
	amount := decimal.NewFromInt(10)
	shares := decimal.NewFromInt(5)

	_, err := Quote(st, Request{
		OptionID: ptrStr("opt-a"),
		Side:     types.SideBuy,
		AmountIn: &amount,
		Shares:   &shares,
	})
	if err == nil {
		t.Error("expected error when both amount_in and shares are set")
	}
}

func TestQuoteRejectsNeitherAmountNorShares(t *testing.T) {
	st := newTwoOptionState(t, 0)
	_, err := Quote(st, Request{OptionID: ptrStr("opt-a"), Side: types.SideBuy})
	if err == nil {
		t.Error("expected error when neither amount_in nor shares are set")
	}
}

func TestQuoteBuyThenSellSharesRoundTrip(t *testing.T) {
	st := newTwoOptionState(t, 0) // no fee, to check round trip cleanly
	amount := decimal.NewFromInt(50)

	buyRes, err := Quote(st, Request{
		OptionID: ptrStr("opt-a"),
		Side:     types.SideBuy,
		AmountIn: &amount,
	})
	if err != nil {
		t.Fatalf("unexpected error on buy: %v", err)
	}

	// Quote never mutates st, so the sell is quoted against the post-buy
	// state: option a's q has grown by the shares just bought.
	boughtShares, _ := buyRes.SharesOut.Float64()
	postBuy, err := poolstate.New(
		"market-1", "pool-1",
		1000.0, 0,
		[]string{"opt-a", "opt-b"},
		[]int{0, 1},
		[]float64{boughtShares, 0},
		nil, false,
	)
	if err != nil {
		t.Fatalf("unexpected error building post-buy state: %v", err)
	}

	sellRes, err := Quote(postBuy, Request{
		OptionID: ptrStr("opt-a"),
		Side:     types.SideSell,
		Shares:   &buyRes.SharesOut,
	})
	if err != nil {
		t.Fatalf("unexpected error on sell: %v", err)
	}
	if !sellRes.AmountOut.IsPositive() {
		t.Errorf("expected positive amount out, got %v", sellRes.AmountOut)
	}
	// With zero fee, selling back the exact shares should return close to
	// what was paid (not exact, since shares were quantized on the way in).
	diff := amount.Sub(sellRes.AmountOut).Abs()
	if diff.GreaterThan(decimal.NewFromFloat(0.01)) {
		t.Errorf("expected near-symmetric round trip, paid %v got back %v", amount, sellRes.AmountOut)
	}
}

func TestQuoteSellAmountSolvesShares(t *testing.T) {
	st := newTwoOptionState(t, 0)
	buyAmount := decimal.NewFromInt(200)
	buyRes, err := Quote(st, Request{OptionID: ptrStr("opt-a"), Side: types.SideBuy, AmountIn: &buyAmount})
	if err != nil {
		t.Fatalf("unexpected error on seed buy: %v", err)
	}
	_ = buyRes

	desiredOut := decimal.NewFromInt(5)
	res, err := Quote(st, Request{OptionID: ptrStr("opt-a"), Side: types.SideSell, AmountIn: &desiredOut})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.SharesIn.IsPositive() {
		t.Errorf("expected positive shares_in, got %v", res.SharesIn)
	}
}

func TestQuoteNoSideBuyDistributesAcrossOthers(t *testing.T) {
	st, err := poolstate.New(
		"market-1", "pool-1",
		1000.0, 0,
		[]string{"opt-a", "opt-b", "opt-c"},
		[]int{0, 1, 2},
		[]float64{0, 0, 0},
		map[string]poolstate.NoYesMapping{
			"opt-a-no": {YesOptionID: "opt-a", PoolIdx: 0},
		},
		true,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	amount := decimal.NewFromInt(30)
	res, err := Quote(st, Request{
		OptionID: ptrStr("opt-a-no"),
		Side:     types.SideBuy,
		AmountIn: &amount,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsNoSide {
		t.Error("expected IsNoSide to be true")
	}
	if len(res.NoBuyDeltas) != 3 {
		t.Fatalf("expected 3 deltas, got %d", len(res.NoBuyDeltas))
	}
	if res.NoBuyDeltas[0] != 0 {
		t.Errorf("target option delta should be 0, got %v", res.NoBuyDeltas[0])
	}
	if res.NoBuyDeltas[1] <= 0 || res.NoBuyDeltas[2] <= 0 {
		t.Errorf("other options should receive positive deltas, got %v", res.NoBuyDeltas)
	}
}

func TestQuoteInvalidSide(t *testing.T) {
	st := newTwoOptionState(t, 0)
	amount := decimal.NewFromInt(1)
	_, err := Quote(st, Request{OptionID: ptrStr("opt-a"), Side: "invalid", AmountIn: &amount})
	if err == nil {
		t.Error("expected error for invalid side")
	}
}

func TestQuoteUnknownOptionID(t *testing.T) {
	st := newTwoOptionState(t, 0)
	amount := decimal.NewFromInt(1)
	_, err := Quote(st, Request{OptionID: ptrStr("does-not-exist"), Side: types.SideBuy, AmountIn: &amount})
	if err == nil {
		t.Error("expected error for unknown option id")
	}
}
