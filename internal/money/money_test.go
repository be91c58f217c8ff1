package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestQuantizeSharesRoundsDown(t *testing.T) {
	got := QuantizeShares(dec("1.123456789"))
	want := dec("1.12345678")
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestQuantizeMoneyUpAndDown(t *testing.T) {
	x := dec("1.005001")
	up := QuantizeMoneyUp(x, 2)
	down := QuantizeMoneyDown(x, 2)
	if !up.Equal(dec("1.01")) {
		t.Errorf("round-up got %v", up)
	}
	if !down.Equal(dec("1.00")) {
		t.Errorf("round-down got %v", down)
	}
}

func TestFeeRateFromBpsRejectsFullFee(t *testing.T) {
	if _, err := FeeRateFromBps(10000); err == nil {
		t.Error("expected error at fee_bps=10000")
	}
	if _, err := FeeRateFromBps(-1); err == nil {
		t.Error("expected error for negative fee_bps")
	}
	rate, err := FeeRateFromBps(250)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rate.Equal(dec("0.025")) {
		t.Errorf("got %v, want 0.025", rate)
	}
}

func TestBpsFromProbabilitiesClampsAndRounds(t *testing.T) {
	got := BpsFromProbabilities([]float64{-0.1, 0.5, 1.5, 0.33335})
	want := []int{0, 5000, 10000, 3334}
	if len(got) != len(want) {
		t.Fatalf("length mismatch")
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
}
