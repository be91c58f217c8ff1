package lmsr

import (
	"math"
	"testing"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestPricesSumToOne(t *testing.T) {
	q := []float64{0, 0, 0}
	p, err := Prices(q, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := 0.0
	for _, pi := range p {
		sum += pi
		if !almostEqual(pi, 1.0/3.0, 1e-9) {
			t.Errorf("expected uniform price 1/3, got %v", pi)
		}
	}
	if !almostEqual(sum, 1.0, 1e-9) {
		t.Errorf("prices must sum to 1, got %v", sum)
	}
}

func TestPricesSkewedByQ(t *testing.T) {
	q := []float64{100, 0}
	p, err := Prices(q, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p[0] <= p[1] {
		t.Errorf("expected outcome 0 to dominate, got %v vs %v", p[0], p[1])
	}
	if !almostEqual(p[0]+p[1], 1.0, 1e-9) {
		t.Errorf("prices must sum to 1")
	}
}

func TestPricesRejectsNonPositiveB(t *testing.T) {
	if _, err := Prices([]float64{0, 0}, 0); err == nil {
		t.Error("expected error for b=0")
	}
	if _, err := Prices([]float64{0, 0}, -1); err == nil {
		t.Error("expected error for negative b")
	}
}

func TestCostMonotonicInQ(t *testing.T) {
	b := 100.0
	c1, _ := Cost([]float64{0, 0}, b)
	c2, _ := Cost([]float64{10, 0}, b)
	if c2 <= c1 {
		t.Errorf("cost should increase as q increases: %v vs %v", c1, c2)
	}
}

func TestBuyAmountToDeltaQRoundTrip(t *testing.T) {
	b := 1000.0
	q := []float64{0, 0, 0}
	k := 1
	amount := 25.0

	delta, err := BuyAmountToDeltaQ(q, b, k, amount)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delta <= 0 {
		t.Fatalf("expected positive delta, got %v", delta)
	}

	qAfter := append([]float64{}, q...)
	qAfter[k] += delta

	c0, _ := Cost(q, b)
	c1, _ := Cost(qAfter, b)
	gotAmount := c1 - c0

	if !almostEqual(gotAmount, amount, 1e-6) {
		t.Errorf("round trip mismatch: wanted cost delta %v, got %v", amount, gotAmount)
	}
}

func TestBuyAmountToDeltaQRejectsInvalidInputs(t *testing.T) {
	q := []float64{0, 0}
	if _, err := BuyAmountToDeltaQ(q, 0, 0, 1); err == nil {
		t.Error("expected error for b<=0")
	}
	if _, err := BuyAmountToDeltaQ(q, 1, 0, 0); err == nil {
		t.Error("expected error for amountNet<=0")
	}
	if _, err := BuyAmountToDeltaQ(q, 1, 5, 1); err == nil {
		t.Error("expected error for out-of-range index")
	}
}

func TestMaxGrossPayoutBounds(t *testing.T) {
	g, err := MaxGrossPayout(0.5, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := -100 * math.Log(0.5)
	if !almostEqual(g, want, 1e-9) {
		t.Errorf("expected %v, got %v", want, g)
	}
	if _, err := MaxGrossPayout(0, 100); err == nil {
		t.Error("expected error for pK=0")
	}
	if _, err := MaxGrossPayout(1, 100); err == nil {
		t.Error("expected error for pK=1")
	}
}

func TestSolveSellSharesForGrossPayoutRoundTrip(t *testing.T) {
	b := 200.0
	pK := 0.3

	maxGross, err := MaxGrossPayout(pK, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gross := maxGross * 0.5

	s, err := SolveSellSharesForGrossPayout(pK, b, gross)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s <= 0 {
		t.Fatalf("expected positive share quantity, got %v", s)
	}

	// gross(S) = -b*log(1 - pK + pK*exp(-S/b)) must reproduce the target.
	gotGross := -b * math.Log(1-pK+pK*math.Exp(-s/b))
	if !almostEqual(gotGross, gross, 1e-6) {
		t.Errorf("round trip mismatch: wanted %v, got %v", gross, gotGross)
	}
}

func TestSolveSellSharesForGrossPayoutRejectsExcessiveTarget(t *testing.T) {
	b := 100.0
	pK := 0.4
	maxGross, _ := MaxGrossPayout(pK, b)

	if _, err := SolveSellSharesForGrossPayout(pK, b, maxGross); err == nil {
		t.Error("expected error when gross >= theoretical maximum")
	}
	if _, err := SolveSellSharesForGrossPayout(pK, b, maxGross*1.5); err == nil {
		t.Error("expected error when gross exceeds theoretical maximum")
	}
}

func TestSolveSellSharesForGrossPayoutRejectsInvalidProbability(t *testing.T) {
	if _, err := SolveSellSharesForGrossPayout(0, 100, 1); err == nil {
		t.Error("expected error for pK=0")
	}
	if _, err := SolveSellSharesForGrossPayout(1, 100, 1); err == nil {
		t.Error("expected error for pK=1")
	}
}
