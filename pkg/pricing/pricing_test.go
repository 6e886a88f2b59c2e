package pricing

import "testing"

func TestCostHappyPath(t *testing.T) {
	// S1: 100 in / 200 out tokens on vendorA => round6(300/1000*0.002) = 0.000600
	got := Cost("vendorA", 100, 200)
	want := 0.000600
	if got != want {
		t.Errorf("Cost() = %v, want %v", got, want)
	}
}

func TestCostVendorB(t *testing.T) {
	got := Cost("vendorB", 1000, 2000)
	want := round6(3000.0 / 1000 * 0.003)
	if got != want {
		t.Errorf("Cost() = %v, want %v", got, want)
	}
}

func TestCostZeroTokens(t *testing.T) {
	if got := Cost("vendorA", 0, 0); got != 0 {
		t.Errorf("Cost() = %v, want 0", got)
	}
}

func TestCostUnknownVendorPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown vendor")
		}
	}()
	Cost("vendorZ", 1, 1)
}

func TestRound6(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.1234564, 0.123456},
		{0.1234566, 0.123457},
		{0.1, 0.1},
		{1.0, 1.0},
	}

	for _, tt := range tests {
		if got := round6(tt.in); got != tt.want {
			t.Errorf("round6(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
