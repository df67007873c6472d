package knowledge

import (
	"math"
	"testing"
)

func TestAdjustConfidence(t *testing.T) {
	tests := []struct {
		in       float64
		positive bool
		want     float64
	}{
		{1.0, true, 1.0},
		{1.0, false, 0.85},
		{0.5, true, 0.6},
		{0.1, false, 0.0},
		{0.0, false, 0.0},
		{0.95, true, 1.0},
	}
	for _, tt := range tests {
		got := AdjustConfidence(tt.in, tt.positive)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("AdjustConfidence(%v, %v) = %v, want %v", tt.in, tt.positive, got, tt.want)
		}
	}
}

func TestAdjustConfidence_AlwaysInRange(t *testing.T) {
	starts := []float64{-3, -0.01, 0, 0.05, 0.5, 0.7, 0.99, 1, 1.2, 42}
	for _, start := range starts {
		for _, positive := range []bool{true, false} {
			c := start
			for range 50 {
				c = AdjustConfidence(c, positive)
				if c < 0 || c > 1 {
					t.Fatalf("start=%v positive=%v produced %v", start, positive, c)
				}
			}
			want := 0.0
			if positive {
				want = 1.0
			}
			if c != want {
				t.Errorf("start=%v positive=%v settled at %v, want %v", start, positive, c, want)
			}
		}
	}
}

func TestAdjustConfidence_NegativeOutweighsPositive(t *testing.T) {
	up := AdjustConfidence(0.5, true) - 0.5
	down := 0.5 - AdjustConfidence(0.5, false)
	if down <= up {
		t.Errorf("negative step %v should exceed positive step %v", down, up)
	}
}
