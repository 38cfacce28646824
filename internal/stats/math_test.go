package stats

import (
	"math"
	"testing"
)

func TestCalculateMedian(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{"Empty", []float64{}, 0},
		{"SingleItem", []float64{5.5}, 5.5},
		{"OddCount", []float64{1.1, 3.3, 2.2}, 2.2},
		{"EvenCount", []float64{1.0, 2.0, 3.0, 4.0}, 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateMedian(tt.values); got != tt.expected {
				t.Errorf("CalculateMedian() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCalculateMedian_DoesNotMutate(t *testing.T) {
	values := []float64{3, 1, 2}
	_ = CalculateMedian(values)
	if values[0] != 3 || values[1] != 1 || values[2] != 2 {
		t.Errorf("input was reordered: %v", values)
	}
}

func TestCalculateStdDev(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{"Empty", nil, 0},
		{"Single", []float64{4}, 0},
		{"Constant", []float64{2, 2, 2}, 0},
		{"Textbook", []float64{2, 4, 4, 4, 5, 5, 7, 9}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateStdDev(tt.values); math.Abs(got-tt.expected) > 1e-12 {
				t.Errorf("CalculateStdDev() = %v, want %v", got, tt.expected)
			}
		})
	}
}
