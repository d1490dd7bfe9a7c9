package distribution

import (
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
)

func TestAllocate(t *testing.T) {
	tests := []struct {
		name      string
		total     string
		shares    []int64
		precision int32
		want      []string
	}{
		{"even split", "1000", []int64{600, 400}, 0, []string{"600", "400"}},
		{"remainder to last", "1001", []int64{600, 400}, 0, []string{"600", "401"}},
		{"thirds in cents", "100", []int64{1, 1, 1}, 2, []string{"33.33", "33.33", "33.34"}},
		{"single holder", "77", []int64{5}, 0, []string{"77"}},
		{"tiny holder floors to zero", "10", []int64{1, 999}, 0, []string{"0", "10"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total := decimal.RequireFromString(tt.total)
			got := Allocate(total, tt.shares, tt.precision)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}

			sum := decimal.Zero
			for i, w := range tt.want {
				if !got[i].Equal(decimal.RequireFromString(w)) {
					t.Errorf("part %d = %s, want %s", i, got[i], w)
				}
				sum = sum.Add(got[i])
			}
			if !sum.Equal(total) {
				t.Errorf("parts sum to %s, want %s", sum, total)
			}
		})
	}
}

func TestAllocate_Empty(t *testing.T) {
	if got := Allocate(decimal.NewFromInt(10), nil, 0); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestAllocate_RandomizedConservesTotal(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 42))

	for i := 0; i < 2000; i++ {
		precision := int32(rng.IntN(9))
		holders := 1 + rng.IntN(12)
		shares := make([]int64, holders)
		var totalShares int64
		for j := range shares {
			// Zero holdings are kept in the vector.
			if rng.IntN(5) > 0 {
				shares[j] = 1 + rng.Int64N(1_000_000)
			}
			totalShares += shares[j]
		}
		total := decimal.New(rng.Int64N(1_000_000_000_000), -int32(rng.IntN(int(precision)+1)))

		got := Allocate(total, shares, precision)
		if len(got) != holders {
			t.Fatalf("case %d: len = %d, want %d", i, len(got), holders)
		}

		sum := decimal.Zero
		for j, part := range got {
			if part.IsNegative() {
				t.Fatalf("case %d: part %d = %s is negative (total %s, shares %v, precision %d)",
					i, j, part, total, shares, precision)
			}
			if j < holders-1 {
				if !part.Equal(part.Truncate(precision)) {
					t.Fatalf("case %d: part %d = %s exceeds precision %d", i, j, part, precision)
				}
				if totalShares > 0 && part.Mul(decimal.NewFromInt(totalShares)).GreaterThan(total.Mul(decimal.NewFromInt(shares[j]))) {
					t.Fatalf("case %d: part %d = %s exceeds its proportional share", i, j, part)
				}
			}
			sum = sum.Add(part)
		}
		if !sum.Equal(total) {
			t.Fatalf("case %d: sum = %s, want %s (shares %v, precision %d)", i, sum, total, shares, precision)
		}
	}
}
