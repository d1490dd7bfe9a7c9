package distribution

import (
	"github.com/shopspring/decimal"
)

// Allocate splits total across holders in proportion to shares. Every holder
// but the last receives floor(total * shares / totalShares) at precision
// decimal places; the last receives the remainder, so the parts always sum
// to total exactly.
func Allocate(total decimal.Decimal, shares []int64, precision int32) []decimal.Decimal {
	if len(shares) == 0 {
		return nil
	}

	var totalShares int64
	for _, s := range shares {
		totalShares += s
	}

	out := make([]decimal.Decimal, len(shares))
	if totalShares <= 0 {
		out[len(out)-1] = total
		for i := 0; i < len(out)-1; i++ {
			out[i] = decimal.Zero
		}
		return out
	}

	divisor := decimal.NewFromInt(totalShares)
	allocated := decimal.Zero
	for i, s := range shares {
		if i == len(shares)-1 {
			out[i] = total.Sub(allocated)
			break
		}
		// QuoRem truncates toward zero, which is floor for positive amounts
		q, _ := total.Mul(decimal.NewFromInt(s)).QuoRem(divisor, precision)
		out[i] = q
		allocated = allocated.Add(q)
	}
	return out
}
