// Package analytics computes read-only investment metrics over ledger
// snapshots.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"agri-token-ledger/internal/domain"
)

// ROI returns (actual - amount) / amount. Zero amount yields zero.
func ROI(amount, actual decimal.Decimal) float64 {
	if !amount.IsPositive() {
		return 0
	}
	return actual.Sub(amount).Div(amount).InexactFloat64()
}

// AnnualizedReturn returns (1 + actual/amount)^(365/holdingDays) - 1.
// Holdings shorter than a day are not annualized and yield zero.
func AnnualizedReturn(amount, actual decimal.Decimal, holdingDays float64) float64 {
	if !amount.IsPositive() || holdingDays < 1 {
		return 0
	}
	growth := 1 + actual.Div(amount).InexactFloat64()
	if growth <= 0 {
		return -1
	}
	return math.Pow(growth, 365/holdingDays) - 1
}

// HoldingDays returns the days between since and now.
func HoldingDays(since, now time.Time) float64 {
	return now.Sub(since).Hours() / 24
}

// Sharpe returns (mean - riskFree) / stddev over a per-period return series,
// using the sample standard deviation. Fewer than two points or no
// variance yield zero.
func Sharpe(returns []float64, riskFree float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := mean(returns)
	var ss float64
	for _, r := range returns {
		ss += (r - m) * (r - m)
	}
	sd := math.Sqrt(ss / float64(len(returns)-1))
	if sd == 0 {
		return 0
	}
	return (m - riskFree) / sd
}

// Sortino returns (mean - riskFree) / downside deviation, where the downside
// deviation only counts periods below riskFree. No downside yields zero.
func Sortino(returns []float64, riskFree float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var ss float64
	for _, r := range returns {
		if d := r - riskFree; d < 0 {
			ss += d * d
		}
	}
	dd := math.Sqrt(ss / float64(len(returns)))
	if dd == 0 {
		return 0
	}
	return (mean(returns) - riskFree) / dd
}

// StdDev returns the sample standard deviation.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Holding pairs an investment with the asset it is in.
type Holding struct {
	Investment *domain.Investment
	Asset      *domain.Asset
}

// Diversification returns 1 - HHI of the amount-weighted distribution of
// holdings, averaged over the asset type and location dimensions. One bucket
// scores 0; an even spread over n buckets scores 1 - 1/n.
func Diversification(holdings []Holding) float64 {
	byType := make(map[string]decimal.Decimal)
	byLocation := make(map[string]decimal.Decimal)
	total := decimal.Zero

	for _, h := range holdings {
		if h.Investment == nil || h.Asset == nil || !h.Investment.Amount.IsPositive() {
			continue
		}
		amt := h.Investment.Amount
		byType[h.Asset.AssetType] = byType[h.Asset.AssetType].Add(amt)
		byLocation[h.Asset.Location] = byLocation[h.Asset.Location].Add(amt)
		total = total.Add(amt)
	}
	if total.IsZero() {
		return 0
	}
	return ((1 - hhi(byType, total)) + (1 - hhi(byLocation, total))) / 2
}

// hhi is the Herfindahl-Hirschman index of bucket weights.
func hhi(buckets map[string]decimal.Decimal, total decimal.Decimal) float64 {
	var sum float64
	for _, amt := range buckets {
		w := amt.Div(total).InexactFloat64()
		sum += w * w
	}
	return sum
}

// PeriodReturns groups payout points by period and returns, per period in
// order of first payment, the paid amount over the principal it was paid on.
func PeriodReturns(points []*domain.PayoutPoint) []float64 {
	type bucket struct {
		first     time.Time
		amount    decimal.Decimal
		principal decimal.Decimal
	}
	buckets := make(map[string]*bucket)
	for _, p := range points {
		b, ok := buckets[p.Period]
		if !ok {
			b = &bucket{first: p.PaidAt}
			buckets[p.Period] = b
		}
		if p.PaidAt.Before(b.first) {
			b.first = p.PaidAt
		}
		b.amount = b.amount.Add(p.Amount)
		b.principal = b.principal.Add(p.Principal)
	}

	periods := make([]string, 0, len(buckets))
	for period := range buckets {
		periods = append(periods, period)
	}
	sort.Slice(periods, func(i, j int) bool {
		bi, bj := buckets[periods[i]], buckets[periods[j]]
		if !bi.first.Equal(bj.first) {
			return bi.first.Before(bj.first)
		}
		return periods[i] < periods[j]
	})

	returns := make([]float64, 0, len(periods))
	for _, period := range periods {
		b := buckets[period]
		if !b.principal.IsPositive() {
			continue
		}
		returns = append(returns, b.amount.Div(b.principal).InexactFloat64())
	}
	return returns
}
