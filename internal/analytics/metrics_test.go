package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"agri-token-ledger/internal/domain"
)

const eps = 1e-9

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestROI(t *testing.T) {
	tests := []struct {
		name           string
		amount, actual decimal.Decimal
		want           float64
	}{
		{"gain", d(1000), d(1100), 0.1},
		{"loss", d(1000), d(900), -0.1},
		{"nothing returned", d(1000), d(0), -1},
		{"zero amount", d(0), d(50), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ROI(tt.amount, tt.actual); !approx(got, tt.want) {
				t.Errorf("ROI = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnnualizedReturn(t *testing.T) {
	tests := []struct {
		name string
		days float64
		want float64
	}{
		{"one year", 365, 0.1},
		{"half year compounds", 182.5, 0.21},
		{"under a day", 0.5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnnualizedReturn(d(1000), d(100), tt.days); !approx(got, tt.want) {
				t.Errorf("AnnualizedReturn = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHoldingDays(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := HoldingDays(start, start.Add(36*time.Hour)); math.Abs(got-1.5) > eps {
		t.Errorf("HoldingDays = %v, want 1.5", got)
	}
}

func TestSharpeSortino(t *testing.T) {
	if got := Sharpe([]float64{0.1, 0.2, 0.3}, 0); !approx(got, 2.0) {
		t.Errorf("Sharpe = %v, want 2", got)
	}
	if got := Sharpe([]float64{0.1, 0.2, 0.3}, 0.1); !approx(got, 1.0) {
		t.Errorf("Sharpe with risk-free = %v, want 1", got)
	}
	if got := Sharpe([]float64{0.1}, 0); got != 0 {
		t.Errorf("Sharpe of one point = %v, want 0", got)
	}
	if got := Sharpe([]float64{0.1, 0.1}, 0); got != 0 {
		t.Errorf("Sharpe without variance = %v, want 0", got)
	}

	want := 0.1 / math.Sqrt(0.01/3)
	if got := Sortino([]float64{0.1, -0.1, 0.3}, 0); !approx(got, want) {
		t.Errorf("Sortino = %v, want %v", got, want)
	}
	if got := Sortino([]float64{0.1, 0.2}, 0); got != 0 {
		t.Errorf("Sortino without downside = %v, want 0", got)
	}
}

func TestDiversification(t *testing.T) {
	farm := &domain.Asset{AssetType: "farmland", Location: "Iowa"}
	herd := &domain.Asset{AssetType: "livestock", Location: "Texas"}
	barn := &domain.Asset{AssetType: "farmland", Location: "Texas"}
	inv := func(amount int64) *domain.Investment { return &domain.Investment{Amount: d(amount)} }

	tests := []struct {
		name     string
		holdings []Holding
		want     float64
	}{
		{"empty", nil, 0},
		{"single holding", []Holding{{inv(100), farm}}, 0},
		{"two even buckets", []Holding{{inv(100), farm}, {inv(100), herd}}, 0.5},
		// type: one bucket (0); location: even split (0.5)
		{"same type", []Holding{{inv(100), farm}, {inv(100), barn}}, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Diversification(tt.holdings); !approx(got, tt.want) {
				t.Errorf("Diversification = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPeriodReturns(t *testing.T) {
	t0 := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	points := []*domain.PayoutPoint{
		{Period: "2026-Q2", Amount: d(30), Principal: d(1000), PaidAt: t0.AddDate(0, 3, 0)},
		{Period: "2026-Q1", Amount: d(50), Principal: d(1000), PaidAt: t0},
		{Period: "2026-Q1", Amount: d(50), Principal: d(1000), PaidAt: t0.Add(time.Minute)},
	}

	got := PeriodReturns(points)
	if len(got) != 2 {
		t.Fatalf("expected 2 periods, got %v", got)
	}
	if !approx(got[0], 0.05) || !approx(got[1], 0.03) {
		t.Errorf("unexpected returns %v", got)
	}
}

func TestAssessRisk(t *testing.T) {
	tests := []struct {
		name    string
		asset   domain.Asset
		returns []float64
		level   domain.RiskLevel
		score   float64
	}{
		{"fresh active", domain.Asset{Status: domain.AssetStatusActive, TotalSupply: 100}, nil, domain.RiskLevelLow, 0},
		{"ended", domain.Asset{Status: domain.AssetStatusEnded, TotalSupply: 100}, nil, domain.RiskLevelMedium, 40},
		{"paused and full", domain.Asset{Status: domain.AssetStatusPaused, TotalSupply: 100, ReservedShares: 100}, nil, domain.RiskLevelMedium, 60},
		{"ended, full, volatile", domain.Asset{Status: domain.AssetStatusEnded, TotalSupply: 100, ReservedShares: 100}, []float64{-0.5, 0.5}, domain.RiskLevelHigh, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssessRisk(&tt.asset, tt.returns)
			if got.Level != tt.level || !approx(got.Score, tt.score) {
				t.Errorf("got %+v, want level=%s score=%v", got, tt.level, tt.score)
			}
		})
	}
}
