package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"agri-token-ledger/internal/cache"
	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/logger"
	"agri-token-ledger/internal/storage"
)

// DefaultCacheTTL bounds cached results; invalidation normally drops them first.
const DefaultCacheTTL = 5 * time.Minute

// EngineOptions configures Engine.
type EngineOptions struct {
	Assets      storage.AssetStore
	Investments storage.InvestmentStore
	// Payouts is optional; without it return series are empty.
	Payouts storage.PayoutSeriesStore
	Cache   cache.Cache
	TTL     time.Duration
	// RiskFreeRate is the per-period rate used by Sharpe and Sortino.
	RiskFreeRate float64
	Logger       *logger.Logger
	Now          func() time.Time
}

// Engine serves cached portfolio and asset analytics.
type Engine struct {
	assets      storage.AssetStore
	investments storage.InvestmentStore
	payouts     storage.PayoutSeriesStore
	cache       cache.Cache
	ttl         time.Duration
	riskFree    float64
	log         *logger.Logger
	now         func() time.Time
}

// NewEngine creates an analytics engine.
func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		assets:      opts.Assets,
		investments: opts.Investments,
		payouts:     opts.Payouts,
		cache:       opts.Cache,
		ttl:         opts.TTL,
		riskFree:    opts.RiskFreeRate,
		log:         logger.OrNop(opts.Logger).With("component", "analytics"),
		now:         opts.Now,
	}
	if e.ttl <= 0 {
		e.ttl = DefaultCacheTTL
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// InvestmentMetrics are the metrics of one investment.
type InvestmentMetrics struct {
	InvestmentID     int64                   `json:"investmentId"`
	AssetID          string                  `json:"assetId"`
	Status           domain.InvestmentStatus `json:"status"`
	Amount           decimal.Decimal         `json:"amount"`
	Shares           int64                   `json:"shares"`
	ActualReturns    decimal.Decimal         `json:"actualReturns"`
	ExpectedReturns  decimal.Decimal         `json:"expectedReturns"`
	ROI              float64                 `json:"roi"`
	AnnualizedReturn float64                 `json:"annualizedReturn"`
	HoldingDays      float64                 `json:"holdingDays"`
}

// Portfolio is the analytics view of one investor.
type Portfolio struct {
	InvestorID       string              `json:"investorId"`
	TotalInvested    decimal.Decimal     `json:"totalInvested"`
	TotalReturns     decimal.Decimal     `json:"totalReturns"`
	ROI              float64             `json:"roi"`
	AnnualizedReturn float64             `json:"annualizedReturn"`
	Sharpe           float64             `json:"sharpe"`
	Sortino          float64             `json:"sortino"`
	Diversification  float64             `json:"diversification"`
	Investments      []InvestmentMetrics `json:"investments"`
	ComputedAt       time.Time           `json:"computedAt"`
}

// AssetPerformance is the analytics view of one asset.
type AssetPerformance struct {
	AssetID         string                `json:"assetId"`
	Status          domain.AssetStatus    `json:"status"`
	TotalInvestment decimal.Decimal       `json:"totalInvestment"`
	CurrentValue    decimal.Decimal       `json:"currentValue"`
	TotalReturns    decimal.Decimal       `json:"totalReturns"`
	ROI             float64               `json:"roi"`
	Utilization     float64               `json:"utilization"`
	Investors       int                   `json:"investors"`
	Sharpe          float64               `json:"sharpe"`
	Sortino         float64               `json:"sortino"`
	Risk            domain.RiskAssessment `json:"risk"`
	ComputedAt      time.Time             `json:"computedAt"`
}

// countsTowardReturns reports whether an investment carries capital.
func countsTowardReturns(s domain.InvestmentStatus) bool {
	return s == domain.InvestmentStatusActive ||
		s == domain.InvestmentStatusCompleted ||
		s == domain.InvestmentStatusDefaulted
}

// InvestorPortfolio returns the investor's portfolio metrics.
func (e *Engine) InvestorPortfolio(ctx context.Context, investorID string) (*Portfolio, error) {
	ns := cache.InvestorAnalyticsNamespace(investorID)
	var cached Portfolio
	slot, hit := e.cacheGet(ctx, ns, "portfolio", &cached)
	if hit {
		return &cached, nil
	}

	invs, err := e.investments.ListByInvestor(ctx, investorID)
	if err != nil {
		return nil, fmt.Errorf("list investments of %s: %w", investorID, err)
	}

	now := e.now()
	p := &Portfolio{InvestorID: investorID, Investments: []InvestmentMetrics{}, ComputedAt: now}
	assets := make(map[string]*domain.Asset)
	var holdings []Holding
	var points []*domain.PayoutPoint
	var weightedDays decimal.Decimal

	for _, inv := range invs {
		if !countsTowardReturns(inv.Status) {
			continue
		}
		asset, ok := assets[inv.AssetID]
		if !ok {
			asset, err = e.assets.GetByID(ctx, inv.AssetID)
			if err != nil {
				return nil, fmt.Errorf("load asset %s: %w", inv.AssetID, err)
			}
			assets[inv.AssetID] = asset
		}
		holdings = append(holdings, Holding{Investment: inv, Asset: asset})

		days := HoldingDays(inv.CreatedAt, now)
		p.Investments = append(p.Investments, InvestmentMetrics{
			InvestmentID:     inv.ID,
			AssetID:          inv.AssetID,
			Status:           inv.Status,
			Amount:           inv.Amount,
			Shares:           inv.Shares,
			ActualReturns:    inv.Returns.Actual,
			ExpectedReturns:  inv.Returns.Expected,
			ROI:              ROI(inv.Amount, inv.Returns.Actual),
			AnnualizedReturn: AnnualizedReturn(inv.Amount, inv.Returns.Actual, days),
			HoldingDays:      days,
		})
		p.TotalInvested = p.TotalInvested.Add(inv.Amount)
		p.TotalReturns = p.TotalReturns.Add(inv.Returns.Actual)
		weightedDays = weightedDays.Add(inv.Amount.Mul(decimal.NewFromFloat(days)))

		series, err := e.investmentSeries(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		points = append(points, series...)
	}

	p.ROI = ROI(p.TotalInvested, p.TotalReturns)
	if p.TotalInvested.IsPositive() {
		avgDays := weightedDays.Div(p.TotalInvested).InexactFloat64()
		p.AnnualizedReturn = AnnualizedReturn(p.TotalInvested, p.TotalReturns, avgDays)
	}
	returns := PeriodReturns(points)
	p.Sharpe = Sharpe(returns, e.riskFree)
	p.Sortino = Sortino(returns, e.riskFree)
	p.Diversification = Diversification(holdings)

	e.cacheSet(ctx, slot, p)
	return p, nil
}

// AssetPerformance returns the asset's performance metrics.
func (e *Engine) AssetPerformance(ctx context.Context, assetID string) (*AssetPerformance, error) {
	ns := cache.AssetAnalyticsNamespace(assetID)
	var cached AssetPerformance
	slot, hit := e.cacheGet(ctx, ns, "performance", &cached)
	if hit {
		return &cached, nil
	}

	asset, err := e.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	invs, err := e.investments.ListByAsset(ctx, assetID,
		domain.InvestmentStatusActive, domain.InvestmentStatusCompleted, domain.InvestmentStatusDefaulted)
	if err != nil {
		return nil, fmt.Errorf("list investments of %s: %w", assetID, err)
	}
	returns, err := e.assetReturns(ctx, assetID)
	if err != nil {
		return nil, err
	}

	investors := make(map[string]struct{})
	for _, inv := range invs {
		investors[inv.InvestorID] = struct{}{}
	}

	perf := &AssetPerformance{
		AssetID:         asset.ID,
		Status:          asset.Status,
		TotalInvestment: asset.Financials.TotalInvestment,
		CurrentValue:    asset.Financials.CurrentValue,
		TotalReturns:    asset.Financials.Returns,
		ROI:             ROI(asset.Financials.TotalInvestment, asset.Financials.Returns),
		Investors:       len(investors),
		Sharpe:          Sharpe(returns, e.riskFree),
		Sortino:         Sortino(returns, e.riskFree),
		Risk:            AssessRisk(asset, returns),
		ComputedAt:      e.now(),
	}
	if asset.TotalSupply > 0 {
		perf.Utilization = float64(asset.ReservedShares) / float64(asset.TotalSupply)
	}

	e.cacheSet(ctx, slot, perf)
	return perf, nil
}

// AssessRisk scores the asset for a new reservation. It reads live state and
// is never cached.
func (e *Engine) AssessRisk(ctx context.Context, asset *domain.Asset) (domain.RiskAssessment, error) {
	returns, err := e.assetReturns(ctx, asset.ID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	return AssessRisk(asset, returns), nil
}

func (e *Engine) assetReturns(ctx context.Context, assetID string) ([]float64, error) {
	if e.payouts == nil {
		return nil, nil
	}
	points, err := e.payouts.GetByAsset(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("load payouts of %s: %w", assetID, err)
	}
	return PeriodReturns(points), nil
}

func (e *Engine) investmentSeries(ctx context.Context, investmentID int64) ([]*domain.PayoutPoint, error) {
	if e.payouts == nil {
		return nil, nil
	}
	points, err := e.payouts.GetByInvestment(ctx, investmentID)
	if err != nil {
		return nil, fmt.Errorf("load payouts of investment %d: %w", investmentID, err)
	}
	return points, nil
}

// cacheSlot is a looked-up cache entry. On a miss it carries the namespace
// generation seen before the value was computed.
type cacheSlot struct {
	ns, name string
	gen      uint64
	ok       bool
}

// cacheGet reports a hit. Cache errors are logged and treated as misses.
func (e *Engine) cacheGet(ctx context.Context, ns, name string, dst any) (cacheSlot, bool) {
	slot := cacheSlot{ns: ns, name: name}
	if e.cache == nil {
		return slot, false
	}
	gen, err := e.cache.Generation(ctx, ns)
	if err != nil {
		e.log.Warn("analytics cache generation read failed", "namespace", ns, "error", err)
		return slot, false
	}
	slot.gen, slot.ok = gen, true
	hit, err := e.cache.Get(ctx, ns, name, dst)
	if err != nil {
		e.log.Warn("analytics cache read failed", "namespace", ns, "error", err)
		return slot, false
	}
	return slot, hit
}

// cacheSet stores value unless its namespace was invalidated after slot was
// read.
func (e *Engine) cacheSet(ctx context.Context, slot cacheSlot, value any) {
	if !slot.ok {
		return
	}
	if _, err := e.cache.SetIfGeneration(ctx, slot.ns, slot.name, value, e.ttl, slot.gen); err != nil {
		e.log.Warn("analytics cache write failed", "namespace", slot.ns, "error", err)
	}
}
