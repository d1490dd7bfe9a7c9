package analytics

import (
	"math"

	"agri-token-ledger/internal/domain"
)

// Risk score weights. Components add up to at most 100.
const (
	statusWeight      = 40
	utilizationWeight = 30
	volatilityWeight  = 30
)

// AssessRisk scores an asset from its status, how much of its supply is
// already reserved, and the volatility of its per-period returns.
func AssessRisk(asset *domain.Asset, returns []float64) domain.RiskAssessment {
	var score float64

	switch asset.Status {
	case domain.AssetStatusActive:
	case domain.AssetStatusPaused:
		score += statusWeight * 0.75
	default:
		score += statusWeight
	}

	if asset.TotalSupply > 0 {
		utilization := float64(asset.ReservedShares) / float64(asset.TotalSupply)
		score += utilizationWeight * math.Min(utilization, 1)
	}

	// A 20% per-period standard deviation saturates the volatility component
	score += volatilityWeight * math.Min(StdDev(returns)/0.2, 1)

	score = math.Round(math.Min(score, 100)*100) / 100
	return domain.RiskAssessment{Score: score, Level: riskLevel(score)}
}

func riskLevel(score float64) domain.RiskLevel {
	switch {
	case score < 34:
		return domain.RiskLevelLow
	case score < 67:
		return domain.RiskLevelMedium
	}
	return domain.RiskLevelHigh
}
