package cache

import (
	"context"
	"fmt"

	"agri-token-ledger/internal/domain"
)

// InvestmentLister lists the investments of an asset.
type InvestmentLister interface {
	ListByAsset(ctx context.Context, assetID string, statuses ...domain.InvestmentStatus) ([]*domain.Investment, error)
}

// Invalidator maps store mutations to the cache namespaces they affect.
type Invalidator struct {
	cache       Cache
	investments InvestmentLister
}

// NewInvalidator creates an Invalidator. A nil cache makes every call a no-op.
func NewInvalidator(c Cache, investments InvestmentLister) *Invalidator {
	return &Invalidator{cache: c, investments: investments}
}

// Asset drops the asset, its analytics, the analytics of every investor
// holding it, and the given owners.
func (i *Invalidator) Asset(ctx context.Context, assetID string, owners ...string) error {
	if i == nil || i.cache == nil {
		return nil
	}

	namespaces := []string{AssetNamespace(assetID), AssetAnalyticsNamespace(assetID)}
	for _, o := range owners {
		if o != "" {
			namespaces = append(namespaces, OwnerNamespace(o))
		}
	}

	if i.investments != nil {
		invs, err := i.investments.ListByAsset(ctx, assetID)
		if err != nil {
			return fmt.Errorf("list investors of %s: %w", assetID, err)
		}
		seen := make(map[string]struct{}, len(invs))
		for _, inv := range invs {
			if _, ok := seen[inv.InvestorID]; ok {
				continue
			}
			seen[inv.InvestorID] = struct{}{}
			namespaces = append(namespaces, InvestorAnalyticsNamespace(inv.InvestorID))
		}
	}

	return i.cache.Invalidate(ctx, namespaces...)
}

// Investment drops what a single investment touches: the asset and the
// investor's analytics.
func (i *Invalidator) Investment(ctx context.Context, inv *domain.Investment) error {
	if i == nil || i.cache == nil || inv == nil {
		return nil
	}
	return i.cache.Invalidate(ctx,
		AssetNamespace(inv.AssetID),
		AssetAnalyticsNamespace(inv.AssetID),
		InvestorAnalyticsNamespace(inv.InvestorID),
	)
}
