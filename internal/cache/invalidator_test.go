package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agri-token-ledger/internal/domain"
)

type fakeLister struct {
	invs []*domain.Investment
}

func (f *fakeLister) ListByAsset(_ context.Context, assetID string, _ ...domain.InvestmentStatus) ([]*domain.Investment, error) {
	var out []*domain.Investment
	for _, inv := range f.invs {
		if inv.AssetID == assetID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func TestInvalidator_AssetDropsInvestorAnalytics(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	lister := &fakeLister{invs: []*domain.Investment{
		{ID: 1, InvestorID: "alice", AssetID: "farm-1"},
		{ID: 2, InvestorID: "alice", AssetID: "farm-1"},
		{ID: 3, InvestorID: "bob", AssetID: "farm-2"},
	}}
	inv := NewInvalidator(c, lister)

	for _, ns := range []string{
		AssetNamespace("farm-1"),
		AssetAnalyticsNamespace("farm-1"),
		InvestorAnalyticsNamespace("alice"),
		InvestorAnalyticsNamespace("bob"),
		OwnerNamespace("old-owner"),
	} {
		require.NoError(t, c.Set(ctx, ns, "v", 1, time.Minute))
	}

	require.NoError(t, inv.Asset(ctx, "farm-1", "old-owner", ""))

	var v int
	for _, ns := range []string{
		AssetNamespace("farm-1"),
		AssetAnalyticsNamespace("farm-1"),
		InvestorAnalyticsNamespace("alice"),
		OwnerNamespace("old-owner"),
	} {
		ok, _ := c.Get(ctx, ns, "v", &v)
		assert.False(t, ok, "namespace %s should be invalidated", ns)
	}
	ok, _ := c.Get(ctx, InvestorAnalyticsNamespace("bob"), "v", &v)
	assert.True(t, ok, "unrelated investor must keep cache")
}

func TestInvalidator_NilSafe(t *testing.T) {
	var inv *Invalidator
	assert.NoError(t, inv.Asset(context.Background(), "x"))
	assert.NoError(t, NewInvalidator(nil, nil).Investment(context.Background(), &domain.Investment{}))
}
