// Package cache provides namespaced read caches with synchronous invalidation.
package cache

import (
	"context"
	"time"
)

// Cache stores JSON-encoded values grouped by namespace.
// Invalidate drops every entry of the given namespaces before returning and
// advances their generation.
//
// A reader that fills the cache after a miss reads Generation before loading
// and writes with SetIfGeneration, so a value loaded before a concurrent
// Invalidate is never stored after it.
type Cache interface {
	// Get decodes the cached value into dst. Returns false on a miss.
	Get(ctx context.Context, namespace, name string, dst any) (bool, error)

	// Set stores value under (namespace, name) for ttl.
	Set(ctx context.Context, namespace, name string, value any, ttl time.Duration) error

	// SetIfGeneration stores value only while namespace is still at gen.
	// Reports whether the value was stored.
	SetIfGeneration(ctx context.Context, namespace, name string, value any, ttl time.Duration, gen uint64) (bool, error)

	// Generation returns how many times namespace has been invalidated.
	Generation(ctx context.Context, namespace string) (uint64, error)

	// Invalidate removes all entries of the namespaces.
	Invalidate(ctx context.Context, namespaces ...string) error
}

// Namespace helpers.

func AssetNamespace(assetID string) string {
	return "asset:" + assetID
}

func AssetAnalyticsNamespace(assetID string) string {
	return "analytics:asset:" + assetID
}

func InvestorAnalyticsNamespace(investorID string) string {
	return "analytics:investor:" + investorID
}

func OwnerNamespace(owner string) string {
	return "owner:" + owner
}
