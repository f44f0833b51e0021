// Package store provides the donor aggregate persistence pair. Both
// implementations serialize the read-modify-write per key and record applied
// markers so the same ledger transition can never increment an aggregate
// twice.
package store

import (
	"context"

	"tally/internal/limits"
)

// Store is the persistence surface for donor aggregates.
type Store interface {
	// Get returns the aggregate for a key; a key never written reports a
	// zero total, not an error.
	Get(ctx context.Context, key limits.AggregateKey) (*limits.DonorAggregate, error)

	// ApplyDelta atomically adds delta to every key, exactly once per marker.
	// Negative results clamp to zero; clamped keys are returned so the caller
	// can raise an anomaly. applied is false when the marker was already
	// consumed, in which case nothing changed.
	ApplyDelta(ctx context.Context, marker string, keys []limits.AggregateKey, delta int64) (applied bool, clamped []limits.AggregateKey, err error)
}
