// Package store persists webhook dedup records. The processor event id is the
// primary key; whichever delivery records it first owns the row, and
// processed_at is set only after the ledger transition committed.
package store

import (
	"context"
	"time"

	"tally/internal/webhook"
)

// Store is the durable dedup surface.
type Store interface {
	// Record inserts the event row if absent. It returns the canonical stored
	// row and whether this call created it; a lost race returns the winner's
	// row with created false.
	Record(ctx context.Context, rec *webhook.Record) (*webhook.Record, bool, error)

	// MarkProcessed stamps processed_at after a definitive ledger outcome.
	MarkProcessed(ctx context.Context, processorEventID string, at time.Time) error
}

// Claimer is a fast in-flight guard in front of the durable store: it keeps
// two near-simultaneous deliveries of the same event from racing into the
// ledger. Claims expire on their own, so a crashed holder never wedges an
// event; the durable record remains the source of truth.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
