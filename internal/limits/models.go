// Package limits tracks donor aggregates per compliance window and enforces
// configured contribution limits before and after money moves.
package limits

import (
	"time"

	id "tally/pkg/domain"
)

// AggregateKey identifies one donor aggregate row.
type AggregateKey struct {
	Donor        id.DonorFingerprint
	Jurisdiction string
	Cycle        string
}

// DonorAggregate is the running total of completed contributions minus
// confirmed reversals for one key. It is updated only on committed ledger
// transitions, never speculatively.
type DonorAggregate struct {
	Key         AggregateKey
	TotalCents  int64
	LastUpdated time.Time
}

// Window is one compliance window a jurisdiction enforces. A donation counts
// against every active window for its jurisdiction, so both an annual and a
// per-election window can apply to the same contribution.
type Window struct {
	Cycle      string
	LimitCents int64

	// Start/End bound when the window is active; zero values mean always.
	Start time.Time
	End   time.Time
}

// ActiveAt reports whether the window applies at the given instant.
func (w Window) ActiveAt(at time.Time) bool {
	if !w.Start.IsZero() && at.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !at.Before(w.End) {
		return false
	}
	return true
}
