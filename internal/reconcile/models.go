// Package reconcile is the manual-review queue. Conflicting webhook statuses,
// notifications with no matching donation, exhausted gateway retries, and
// aggregate anomalies all land here instead of being guessed into a state.
package reconcile

import (
	"time"

	id "tally/pkg/domain"
)

// Kind classifies why an item needs human eyes.
type Kind string

const (
	// KindIllegalTransition: a status event conflicted with an already
	// recorded terminal state. The recorded state was preserved.
	KindIllegalTransition Kind = "illegal_transition"
	// KindUnknownDonation: a processor event referenced a transaction id with
	// no ledger record. No record was fabricated.
	KindUnknownDonation Kind = "unknown_donation"
	// KindGatewayExhausted: a charge or refund call ran out of retries.
	KindGatewayExhausted Kind = "gateway_exhausted"
	// KindNegativeAggregate: a reversal would have driven a donor aggregate
	// below zero and was clamped.
	KindNegativeAggregate Kind = "negative_aggregate"
	// KindLimitBreach: concurrent completions landed a donor aggregate over a
	// window's cap after both passed the advisory pre-check.
	KindLimitBreach Kind = "limit_breach"
)

// Status tracks an item through review.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Item is one queued review case.
type Item struct {
	ID         id.ReconcileItemID
	Kind       Kind
	DonationID id.DonationID // nil UUID when no donation matched
	// ExternalRef is the processor event or transaction id involved.
	ExternalRef string
	Detail      string
	Status      Status
	CreatedAt   time.Time
	ResolvedAt  *time.Time
	ResolvedBy  string
}
