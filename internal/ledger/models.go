// Package ledger owns the donation state machine. It is the leaf component:
// webhooks, refunds, and cancellations all mutate a donation through the one
// Transition operation defined here, so transition legality is enforced in
// exactly one place.
package ledger

import (
	"time"

	id "tally/pkg/domain"
)

// State is a donation lifecycle state.
type State string

const (
	StatePending       State = "pending"
	StateProcessing    State = "processing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateRefundPending State = "refund_pending"
	StateRefunded      State = "refunded"
	StateCancelled     State = "cancelled"
)

// Terminal reports whether no further transition may leave this state.
// Completed is not terminal: it can still enter the refund flow.
func (s State) Terminal() bool {
	switch s {
	case StateFailed, StateRefunded, StateCancelled:
		return true
	}
	return false
}

// Event is a transition trigger applied to a donation.
type Event string

const (
	EventChargeSubmitted Event = "charge_submitted"
	EventChargeCompleted Event = "charge_completed"
	EventChargeFailed    Event = "charge_failed"
	EventRefundInitiated Event = "refund_initiated"
	EventRefundConfirmed Event = "refund_confirmed"
	EventRefundFailed    Event = "refund_failed"
	EventCancelled       Event = "cancelled"
)

// transitions is the whole machine:
//
//	pending → processing → completed | failed
//	completed → refund_pending → refunded
//	refund_pending → completed (processor declined the refund)
//	pending | processing → cancelled
//
// charge_completed and charge_failed are accepted from pending as well as
// processing because the processor's notification can outrun our own
// charge_submitted bookkeeping. Cancellation of a completed donation is a
// refund, never a cancel.
var transitions = map[State]map[Event]State{
	StatePending: {
		EventChargeSubmitted: StateProcessing,
		EventChargeCompleted: StateCompleted,
		EventChargeFailed:    StateFailed,
		EventCancelled:       StateCancelled,
	},
	StateProcessing: {
		EventChargeCompleted: StateCompleted,
		EventChargeFailed:    StateFailed,
		EventCancelled:       StateCancelled,
	},
	StateCompleted: {
		EventRefundInitiated: StateRefundPending,
	},
	StateRefundPending: {
		EventRefundConfirmed: StateRefunded,
		EventRefundFailed:    StateCompleted,
	},
}

// Next resolves the state an event leads to from the current state.
// ok is false when the machine has no such edge.
func Next(current State, event Event) (State, bool) {
	edges, found := transitions[current]
	if !found {
		return "", false
	}
	next, found := edges[event]
	return next, found
}

// targets maps each event to the state it lands in, for idempotent re-apply
// detection: an event whose landing state equals the record's current state
// is a redelivery, not a conflict.
var targets = map[Event]State{
	EventChargeSubmitted: StateProcessing,
	EventChargeCompleted: StateCompleted,
	EventChargeFailed:    StateFailed,
	EventRefundInitiated: StateRefundPending,
	EventRefundConfirmed: StateRefunded,
	EventRefundFailed:    StateCompleted,
	EventCancelled:       StateCancelled,
}

// Target returns the landing state of an event.
func Target(event Event) (State, bool) {
	s, ok := targets[event]
	return s, ok
}

// Donation is a monetary contribution record. It is never deleted; it only
// moves through states or stays completed with linked partial refunds.
type Donation struct {
	ID             id.DonationID
	AmountCents    int64
	Currency       string
	Donor          id.DonorFingerprint
	FundraiserID   string
	OrganizationID string
	Jurisdiction   string
	State          State

	// ExternalTxID is empty until the charge is submitted; non-empty values
	// are unique across donations.
	ExternalTxID string

	IdempotencyKey string
	FailureReason  string

	// Version supports optimistic concurrency in durable stores.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateRequest is the validated input for a new donation.
type CreateRequest struct {
	AmountCents    int64
	Currency       string
	Donor          id.DonorFingerprint
	FundraiserID   string
	OrganizationID string
	Jurisdiction   string
	IdempotencyKey string
}
