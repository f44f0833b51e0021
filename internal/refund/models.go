// Package refund tracks reversal records linked to donations. A full refund
// moves the donation through refund_pending to refunded; a partial refund
// leaves the donation completed and settles independently.
package refund

import (
	"time"

	id "tally/pkg/domain"
)

// Status is a refund record's lifecycle state.
type Status string

const (
	// StatusRequested: authorized and recorded, awaiting processor issue
	// and confirmation.
	StatusRequested Status = "requested"
	// StatusConfirmed: the processor confirmed the reversal; the aggregate
	// has been decremented.
	StatusConfirmed Status = "confirmed"
	// StatusFailed: the ledger refused the reversal; the record is kept for
	// the compliance trail.
	StatusFailed Status = "failed"
)

// Refund is one reversal against a donation.
type Refund struct {
	ID          id.RefundID
	DonationID  id.DonationID
	AmountCents int64
	Status      Status

	// ProcessorRef is the processor's refund identifier, set once the issue
	// call is acknowledged. Confirmations arrive keyed by this value.
	ProcessorRef string

	RequestedBy string
	Reason      string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
}
