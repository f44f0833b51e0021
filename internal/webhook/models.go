// Package webhook normalizes payment processor notifications and applies them
// to the ledger exactly once. The processor's event id is the dedup key; a
// recorded event with processed_at set is never reapplied.
package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"tally/internal/ledger"
	dErrors "tally/pkg/domain-errors"
)

// Type is a processor notification type. The set is closed: anything else is
// rejected at the boundary, not guessed at.
type Type string

const (
	TypeChargeSucceeded Type = "charge.succeeded"
	TypeChargeFailed    Type = "charge.failed"
	TypeRefundSucceeded Type = "refund.succeeded"
	TypeRefundFailed    Type = "refund.failed"
)

// LedgerEvent maps a notification type to the transition it drives.
func (t Type) LedgerEvent() (ledger.Event, bool) {
	switch t {
	case TypeChargeSucceeded:
		return ledger.EventChargeCompleted, true
	case TypeChargeFailed:
		return ledger.EventChargeFailed, true
	case TypeRefundSucceeded:
		return ledger.EventRefundConfirmed, true
	case TypeRefundFailed:
		return ledger.EventRefundFailed, true
	}
	return "", false
}

// Event is the parsed wire payload of one processor notification.
type Event struct {
	EventID       string    `json:"event_id"`
	Type          Type      `json:"type"`
	TransactionID string    `json:"transaction_id"`
	RefundID      string    `json:"refund_id,omitempty"`
	AmountCents   int64     `json:"amount_cents,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at,omitzero"`
}

// Parse decodes and validates a raw payload. Unknown types and missing
// identifiers are validation failures; the caller drops and audits them.
func Parse(raw []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "webhook payload is not valid JSON")
	}
	if evt.EventID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "webhook payload is missing event_id")
	}
	if evt.TransactionID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "webhook payload is missing transaction_id")
	}
	if _, known := evt.Type.LedgerEvent(); !known {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown webhook event type %q", evt.Type)
	}
	if (evt.Type == TypeRefundSucceeded || evt.Type == TypeRefundFailed) && evt.RefundID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "refund notification is missing refund_id")
	}
	return &evt, nil
}

// Record is the stored dedup row for one processor event.
type Record struct {
	ProcessorEventID string
	PayloadHash      string
	ReceivedAt       time.Time
	ProcessedAt      *time.Time
}

// Processed reports whether the event has been applied to the ledger.
func (r *Record) Processed() bool { return r.ProcessedAt != nil }

// HashPayload fingerprints the raw body for the stored record.
func HashPayload(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
