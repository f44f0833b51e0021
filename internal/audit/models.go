// Package audit is the append-only compliance record. Every ledger transition
// and every money-affecting rejection lands here with enough context that the
// donor aggregates are reconstructable by replaying the entries from empty
// state. Entries are immutable and never deleted.
package audit

import (
	"time"

	id "tally/pkg/domain"
)

// Trigger names the path that caused a transition or rejection.
type Trigger string

const (
	TriggerWebhook Trigger = "webhook"
	TriggerRefund  Trigger = "refund"
	TriggerCancel  Trigger = "cancel"
	TriggerManual  Trigger = "manual"
	TriggerSystem  Trigger = "system"
)

// Action classifies what an entry records.
type Action string

const (
	// ActionTransitionApplied records a successful ledger transition.
	ActionTransitionApplied Action = "transition_applied"
	// ActionTransitionRejected records an illegal transition attempt; the
	// prior terminal state was preserved.
	ActionTransitionRejected Action = "transition_rejected"
	// ActionWebhookRejected records a dropped webhook (bad signature or
	// unparseable payload).
	ActionWebhookRejected Action = "webhook_rejected"
	// ActionLimitRejected records a pre-check rejection; no charge was made.
	ActionLimitRejected Action = "limit_rejected"
	// ActionAggregateClamped records a reversal that would have driven an
	// aggregate negative and was clamped to zero.
	ActionAggregateClamped Action = "aggregate_clamped"
	// ActionLimitBreached records a completion that landed a donor aggregate
	// over a window's cap; both concurrent donations passed the advisory
	// pre-check, so the breach is recorded after the fact.
	ActionLimitBreached Action = "limit_breached"
	// ActionGatewayExhausted records a processor call that ran out of retries
	// and was parked for manual intervention.
	ActionGatewayExhausted Action = "gateway_exhausted"
)

// EventCategory classifies entries for retention and routing. Compliance
// entries require tamper-proof storage and long retention; operations entries
// can be sampled downstream.
type EventCategory string

const (
	CategoryCompliance EventCategory = "compliance"
	CategoryOperations EventCategory = "operations"
)

var actionCategories = map[Action]EventCategory{
	ActionTransitionApplied:  CategoryCompliance,
	ActionTransitionRejected: CategoryCompliance,
	ActionLimitRejected:      CategoryCompliance,
	ActionLimitBreached:      CategoryCompliance,
	ActionAggregateClamped:   CategoryCompliance,
	ActionGatewayExhausted:   CategoryCompliance,
	ActionWebhookRejected:    CategoryOperations,
}

// Category returns the category for an action. Unknown actions default to
// operations.
func (a Action) Category() EventCategory {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}

// Entry is one immutable audit record.
type Entry struct {
	ID         id.AuditEntryID
	Action     Action
	DonationID id.DonationID
	FromState  string
	ToState    string
	Trigger    Trigger
	Timestamp  time.Time

	// CausingEventID is the processor event id, refund id, or request id that
	// drove the change. Empty for system-initiated entries.
	CausingEventID string

	// Replay context: the donor and signed amount this entry contributes to
	// the donor aggregate. Positive for completions, negative for confirmed
	// reversals, zero for entries with no aggregate effect.
	Donor        id.DonorFingerprint
	Jurisdiction string
	AmountCents  int64

	// Reason carries the rejection detail for non-applied actions.
	Reason string

	RequestID string
}
