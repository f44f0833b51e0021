// Package domain defines typed identifiers shared across the module. Distinct
// types keep a DonationID from ever being passed where a RefundID is expected;
// the compiler enforces what code review would otherwise have to catch.
package domain

import (
	"github.com/google/uuid"

	dErrors "tally/pkg/domain-errors"
)

type (
	// DonationID identifies a donation ledger record.
	DonationID uuid.UUID
	// RefundID identifies a refund record linked to a donation.
	RefundID uuid.UUID
	// AuditEntryID identifies an append-only audit entry.
	AuditEntryID uuid.UUID
	// ReconcileItemID identifies a manual-review queue item.
	ReconcileItemID uuid.UUID
)

// DonorFingerprint is the opaque donor identity supplied by the external
// identity provider. It is never derived locally.
type DonorFingerprint string

func (f DonorFingerprint) IsEmpty() bool { return f == "" }

func (id DonationID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id DonationID) String() string   { return uuid.UUID(id).String() }
func (id RefundID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id RefundID) String() string     { return uuid.UUID(id).String() }
func (id AuditEntryID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id AuditEntryID) String() string    { return uuid.UUID(id).String() }
func (id ReconcileItemID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ReconcileItemID) String() string { return uuid.UUID(id).String() }

// NewDonationID mints a random donation ID.
func NewDonationID() DonationID { return DonationID(uuid.New()) }

// NewRefundID mints a random refund ID.
func NewRefundID() RefundID { return RefundID(uuid.New()) }

// NewAuditEntryID mints a random audit entry ID.
func NewAuditEntryID() AuditEntryID { return AuditEntryID(uuid.New()) }

// NewReconcileItemID mints a random reconcile item ID.
func NewReconcileItemID() ReconcileItemID { return ReconcileItemID(uuid.New()) }

// ParseDonationID parses and validates a donation ID from its string form.
// Empty strings and the nil UUID are rejected at the trust boundary.
func ParseDonationID(s string) (DonationID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return DonationID{}, err
	}
	return DonationID(u), nil
}

// ParseRefundID parses and validates a refund ID from its string form.
func ParseRefundID(s string) (RefundID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return RefundID{}, err
	}
	return RefundID(u), nil
}

// ParseReconcileItemID parses and validates a reconcile item ID.
func ParseReconcileItemID(s string) (ReconcileItemID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ReconcileItemID{}, err
	}
	return ReconcileItemID(u), nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "id must not be the nil UUID")
	}
	return u, nil
}
