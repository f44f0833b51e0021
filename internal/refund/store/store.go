// Package store persists refund records.
package store

import (
	"context"

	"tally/internal/refund"
	id "tally/pkg/domain"
)

// Store is the persistence surface for refund records. Implementations return
// sentinel.ErrNotFound for missing records.
type Store interface {
	Create(ctx context.Context, r *refund.Refund) error
	Get(ctx context.Context, refundID id.RefundID) (*refund.Refund, error)

	// GetByProcessorRef resolves the refund a processor confirmation refers to.
	GetByProcessorRef(ctx context.Context, processorRef string) (*refund.Refund, error)

	// ListByDonation returns all refunds for a donation, oldest first.
	ListByDonation(ctx context.Context, donationID id.DonationID) ([]*refund.Refund, error)

	Update(ctx context.Context, r *refund.Refund) error
}
