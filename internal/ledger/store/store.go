// Package store provides the donation persistence pair: an in-memory
// implementation for tests and single-node development, and a Postgres
// implementation with optimistic versioning for production.
package store

import (
	"context"

	"tally/internal/ledger"
	id "tally/pkg/domain"
)

// Store is the persistence surface the ledger service requires.
//
// Implementations return sentinel errors (pkg/platform/sentinel):
//   - ErrNotFound when no record matches
//   - ErrConflict on idempotency-key or external-tx uniqueness violations,
//     and on version mismatch in Update
type Store interface {
	Create(ctx context.Context, donation *ledger.Donation) error
	Get(ctx context.Context, donationID id.DonationID) (*ledger.Donation, error)
	GetByExternalTxID(ctx context.Context, externalTxID string) (*ledger.Donation, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*ledger.Donation, error)

	// Update persists a mutated donation. The write succeeds only when the
	// stored version equals donation.Version; on success the version is
	// incremented. Lost updates surface as ErrConflict.
	Update(ctx context.Context, donation *ledger.Donation) error
}
