package audit

import (
	"context"

	id "tally/pkg/domain"
)

// Store persists audit entries. Implementations must treat entries as
// append-only: no update or delete surface exists on purpose.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByDonation(ctx context.Context, donationID id.DonationID) ([]Entry, error)
	ListAll(ctx context.Context) ([]Entry, error)
}

// OutboxStore is implemented by durable stores that stage entries for the
// Kafka publisher. The in-memory store does not implement it; the worker is
// simply not started in that configuration.
type OutboxStore interface {
	// PendingOutbox returns up to limit unpublished outbox rows in insertion order.
	PendingOutbox(ctx context.Context, limit int) ([]OutboxRow, error)
	// MarkPublished records that the rows reached Kafka.
	MarkPublished(ctx context.Context, ids []string) error
	// PendingCount reports outbox backlog for the lag gauge.
	PendingCount(ctx context.Context) (int, error)
}

// OutboxRow is one staged publication.
type OutboxRow struct {
	ID      string
	Key     string
	Payload []byte
}
