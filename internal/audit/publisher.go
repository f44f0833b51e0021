package audit

import (
	"context"
	"time"

	id "tally/pkg/domain"
)

// Publisher is the single write path for audit entries. It stamps timestamps
// and IDs so callers only describe what happened.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.ID.IsNil() {
		entry.ID = id.NewAuditEntryID()
	}
	return p.store.Append(ctx, entry)
}

// ListByDonation returns the trail for one donation, oldest first.
func (p *Publisher) ListByDonation(ctx context.Context, donationID id.DonationID) ([]Entry, error) {
	return p.store.ListByDonation(ctx, donationID)
}
