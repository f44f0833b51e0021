package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	id "tally/pkg/domain"
	dErrors "tally/pkg/domain-errors"
	"tally/pkg/platform/sentinel"
)

// Service fronts the review queue. Flagging never fails the caller's main
// operation silently: errors propagate so the caller can decide whether the
// surrounding work must abort.
type Service struct {
	store   Store
	logger  *slog.Logger
	counter *prometheus.CounterVec
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithCounter(c *prometheus.CounterVec) Option {
	return func(s *Service) { s.counter = c }
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "reconcile store is required")
	}
	svc := &Service{store: store}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Flag queues a new open item.
func (s *Service) Flag(ctx context.Context, kind Kind, donationID id.DonationID, externalRef, detail string) (*Item, error) {
	item := &Item{
		ID:          id.NewReconcileItemID(),
		Kind:        kind,
		DonationID:  donationID,
		ExternalRef: externalRef,
		Detail:      detail,
		Status:      StatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Add(ctx, item); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue reconcile item")
	}
	if s.counter != nil {
		s.counter.WithLabelValues(string(kind)).Inc()
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "flagged for manual review",
			"kind", kind,
			"donation_id", donationID.String(),
			"external_ref", externalRef,
			"detail", detail,
		)
	}
	return item, nil
}

// ListOpen returns all unresolved items, oldest first.
func (s *Service) ListOpen(ctx context.Context) ([]*Item, error) {
	items, err := s.store.ListOpen(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list reconcile items")
	}
	return items, nil
}

// Resolve closes an item on behalf of a reviewer.
func (s *Service) Resolve(ctx context.Context, itemID id.ReconcileItemID, resolvedBy string) error {
	if err := s.store.Resolve(ctx, itemID, resolvedBy); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "reconcile item not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve reconcile item")
	}
	return nil
}
