package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"tally/internal/audit"
	"tally/internal/ledger"
	ledgerstore "tally/internal/ledger/store"
	"tally/internal/reconcile"
	id "tally/pkg/domain"
	dErrors "tally/pkg/domain-errors"
	"tally/pkg/platform/sentinel"
)

var tracer = otel.Tracer("tally/ledger")

// AggregateIntent is the signed delta a committed transition contributes to a
// donor aggregate. Marker makes application idempotent: the same logical
// transition redelivered later carries the same marker and applies once.
type AggregateIntent struct {
	Marker       string
	Donor        id.DonorFingerprint
	Jurisdiction string
	AmountCents  int64
	DonationID   id.DonationID
}

// AggregateSink consumes intents; implemented by the contribution limit
// engine. It is invoked only after the transition is durably stored, never
// speculatively.
type AggregateSink interface {
	ApplyIntent(ctx context.Context, intent AggregateIntent) error
}

// TransitionContext carries who/what caused a transition.
type TransitionContext struct {
	Trigger        audit.Trigger
	CausingEventID string
	RequestID      string

	// ExternalTxID is recorded on charge_submitted.
	ExternalTxID string
	// FailureReason is recorded on charge_failed.
	FailureReason string
	// AggregateDelta overrides the computed aggregate effect; the refund
	// coordinator sets it on full-refund confirmation so only the remaining
	// balance (not the face amount) is reversed.
	AggregateDelta *int64
}

// Service is the donation ledger. Create and Transition are the only write
// paths to a donation record.
type Service struct {
	store       ledgerstore.Store
	audit       *audit.Publisher
	sink        AggregateSink
	reconcile   *reconcile.Service
	logger      *slog.Logger
	transitions *prometheus.CounterVec
	tx          shardedDonationTx
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAggregateSink(sink AggregateSink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithTransitionCounter(c *prometheus.CounterVec) Option {
	return func(s *Service) { s.transitions = c }
}

func New(store ledgerstore.Store, auditPub *audit.Publisher, reconcileSvc *reconcile.Service, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if auditPub == nil {
		return nil, fmt.Errorf("audit publisher is required")
	}
	if reconcileSvc == nil {
		return nil, fmt.Errorf("reconcile service is required")
	}

	svc := &Service{
		store:     store,
		audit:     auditPub,
		reconcile: reconcileSvc,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create validates the request and persists a new donation in pending state.
// A reused idempotency key returns the original record instead of a duplicate.
func (s *Service) Create(ctx context.Context, req ledger.CreateRequest) (*ledger.Donation, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.store.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "idempotency lookup failed")
		}
	}

	now := time.Now().UTC()
	donation := &ledger.Donation{
		ID:             id.NewDonationID(),
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		Donor:          req.Donor,
		FundraiserID:   req.FundraiserID,
		OrganizationID: req.OrganizationID,
		Jurisdiction:   req.Jurisdiction,
		State:          ledger.StatePending,
		IdempotencyKey: req.IdempotencyKey,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.Create(ctx, donation); err != nil {
		if errors.Is(err, sentinel.ErrConflict) && req.IdempotencyKey != "" {
			// Lost a race with a concurrent identical request.
			existing, lookupErr := s.store.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create donation")
	}
	return donation, nil
}

func validateCreate(req ledger.CreateRequest) error {
	if req.AmountCents <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount_cents must be positive")
	}
	if req.Currency == "" {
		return dErrors.New(dErrors.CodeValidation, "currency is required")
	}
	if req.Donor.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "donor fingerprint is required")
	}
	if req.FundraiserID == "" {
		return dErrors.New(dErrors.CodeValidation, "fundraiser reference is required")
	}
	if req.Jurisdiction == "" {
		return dErrors.New(dErrors.CodeValidation, "jurisdiction is required")
	}
	return nil
}

// Get returns a donation by id.
func (s *Service) Get(ctx context.Context, donationID id.DonationID) (*ledger.Donation, error) {
	donation, err := s.store.Get(ctx, donationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "donation not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load donation")
	}
	return donation, nil
}

// GetByExternalTxID resolves the donation a processor notification refers to.
func (s *Service) GetByExternalTxID(ctx context.Context, externalTxID string) (*ledger.Donation, error) {
	donation, err := s.store.GetByExternalTxID(ctx, externalTxID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no donation for transaction id")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load donation")
	}
	return donation, nil
}

// Transition applies an event to a donation. It is atomic per donation id:
// in-process via a sharded lock, cross-process via store versioning.
//
// Outcomes:
//   - legal edge: state updated, audit entry appended, aggregate intent
//     applied when entering completed or refunded; updated record returned.
//   - redelivery (event lands in the current state): no mutation; the
//     aggregate intent is re-offered under its original marker so a crash
//     between commit and aggregate application heals on retry.
//   - illegal edge: record untouched, CodeIllegalTransition returned, and the
//     conflict is flagged for manual review via the reconcile queue and the
//     audit log.
func (s *Service) Transition(ctx context.Context, donationID id.DonationID, event ledger.Event, tc TransitionContext) (*ledger.Donation, error) {
	ctx, span := tracer.Start(ctx, "ledger.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("donation.id", donationID.String()),
		attribute.String("ledger.event", string(event)),
	)

	var result *ledger.Donation
	err := s.tx.run(ctx, donationID, func(ctx context.Context) error {
		donation, err := s.store.Get(ctx, donationID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "donation not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load donation")
		}

		if target, ok := ledger.Target(event); ok && donation.State == target {
			// Redelivery of an already-applied event.
			result = donation
			return s.reofferIntent(ctx, donation, event, tc)
		}

		next, legal := ledger.Next(donation.State, event)
		if !legal {
			return s.flagIllegal(ctx, donation, event, tc)
		}

		from := donation.State
		donation.State = next
		if tc.ExternalTxID != "" {
			donation.ExternalTxID = tc.ExternalTxID
		}
		if tc.FailureReason != "" {
			donation.FailureReason = tc.FailureReason
		}

		if err := s.store.Update(ctx, donation); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "donation changed concurrently, retry")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist transition")
		}

		delta := aggregateDelta(donation, event, tc)
		if err := s.audit.Emit(ctx, audit.Entry{
			Action:         audit.ActionTransitionApplied,
			DonationID:     donation.ID,
			FromState:      string(from),
			ToState:        string(next),
			Trigger:        tc.Trigger,
			CausingEventID: tc.CausingEventID,
			Donor:          donation.Donor,
			Jurisdiction:   donation.Jurisdiction,
			AmountCents:    delta,
			RequestID:      tc.RequestID,
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
		}

		s.logger.InfoContext(ctx, "ledger transition applied",
			"donation_id", donation.ID.String(),
			"from", from,
			"to", next,
			"trigger", tc.Trigger,
			"causing_event_id", tc.CausingEventID,
		)
		if s.transitions != nil {
			s.transitions.WithLabelValues(string(event)).Inc()
		}

		if delta != 0 && s.sink != nil {
			if err := s.applyIntent(ctx, donation, event, delta); err != nil {
				return err
			}
		}

		result = donation
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// aggregateDelta computes the signed aggregate effect of an event. Keyed on
// the event, not the landing state: refund_failed also lands in completed but
// moves no money.
func aggregateDelta(donation *ledger.Donation, event ledger.Event, tc TransitionContext) int64 {
	switch event {
	case ledger.EventChargeCompleted:
		if tc.AggregateDelta != nil {
			return *tc.AggregateDelta
		}
		return donation.AmountCents
	case ledger.EventRefundConfirmed:
		if tc.AggregateDelta != nil {
			return *tc.AggregateDelta
		}
		return -donation.AmountCents
	}
	return 0
}

// intentMarker is stable across redeliveries of the same logical transition.
func intentMarker(donationID id.DonationID, event ledger.Event) string {
	return donationID.String() + ":" + string(event)
}

func (s *Service) applyIntent(ctx context.Context, donation *ledger.Donation, event ledger.Event, delta int64) error {
	err := s.sink.ApplyIntent(ctx, AggregateIntent{
		Marker:       intentMarker(donation.ID, event),
		Donor:        donation.Donor,
		Jurisdiction: donation.Jurisdiction,
		AmountCents:  delta,
		DonationID:   donation.ID,
	})
	if err != nil {
		// The transition is committed; the caller (webhook ingestion) must
		// treat this as transient so redelivery re-offers the intent.
		return dErrors.Wrap(err, dErrors.CodeInternal, "aggregate update failed")
	}
	return nil
}

// reofferIntent replays the aggregate intent for a redelivered event. The
// marker makes this a no-op when the intent already applied.
func (s *Service) reofferIntent(ctx context.Context, donation *ledger.Donation, event ledger.Event, tc TransitionContext) error {
	if s.sink == nil {
		return nil
	}
	var delta int64
	switch donation.State {
	case ledger.StateCompleted:
		if event == ledger.EventChargeCompleted {
			delta = donation.AmountCents
		}
	case ledger.StateRefunded:
		if event == ledger.EventRefundConfirmed {
			delta = -donation.AmountCents
			if tc.AggregateDelta != nil {
				delta = *tc.AggregateDelta
			}
		}
	}
	if delta == 0 {
		return nil
	}
	return s.applyIntent(ctx, donation, event, delta)
}

func (s *Service) flagIllegal(ctx context.Context, donation *ledger.Donation, event ledger.Event, tc TransitionContext) error {
	reason := fmt.Sprintf("event %s is not legal from state %s", event, donation.State)

	// Audit first so the compliance trail exists even if flagging fails.
	if err := s.audit.Emit(ctx, audit.Entry{
		Action:         audit.ActionTransitionRejected,
		DonationID:     donation.ID,
		FromState:      string(donation.State),
		ToState:        string(donation.State),
		Trigger:        tc.Trigger,
		CausingEventID: tc.CausingEventID,
		Donor:          donation.Donor,
		Jurisdiction:   donation.Jurisdiction,
		Reason:         reason,
		RequestID:      tc.RequestID,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit rejected transition", "error", err)
	}

	if _, err := s.reconcile.Flag(ctx, reconcile.KindIllegalTransition, donation.ID, tc.CausingEventID, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to flag illegal transition", "error", err)
	}

	return dErrors.New(dErrors.CodeIllegalTransition, reason)
}

// Cancel cancels a donation by explicit request. Only pending donations may
// be cancelled; once a charge is submitted the processor's definitive outcome
// must arrive first.
func (s *Service) Cancel(ctx context.Context, donationID id.DonationID, tc TransitionContext) (*ledger.Donation, error) {
	donation, err := s.Get(ctx, donationID)
	if err != nil {
		return nil, err
	}
	if donation.State != ledger.StatePending {
		return nil, dErrors.Newf(dErrors.CodeConflict,
			"cancellation requires pending state, donation is %s", donation.State)
	}
	tc.Trigger = audit.TriggerCancel
	return s.Transition(ctx, donationID, ledger.EventCancelled, tc)
}
