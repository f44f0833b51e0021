// Package service implements the refund coordinator: authorization, remaining
// balance accounting, processor issue with a bounded retry budget, and the
// confirmation paths for full and partial reversals.
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
	"tally/internal/authz"
	"tally/internal/gateway"
	"tally/internal/ledger"
	ledgersvc "tally/internal/ledger/service"
	"tally/internal/platform/middleware"
	"tally/internal/reconcile"
	"tally/internal/refund"
	refundstore "tally/internal/refund/store"
	id "tally/pkg/domain"
	dErrors "tally/pkg/domain-errors"
	"tally/pkg/platform/sentinel"
)

var tracer = otel.Tracer("tally/refund")

// Request is one authorized reversal attempt.
type Request struct {
	DonationID  id.DonationID
	AmountCents int64
	Reason      string
	RequestID   string
}

// Service coordinates reversals. All state changes flow through the ledger's
// transition operation or the marker-guarded aggregate sink, so refund
// conflicts are detected the same way webhook conflicts are.
type Service struct {
	store        refundstore.Store
	ledger       *ledgersvc.Service
	refunder     gateway.Refunder
	retry        gateway.RetryPolicy
	authorizer   authz.Authorizer
	sink         ledgersvc.AggregateSink
	audit        *audit.Publisher
	reconcile    *reconcile.Service
	logger       *slog.Logger
	requested    prometheus.Counter
	reservations reservationLock
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithRetryPolicy(policy gateway.RetryPolicy) Option {
	return func(s *Service) { s.retry = policy }
}

func WithRequestCounter(c prometheus.Counter) Option {
	return func(s *Service) { s.requested = c }
}

// WithAggregateSink installs the limit engine for partial-refund reversals,
// which bypass the state machine.
func WithAggregateSink(sink ledgersvc.AggregateSink) Option {
	return func(s *Service) { s.sink = sink }
}

func New(store refundstore.Store, ledgerSvc *ledgersvc.Service, refunder gateway.Refunder, authorizer authz.Authorizer, auditPub *audit.Publisher, reconcileSvc *reconcile.Service, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("refund store is required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	if refunder == nil {
		return nil, fmt.Errorf("gateway refunder is required")
	}
	if authorizer == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	if auditPub == nil {
		return nil, fmt.Errorf("audit publisher is required")
	}
	if reconcileSvc == nil {
		return nil, fmt.Errorf("reconcile service is required")
	}

	svc := &Service{
		store:      store,
		ledger:     ledgerSvc,
		refunder:   refunder,
		retry:      gateway.DefaultRetryPolicy(),
		authorizer: authorizer,
		audit:      auditPub,
		reconcile:  reconcileSvc,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Request authorizes and records a reversal, then issues it to the processor.
//
// A full refund (amount equals the remaining balance) moves the donation to
// refund_pending; a partial one leaves it completed. Either way the refund
// settles only when the processor's confirmation arrives via webhook. If the
// processor call exhausts its retry budget, the refund record is parked for
// manual reissue rather than guessed to either outcome.
func (s *Service) Request(ctx context.Context, req Request) (*refund.Refund, error) {
	ctx, span := tracer.Start(ctx, "refund.request")
	defer span.End()
	span.SetAttributes(attribute.String("donation.id", req.DonationID.String()))

	actor := middleware.GetActor(ctx)
	donation, err := s.ledger.Get(ctx, req.DonationID)
	if err != nil {
		return nil, err
	}
	if err := authz.Require(ctx, s.authorizer, actor, authz.ActionIssueRefund, donation.OrganizationID); err != nil {
		return nil, err
	}

	// Balance read, validation, and record insert run as one atomic step per
	// donation: the inserted record reserves capacity, so a concurrent request
	// serialized behind this one sees the reduced balance.
	var rec *refund.Refund
	var remaining int64
	err = s.reservations.run(ctx, req.DonationID, func(ctx context.Context) error {
		donation, err = s.ledger.Get(ctx, req.DonationID)
		if err != nil {
			return err
		}
		remaining, err = s.remainingBalance(ctx, donation)
		if err != nil {
			return err
		}
		if err := validateRequest(req, donation, remaining); err != nil {
			return err
		}

		now := time.Now().UTC()
		rec = &refund.Refund{
			ID:          id.NewRefundID(),
			DonationID:  donation.ID,
			AmountCents: req.AmountCents,
			Status:      refund.StatusRequested,
			RequestedBy: actor.ActorID,
			Reason:      req.Reason,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.store.Create(ctx, rec); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record refund")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.AmountCents == remaining {
		if _, err := s.ledger.Transition(ctx, donation.ID, ledger.EventRefundInitiated, ledgersvc.TransitionContext{
			Trigger:        audit.TriggerRefund,
			CausingEventID: rec.ID.String(),
			RequestID:      req.RequestID,
		}); err != nil {
			s.markFailed(ctx, rec)
			return nil, err
		}
	}

	if err := s.issue(ctx, rec, donation); err != nil {
		return nil, err
	}

	if s.requested != nil {
		s.requested.Inc()
	}
	s.logger.InfoContext(ctx, "refund requested",
		"refund_id", rec.ID.String(),
		"donation_id", donation.ID.String(),
		"amount_cents", rec.AmountCents,
		"full", req.AmountCents == remaining,
		"actor", actor.ActorID,
	)
	return rec, nil
}

func validateRequest(req Request, donation *ledger.Donation, remaining int64) error {
	if req.AmountCents <= 0 {
		return dErrors.New(dErrors.CodeValidation, "refund amount_cents must be positive")
	}
	if donation.State != ledger.StateCompleted {
		return dErrors.Newf(dErrors.CodeNotRefundable,
			"donation in state %s is not refundable", donation.State)
	}
	if req.AmountCents > remaining {
		return dErrors.Newf(dErrors.CodeNotRefundable,
			"refund of %d exceeds remaining refundable balance %d", req.AmountCents, remaining)
	}
	return nil
}

// remainingBalance is the donation amount minus every refund that is still in
// flight or already confirmed. Requested refunds reserve capacity so two
// overlapping requests cannot oversubscribe the donation.
func (s *Service) remainingBalance(ctx context.Context, donation *ledger.Donation) (int64, error) {
	existing, err := s.store.ListByDonation(ctx, donation.ID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list refunds")
	}
	remaining := donation.AmountCents
	for _, r := range existing {
		if r.Status == refund.StatusFailed {
			continue
		}
		remaining -= r.AmountCents
	}
	return remaining, nil
}

// issue submits the reversal to the processor. Exhaustion parks the record.
func (s *Service) issue(ctx context.Context, rec *refund.Refund, donation *ledger.Donation) error {
	var result *gateway.RefundResult
	err := s.retry.Do(ctx, s.logger, "gateway.refund", func(ctx context.Context) error {
		var callErr error
		result, callErr = s.refunder.Refund(ctx, donation.ExternalTxID, rec.AmountCents)
		return callErr
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeGatewayUnavailable) {
			s.park(ctx, rec, donation, err)
		}
		return err
	}

	rec.ProcessorRef = result.ProcessorRefundID
	if err := s.store.Update(ctx, rec); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to attach processor refund ref")
	}
	return nil
}

// park records a gateway exhaustion for manual reissue. The refund stays
// requested with no processor ref; a reviewer retries it once the processor
// recovers.
func (s *Service) park(ctx context.Context, rec *refund.Refund, donation *ledger.Donation, cause error) {
	detail := fmt.Sprintf("refund %s issue exhausted retries: %v", rec.ID, cause)

	if err := s.audit.Emit(ctx, audit.Entry{
		Action:         audit.ActionGatewayExhausted,
		DonationID:     donation.ID,
		FromState:      string(donation.State),
		ToState:        string(donation.State),
		Trigger:        audit.TriggerRefund,
		CausingEventID: rec.ID.String(),
		Donor:          donation.Donor,
		Jurisdiction:   donation.Jurisdiction,
		Reason:         detail,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit gateway exhaustion", "error", err)
	}
	if _, err := s.reconcile.Flag(ctx, reconcile.KindGatewayExhausted, donation.ID, rec.ID.String(), detail); err != nil {
		s.logger.ErrorContext(ctx, "failed to park exhausted refund", "error", err)
	}
}

func (s *Service) markFailed(ctx context.Context, rec *refund.Refund) {
	rec.Status = refund.StatusFailed
	if err := s.store.Update(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark refund failed", "refund_id", rec.ID.String(), "error", err)
	}
}

// Get returns one refund record.
func (s *Service) Get(ctx context.Context, refundID id.RefundID) (*refund.Refund, error) {
	rec, err := s.store.Get(ctx, refundID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "refund not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load refund")
	}
	return rec, nil
}

// ListByDonation returns the refund history for a donation.
func (s *Service) ListByDonation(ctx context.Context, donationID id.DonationID) ([]*refund.Refund, error) {
	out, err := s.store.ListByDonation(ctx, donationID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list refunds")
	}
	return out, nil
}

// ConfirmByProcessorRef settles a processor refund confirmation. Full refunds
// ride the refund_confirmed transition with the remaining balance as the
// aggregate delta; partial refunds reverse the aggregate directly under the
// refund's own marker and leave the donation completed. Confirming an
// already-confirmed refund is a no-op.
func (s *Service) ConfirmByProcessorRef(ctx context.Context, donation *ledger.Donation, processorRefundID string, tc ledgersvc.TransitionContext) error {
	ctx, span := tracer.Start(ctx, "refund.confirm")
	defer span.End()

	rec, err := s.store.GetByProcessorRef(ctx, processorRefundID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "no refund matches processor ref %s", processorRefundID)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load refund")
	}
	if rec.Status == refund.StatusConfirmed {
		return nil
	}

	tc.Trigger = audit.TriggerRefund
	if donation.State == ledger.StateRefundPending || donation.State == ledger.StateRefunded {
		if err := s.confirmFull(ctx, rec, donation, tc); err != nil {
			return err
		}
	} else {
		if err := s.confirmPartial(ctx, rec, donation, tc); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	rec.Status = refund.StatusConfirmed
	rec.ConfirmedAt = &now
	if err := s.store.Update(ctx, rec); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to confirm refund")
	}
	return nil
}

// FailByProcessorRef records a processor-declined reversal. A full refund's
// donation returns from refund_pending to completed with no aggregate effect;
// a partial one needs no state change. Failing an already-failed refund is a
// no-op. A refund the processor already confirmed cannot fail afterwards; the
// contradiction is queued for manual review.
func (s *Service) FailByProcessorRef(ctx context.Context, donation *ledger.Donation, processorRefundID string, tc ledgersvc.TransitionContext) error {
	rec, err := s.store.GetByProcessorRef(ctx, processorRefundID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "no refund matches processor ref %s", processorRefundID)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load refund")
	}
	switch rec.Status {
	case refund.StatusFailed:
		return nil
	case refund.StatusConfirmed:
		reason := fmt.Sprintf("processor reports refund %s failed after confirmation", rec.ID)
		if _, flagErr := s.reconcile.Flag(ctx, reconcile.KindIllegalTransition, donation.ID, rec.ID.String(), reason); flagErr != nil {
			s.logger.ErrorContext(ctx, "failed to flag contradictory refund outcome", "error", flagErr)
		}
		return dErrors.New(dErrors.CodeIllegalTransition, reason)
	}

	tc.Trigger = audit.TriggerRefund
	if donation.State == ledger.StateRefundPending {
		if _, err := s.ledger.Transition(ctx, donation.ID, ledger.EventRefundFailed, tc); err != nil {
			return err
		}
	}

	rec.Status = refund.StatusFailed
	if err := s.store.Update(ctx, rec); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark refund failed")
	}
	s.logger.InfoContext(ctx, "refund declined by processor",
		"refund_id", rec.ID.String(),
		"donation_id", donation.ID.String(),
	)
	return nil
}

// confirmFull moves the donation to refunded. The aggregate reversal is the
// remaining balance, not the face amount: earlier partial refunds already
// decremented their share.
func (s *Service) confirmFull(ctx context.Context, rec *refund.Refund, donation *ledger.Donation, tc ledgersvc.TransitionContext) error {
	confirmed, err := s.confirmedTotal(ctx, donation)
	if err != nil {
		return err
	}
	delta := -(donation.AmountCents - confirmed)
	tc.AggregateDelta = &delta

	_, err = s.ledger.Transition(ctx, donation.ID, ledger.EventRefundConfirmed, tc)
	return err
}

// confirmPartial settles without a state change: the aggregate decrement and
// the audit entry are the whole effect. The audit entry's causing event id is
// the refund id so replay can reconstruct the marker.
func (s *Service) confirmPartial(ctx context.Context, rec *refund.Refund, donation *ledger.Donation, tc ledgersvc.TransitionContext) error {
	if err := s.audit.Emit(ctx, audit.Entry{
		Action:         audit.ActionTransitionApplied,
		DonationID:     donation.ID,
		FromState:      string(ledger.StateCompleted),
		ToState:        string(ledger.StateCompleted),
		Trigger:        audit.TriggerRefund,
		CausingEventID: rec.ID.String(),
		Donor:          donation.Donor,
		Jurisdiction:   donation.Jurisdiction,
		AmountCents:    -rec.AmountCents,
		RequestID:      tc.RequestID,
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
	}

	if s.sink == nil {
		return nil
	}
	if err := s.sink.ApplyIntent(ctx, ledgersvc.AggregateIntent{
		Marker:       "refund:" + rec.ID.String(),
		Donor:        donation.Donor,
		Jurisdiction: donation.Jurisdiction,
		AmountCents:  -rec.AmountCents,
		DonationID:   donation.ID,
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "aggregate reversal failed")
	}
	return nil
}

// confirmedTotal sums already-confirmed refunds for the donation.
func (s *Service) confirmedTotal(ctx context.Context, donation *ledger.Donation) (int64, error) {
	existing, err := s.store.ListByDonation(ctx, donation.ID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list refunds")
	}
	var total int64
	for _, r := range existing {
		if r.Status == refund.StatusConfirmed {
			total += r.AmountCents
		}
	}
	return total, nil
}
