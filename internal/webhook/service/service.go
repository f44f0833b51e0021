// Package service implements webhook ingestion: signature verification,
// dedup, donation resolution, and the handoff into the ledger transition.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"tally/internal/audit"
	"tally/internal/ledger"
	ledgersvc "tally/internal/ledger/service"
	"tally/internal/platform/metrics"
	"tally/internal/reconcile"
	"tally/internal/webhook"
	webhookstore "tally/internal/webhook/store"
	id "tally/pkg/domain"
	dErrors "tally/pkg/domain-errors"
)

var tracer = otel.Tracer("tally/webhook")

// claimTTL bounds how long one delivery may hold an event before a redelivery
// is allowed to race it again.
const claimTTL = 30 * time.Second

// Ledger is the slice of the donation ledger ingestion needs.
type Ledger interface {
	GetByExternalTxID(ctx context.Context, externalTxID string) (*ledger.Donation, error)
	Transition(ctx context.Context, donationID id.DonationID, event ledger.Event, tc ledgersvc.TransitionContext) (*ledger.Donation, error)
}

// RefundConfirmer settles processor refund outcomes against the refund
// coordinator, which knows whether the refund was full or partial.
type RefundConfirmer interface {
	ConfirmByProcessorRef(ctx context.Context, donation *ledger.Donation, processorRefundID string, tc ledgersvc.TransitionContext) error
	FailByProcessorRef(ctx context.Context, donation *ledger.Donation, processorRefundID string, tc ledgersvc.TransitionContext) error
}

// Result is the outcome of one delivery.
type Result struct {
	// Duplicate is true when the event was already applied (or is being
	// applied by a concurrent delivery) and nothing changed.
	Duplicate bool
	Donation  *ledger.Donation
}

// Service ingests processor notifications exactly once.
type Service struct {
	verifier  *webhook.Verifier
	store     webhookstore.Store
	claimer   webhookstore.Claimer
	ledger    Ledger
	refunds   RefundConfirmer
	reconcile *reconcile.Service
	audit     *audit.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClaimer installs the fast in-flight guard; without it the durable
// store's insert race is the only duplicate barrier.
func WithClaimer(claimer webhookstore.Claimer) Option {
	return func(s *Service) { s.claimer = claimer }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRefundConfirmer routes refund settlement events through the refund
// coordinator instead of a bare ledger transition.
func WithRefundConfirmer(rc RefundConfirmer) Option {
	return func(s *Service) { s.refunds = rc }
}

func New(verifier *webhook.Verifier, store webhookstore.Store, ledgerSvc Ledger, reconcileSvc *reconcile.Service, auditPub *audit.Publisher, opts ...Option) (*Service, error) {
	if verifier == nil {
		return nil, fmt.Errorf("webhook verifier is required")
	}
	if store == nil {
		return nil, fmt.Errorf("webhook store is required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	if reconcileSvc == nil {
		return nil, fmt.Errorf("reconcile service is required")
	}
	if auditPub == nil {
		return nil, fmt.Errorf("audit publisher is required")
	}

	svc := &Service{
		verifier:  verifier,
		store:     store,
		ledger:    ledgerSvc,
		reconcile: reconcileSvc,
		audit:     auditPub,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Ingest applies one raw delivery. Outcomes:
//
//   - bad signature or unparseable payload: audited, dropped, never applied.
//   - already processed event id: success, nothing reapplied.
//   - unknown transaction id: queued for manual reconciliation, event left
//     unprocessed, CodeNotFound returned.
//   - illegal transition: prior state preserved, conflict already flagged by
//     the ledger, event marked processed so redeliveries no-op.
//   - transient failure: event left unprocessed so the processor's retry
//     mechanism redelivers it.
func (s *Service) Ingest(ctx context.Context, raw []byte, signature, requestID string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "webhook.ingest")
	defer span.End()

	if err := s.verifier.Verify(raw, signature); err != nil {
		s.dropRejected(ctx, "signature", "", err.Error(), requestID)
		return nil, err
	}

	evt, err := webhook.Parse(raw)
	if err != nil {
		s.dropRejected(ctx, "payload", "", err.Error(), requestID)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("webhook.event_id", evt.EventID),
		attribute.String("webhook.type", string(evt.Type)),
	)

	rec, created, err := s.store.Record(ctx, &webhook.Record{
		ProcessorEventID: evt.EventID,
		PayloadHash:      webhook.HashPayload(raw),
		ReceivedAt:       time.Now().UTC(),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record webhook event")
	}
	if rec.Processed() {
		s.countDuplicate(ctx, evt.EventID)
		return &Result{Duplicate: true}, nil
	}

	if !s.claim(ctx, evt.EventID) {
		s.countDuplicate(ctx, evt.EventID)
		return &Result{Duplicate: true}, nil
	}

	donation, err := s.ledger.GetByExternalTxID(ctx, evt.TransactionID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, s.parkUnknown(ctx, evt, created)
		}
		s.release(ctx, evt.EventID)
		return nil, err
	}

	result, err := s.apply(ctx, evt, donation, requestID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeIllegalTransition) {
			// Definitive conflict: the terminal state stands and redelivering
			// the same event cannot change the answer.
			s.markProcessed(ctx, evt.EventID)
			return nil, err
		}
		s.release(ctx, evt.EventID)
		return nil, err
	}

	s.markProcessed(ctx, evt.EventID)
	if s.metrics != nil {
		s.metrics.WebhooksIngested.Inc()
	}
	return result, nil
}

func (s *Service) apply(ctx context.Context, evt *webhook.Event, donation *ledger.Donation, requestID string) (*Result, error) {
	event, _ := evt.Type.LedgerEvent()
	tc := ledgersvc.TransitionContext{
		Trigger:        audit.TriggerWebhook,
		CausingEventID: evt.EventID,
		RequestID:      requestID,
	}

	if s.refunds != nil {
		switch evt.Type {
		case webhook.TypeRefundSucceeded:
			if err := s.refunds.ConfirmByProcessorRef(ctx, donation, evt.RefundID, tc); err != nil {
				return nil, err
			}
			return &Result{Donation: donation}, nil
		case webhook.TypeRefundFailed:
			if err := s.refunds.FailByProcessorRef(ctx, donation, evt.RefundID, tc); err != nil {
				return nil, err
			}
			return &Result{Donation: donation}, nil
		}
	}

	if evt.Type == webhook.TypeChargeFailed {
		tc.FailureReason = evt.Reason
	}
	updated, err := s.ledger.Transition(ctx, donation.ID, event, tc)
	if err != nil {
		return nil, err
	}
	return &Result{Donation: updated}, nil
}

// parkUnknown queues an unmatched event for manual review. The reconcile item
// is created only on first receipt so redeliveries do not multiply the queue.
func (s *Service) parkUnknown(ctx context.Context, evt *webhook.Event, firstReceipt bool) error {
	detail := fmt.Sprintf("no donation matches transaction %s (event %s, type %s)",
		evt.TransactionID, evt.EventID, evt.Type)

	if firstReceipt {
		if _, err := s.reconcile.Flag(ctx, reconcile.KindUnknownDonation, id.DonationID{}, evt.EventID, detail); err != nil {
			s.logger.ErrorContext(ctx, "failed to queue unknown donation", "error", err)
		}
	}
	if s.metrics != nil {
		s.metrics.WebhooksRejected.WithLabelValues("unknown_donation").Inc()
	}
	s.release(ctx, evt.EventID)
	return dErrors.New(dErrors.CodeNotFound, detail)
}

// dropRejected audits a delivery that never reaches the ledger.
func (s *Service) dropRejected(ctx context.Context, reason, eventID, detail, requestID string) {
	if err := s.audit.Emit(ctx, audit.Entry{
		Action:         audit.ActionWebhookRejected,
		Trigger:        audit.TriggerWebhook,
		CausingEventID: eventID,
		Reason:         detail,
		RequestID:      requestID,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit rejected webhook", "error", err)
	}
	if s.metrics != nil {
		s.metrics.WebhooksRejected.WithLabelValues(reason).Inc()
	}
	s.logger.WarnContext(ctx, "webhook delivery dropped", "reason", reason, "detail", detail)
}

func (s *Service) countDuplicate(ctx context.Context, eventID string) {
	if s.metrics != nil {
		s.metrics.WebhooksDuplicate.Inc()
	}
	s.logger.DebugContext(ctx, "duplicate webhook delivery acknowledged", "event_id", eventID)
}

// claim is best-effort: a claimer error degrades to the durable store's
// guarantees instead of failing the delivery.
func (s *Service) claim(ctx context.Context, eventID string) bool {
	if s.claimer == nil {
		return true
	}
	ok, err := s.claimer.Claim(ctx, eventID, claimTTL)
	if err != nil {
		s.logger.WarnContext(ctx, "webhook claim unavailable, proceeding", "error", err)
		return true
	}
	return ok
}

func (s *Service) release(ctx context.Context, eventID string) {
	if s.claimer == nil {
		return
	}
	if err := s.claimer.Release(ctx, eventID); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "failed to release webhook claim", "error", err)
	}
}

func (s *Service) markProcessed(ctx context.Context, eventID string) {
	if err := s.store.MarkProcessed(ctx, eventID, time.Now().UTC()); err != nil {
		// The transition committed; a redelivery will land on the idempotent
		// no-op path, so log rather than fail the delivery.
		s.logger.ErrorContext(ctx, "failed to mark webhook processed", "event_id", eventID, "error", err)
	}
}
