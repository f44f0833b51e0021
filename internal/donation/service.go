// Package donation orchestrates intake: the contribution limit pre-check, the
// pending ledger record, and the charge submission to the payment processor.
// The definitive charge outcome arrives later through webhook ingestion.
package donation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"tally/internal/audit"
	"tally/internal/gateway"
	"tally/internal/ledger"
	ledgersvc "tally/internal/ledger/service"
	limitsvc "tally/internal/limits/service"
	"tally/internal/reconcile"
	dErrors "tally/pkg/domain-errors"
)

var tracer = otel.Tracer("tally/donation")

// Service is the donor-facing intake pipeline.
type Service struct {
	ledger    *ledgersvc.Service
	limits    *limitsvc.Service
	charger   gateway.Charger
	retry     gateway.RetryPolicy
	audit     *audit.Publisher
	reconcile *reconcile.Service
	logger    *slog.Logger
	created   prometheus.Counter
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithRetryPolicy(policy gateway.RetryPolicy) Option {
	return func(s *Service) { s.retry = policy }
}

func WithCreatedCounter(c prometheus.Counter) Option {
	return func(s *Service) { s.created = c }
}

func New(ledgerSvc *ledgersvc.Service, limitSvc *limitsvc.Service, charger gateway.Charger, auditPub *audit.Publisher, reconcileSvc *reconcile.Service, opts ...Option) (*Service, error) {
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	if limitSvc == nil {
		return nil, fmt.Errorf("limit service is required")
	}
	if charger == nil {
		return nil, fmt.Errorf("gateway charger is required")
	}
	if auditPub == nil {
		return nil, fmt.Errorf("audit publisher is required")
	}
	if reconcileSvc == nil {
		return nil, fmt.Errorf("reconcile service is required")
	}

	svc := &Service{
		ledger:    ledgerSvc,
		limits:    limitSvc,
		charger:   charger,
		retry:     gateway.DefaultRetryPolicy(),
		audit:     auditPub,
		reconcile: reconcileSvc,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Donate runs the intake pipeline. A limit rejection happens before any record
// or charge exists. If the charge submission exhausts its retry budget the
// donation is parked in pending for manual or idempotent-retry resolution;
// it is never guessed to success or failure.
func (s *Service) Donate(ctx context.Context, req ledger.CreateRequest, requestID string) (*ledger.Donation, error) {
	ctx, span := tracer.Start(ctx, "donation.donate")
	defer span.End()
	span.SetAttributes(attribute.String("donation.jurisdiction", req.Jurisdiction))

	if err := s.limits.Check(ctx, limitsvc.CheckRequest{
		Donor:        req.Donor,
		Jurisdiction: req.Jurisdiction,
		AmountCents:  req.AmountCents,
		RequestID:    requestID,
	}); err != nil {
		return nil, err
	}

	donation, err := s.ledger.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	// An idempotency-key replay of a request whose charge already went out
	// must not charge twice.
	if donation.State != ledger.StatePending || donation.ExternalTxID != "" {
		return donation, nil
	}

	if s.created != nil {
		s.created.Inc()
	}

	var result *gateway.ChargeResult
	err = s.retry.Do(ctx, s.logger, "gateway.charge", func(ctx context.Context) error {
		var callErr error
		result, callErr = s.charger.Charge(ctx, donation)
		return callErr
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeGatewayUnavailable) {
			s.park(ctx, donation, err)
		}
		return nil, err
	}

	donation, err = s.ledger.Transition(ctx, donation.ID, ledger.EventChargeSubmitted, ledgersvc.TransitionContext{
		Trigger:      audit.TriggerSystem,
		ExternalTxID: result.TransactionID,
		RequestID:    requestID,
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "donation submitted for charge",
		"donation_id", donation.ID.String(),
		"external_tx_id", donation.ExternalTxID,
		"amount_cents", donation.AmountCents,
	)
	return donation, nil
}

// park records a charge submission that ran out of retries. The donation stays
// pending; a reviewer reissues it or the donor's client retries under the same
// idempotency key.
func (s *Service) park(ctx context.Context, donation *ledger.Donation, cause error) {
	detail := fmt.Sprintf("charge submission exhausted retries: %v", cause)

	if err := s.audit.Emit(ctx, audit.Entry{
		Action:       audit.ActionGatewayExhausted,
		DonationID:   donation.ID,
		FromState:    string(donation.State),
		ToState:      string(donation.State),
		Trigger:      audit.TriggerSystem,
		Donor:        donation.Donor,
		Jurisdiction: donation.Jurisdiction,
		Reason:       detail,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit gateway exhaustion", "error", err)
	}
	if _, err := s.reconcile.Flag(ctx, reconcile.KindGatewayExhausted, donation.ID, "", detail); err != nil {
		s.logger.ErrorContext(ctx, "failed to park exhausted charge", "error", err)
	}
}
