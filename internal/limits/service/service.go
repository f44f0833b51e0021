// Package service implements the contribution limit engine: the pre-check
// gate donation intake calls before any money moves, and the aggregate sink
// the ledger feeds after each committed transition.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"tally/internal/audit"
	ledgersvc "tally/internal/ledger/service"
	"tally/internal/limits"
	limitstore "tally/internal/limits/store"
	"tally/internal/reconcile"
	id "tally/pkg/domain"
	dErrors "tally/pkg/domain-errors"
)

var tracer = otel.Tracer("tally/limits")

// CheckRequest is one candidate contribution to vet against the donor's
// running totals.
type CheckRequest struct {
	Donor        id.DonorFingerprint
	Jurisdiction string
	AmountCents  int64
	RequestID    string
}

// WindowAggregate is the per-window view of a donor's standing, returned by
// Snapshot for the aggregate read endpoint.
type WindowAggregate struct {
	Cycle          string
	LimitCents     int64
	TotalCents     int64
	RemainingCents int64
}

// Service enforces contribution limits. It implements the ledger's
// AggregateSink so committed completions and reversals flow into the donor
// aggregates exactly once.
type Service struct {
	config     *limits.Config
	store      limitstore.Store
	audit      *audit.Publisher
	reconcile  *reconcile.Service
	logger     *slog.Logger
	rejections prometheus.Counter
	now        func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithRejectionCounter(c prometheus.Counter) Option {
	return func(s *Service) { s.rejections = c }
}

// WithClock overrides time for window evaluation in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(config *limits.Config, store limitstore.Store, auditPub *audit.Publisher, reconcileSvc *reconcile.Service, opts ...Option) (*Service, error) {
	if config == nil {
		return nil, fmt.Errorf("limit config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("aggregate store is required")
	}
	if auditPub == nil {
		return nil, fmt.Errorf("audit publisher is required")
	}
	if reconcileSvc == nil {
		return nil, fmt.Errorf("reconcile service is required")
	}

	svc := &Service{
		config:    config,
		store:     store,
		audit:     auditPub,
		reconcile: reconcileSvc,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Check vets a candidate contribution against every active window for its
// jurisdiction. The check is advisory: it reads committed totals without
// locking, so two concurrent donations can both pass and the second
// completion may land over the cap. The aggregate still records it, and
// ApplyIntent flags the breach for compliance review when it does.
//
// A jurisdiction with no configured windows passes unchecked.
func (s *Service) Check(ctx context.Context, req CheckRequest) error {
	ctx, span := tracer.Start(ctx, "limits.check")
	defer span.End()
	span.SetAttributes(attribute.String("limits.jurisdiction", req.Jurisdiction))

	at := s.now().UTC()
	for _, w := range s.config.ActiveWindows(req.Jurisdiction, at) {
		key := limits.AggregateKey{Donor: req.Donor, Jurisdiction: req.Jurisdiction, Cycle: w.Cycle}
		agg, err := s.store.Get(ctx, key)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read donor aggregate")
		}
		if agg.TotalCents+req.AmountCents > w.LimitCents {
			return s.reject(ctx, req, w, agg.TotalCents)
		}
	}
	return nil
}

func (s *Service) reject(ctx context.Context, req CheckRequest, w limits.Window, total int64) error {
	reason := fmt.Sprintf("contribution of %d would exceed %s limit of %d (current total %d)",
		req.AmountCents, w.Cycle, w.LimitCents, total)

	if err := s.audit.Emit(ctx, audit.Entry{
		Action:       audit.ActionLimitRejected,
		Trigger:      audit.TriggerSystem,
		Donor:        req.Donor,
		Jurisdiction: req.Jurisdiction,
		Reason:       reason,
		RequestID:    req.RequestID,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit limit rejection", "error", err)
	}
	if s.rejections != nil {
		s.rejections.Inc()
	}
	s.logger.InfoContext(ctx, "contribution rejected by limit pre-check",
		"jurisdiction", req.Jurisdiction,
		"cycle", w.Cycle,
		"amount_cents", req.AmountCents,
	)
	return dErrors.New(dErrors.CodeLimitExceeded, reason)
}

// ApplyIntent consumes a committed transition's aggregate effect. The store's
// marker guard makes redelivered intents no-ops; a reversal that would drive
// a window negative is clamped to zero and flagged, and a completion that
// lands a window over its cap is flagged as a breach. Both anomalies go to
// the audit trail and the review queue, never silently absorbed.
func (s *Service) ApplyIntent(ctx context.Context, intent ledgersvc.AggregateIntent) error {
	ctx, span := tracer.Start(ctx, "limits.apply_intent")
	defer span.End()
	span.SetAttributes(attribute.String("limits.marker", intent.Marker))

	windows := s.config.ActiveWindows(intent.Jurisdiction, s.now().UTC())
	keys := make([]limits.AggregateKey, 0, len(windows))
	for _, w := range windows {
		keys = append(keys, limits.AggregateKey{Donor: intent.Donor, Jurisdiction: intent.Jurisdiction, Cycle: w.Cycle})
	}
	if len(keys) == 0 {
		return nil
	}

	applied, clamped, err := s.store.ApplyDelta(ctx, intent.Marker, keys, intent.AmountCents)
	if err != nil {
		return fmt.Errorf("apply aggregate delta: %w", err)
	}
	if !applied {
		s.logger.DebugContext(ctx, "aggregate intent already applied", "marker", intent.Marker)
		return nil
	}

	for _, key := range clamped {
		s.flagClamp(ctx, intent, key)
	}
	if intent.AmountCents > 0 {
		for i, w := range windows {
			s.flagBreach(ctx, intent, keys[i], w)
		}
	}
	return nil
}

// flagBreach records a completion that pushed a window past its cap. The
// advisory pre-check cannot prevent this under concurrency; what matters is
// that every breach leaves a compliance record instead of a bare number.
func (s *Service) flagBreach(ctx context.Context, intent ledgersvc.AggregateIntent, key limits.AggregateKey, w limits.Window) {
	agg, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to read aggregate for breach check", "error", err)
		return
	}
	if agg.TotalCents <= w.LimitCents {
		return
	}

	reason := fmt.Sprintf("completion of %d drove %s/%s to %d, over the %d limit",
		intent.AmountCents, key.Jurisdiction, key.Cycle, agg.TotalCents, w.LimitCents)

	if err := s.audit.Emit(ctx, audit.Entry{
		Action:         audit.ActionLimitBreached,
		DonationID:     intent.DonationID,
		Trigger:        audit.TriggerSystem,
		CausingEventID: intent.Marker,
		Donor:          key.Donor,
		Jurisdiction:   key.Jurisdiction,
		Reason:         reason,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit limit breach", "error", err)
	}
	if _, err := s.reconcile.Flag(ctx, reconcile.KindLimitBreach, intent.DonationID, intent.Marker, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to flag limit breach", "error", err)
	}
}

func (s *Service) flagClamp(ctx context.Context, intent ledgersvc.AggregateIntent, key limits.AggregateKey) {
	reason := fmt.Sprintf("reversal of %d would drive %s/%s below zero; clamped",
		intent.AmountCents, key.Jurisdiction, key.Cycle)

	if err := s.audit.Emit(ctx, audit.Entry{
		Action:         audit.ActionAggregateClamped,
		DonationID:     intent.DonationID,
		Trigger:        audit.TriggerSystem,
		CausingEventID: intent.Marker,
		Donor:          key.Donor,
		Jurisdiction:   key.Jurisdiction,
		Reason:         reason,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit aggregate clamp", "error", err)
	}
	if _, err := s.reconcile.Flag(ctx, reconcile.KindNegativeAggregate, intent.DonationID, intent.Marker, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to flag aggregate clamp", "error", err)
	}
}

// Snapshot returns the donor's standing in every configured window for a
// jurisdiction, including windows the donor has never contributed in.
func (s *Service) Snapshot(ctx context.Context, donor id.DonorFingerprint, jurisdiction string) ([]WindowAggregate, error) {
	if donor.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeValidation, "donor fingerprint is required")
	}
	if jurisdiction == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "jurisdiction is required")
	}

	windows := s.config.ActiveWindows(jurisdiction, s.now().UTC())
	view := make([]WindowAggregate, 0, len(windows))
	for _, w := range windows {
		key := limits.AggregateKey{Donor: donor, Jurisdiction: jurisdiction, Cycle: w.Cycle}
		agg, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read donor aggregate")
		}
		remaining := w.LimitCents - agg.TotalCents
		if remaining < 0 {
			remaining = 0
		}
		view = append(view, WindowAggregate{
			Cycle:          w.Cycle,
			LimitCents:     w.LimitCents,
			TotalCents:     agg.TotalCents,
			RemainingCents: remaining,
		})
	}
	return view, nil
}
