// Package httptransport is the thin HTTP layer over the domain services. It
// decodes requests, delegates, and translates domain errors; no business
// logic lives here.
package httptransport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tally/internal/audit"
	"tally/internal/authz"
	"tally/internal/donation"
	ledgersvc "tally/internal/ledger/service"
	limitsvc "tally/internal/limits/service"
	"tally/internal/platform/middleware"
	"tally/internal/reconcile"
	refundsvc "tally/internal/refund/service"
	"tally/internal/transport/http/shared"
	webhooksvc "tally/internal/webhook/service"
	id "tally/pkg/domain"
	dErrors "tally/pkg/domain-errors"
)

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 1 << 20

// signatureHeader carries the processor's HMAC over the raw body.
const signatureHeader = "X-Tally-Signature"

// HealthChecker is anything the health endpoint should probe.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler owns all routes. Every dependency is a domain service; the webhook
// service is the only one that accepts unauthenticated traffic.
type Handler struct {
	logger     *slog.Logger
	intake     *donation.Service
	ledger     *ledgersvc.Service
	webhooks   *webhooksvc.Service
	refunds    *refundsvc.Service
	limits     *limitsvc.Service
	reconcile  *reconcile.Service
	audit      *audit.Publisher
	authorizer authz.Authorizer
	health     []HealthChecker
}

func NewHandler(
	logger *slog.Logger,
	intake *donation.Service,
	ledgerSvc *ledgersvc.Service,
	webhooks *webhooksvc.Service,
	refunds *refundsvc.Service,
	limits *limitsvc.Service,
	reconcileSvc *reconcile.Service,
	auditPub *audit.Publisher,
	authorizer authz.Authorizer,
	health ...HealthChecker,
) *Handler {
	return &Handler{
		logger:     logger,
		intake:     intake,
		ledger:     ledgerSvc,
		webhooks:   webhooks,
		refunds:    refunds,
		limits:     limits,
		reconcile:  reconcileSvc,
		audit:      auditPub,
		authorizer: authorizer,
		health:     health,
	}
}

// -----------------------------------------------------------------------------
// Donations
// -----------------------------------------------------------------------------

func (h *Handler) handleCreateDonation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	created, err := h.intake.Donate(ctx, req.toCreateRequest(), middleware.GetRequestID(ctx))
	if err != nil {
		h.logFailure(ctx, "create donation failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toDonationResponse(created))
}

func (h *Handler) handleGetDonation(w http.ResponseWriter, r *http.Request) {
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	found, err := h.ledger.Get(r.Context(), donationID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toDonationResponse(found))
}

func (h *Handler) handleCancelDonation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	cancelled, err := h.ledger.Cancel(ctx, donationID, ledgersvc.TransitionContext{
		RequestID: middleware.GetRequestID(ctx),
	})
	if err != nil {
		h.logFailure(ctx, "cancel donation failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toDonationResponse(cancelled))
}

func (h *Handler) handleDonationAudit(w http.ResponseWriter, r *http.Request) {
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	entries, err := h.audit.ListByDonation(r.Context(), donationID)
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit trail"))
		return
	}
	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditEntryResponse(e))
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

// -----------------------------------------------------------------------------
// Refunds
// -----------------------------------------------------------------------------

func (h *Handler) handleRequestRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	rec, err := h.refunds.Request(ctx, refundsvc.Request{
		DonationID:  donationID,
		AmountCents: req.AmountCents,
		Reason:      req.Reason,
		RequestID:   middleware.GetRequestID(ctx),
	})
	if err != nil {
		h.logFailure(ctx, "refund request failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusAccepted, toRefundResponse(rec))
}

func (h *Handler) handleListRefunds(w http.ResponseWriter, r *http.Request) {
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	recs, err := h.refunds.ListByDonation(r.Context(), donationID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out := make([]refundResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRefundResponse(rec))
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

// -----------------------------------------------------------------------------
// Webhooks
// -----------------------------------------------------------------------------

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "failed to read body"))
		return
	}

	result, err := h.webhooks.Ingest(ctx, raw, r.Header.Get(signatureHeader), middleware.GetRequestID(ctx))
	if err != nil {
		h.logFailure(ctx, "webhook ingestion failed", err)
		shared.WriteError(w, err)
		return
	}

	status := "applied"
	if result.Duplicate {
		status = "duplicate"
	}
	shared.WriteJSON(w, http.StatusOK, webhookAckResponse{Status: status})
}

// -----------------------------------------------------------------------------
// Donor aggregates
// -----------------------------------------------------------------------------

func (h *Handler) handleDonorAggregate(w http.ResponseWriter, r *http.Request) {
	donorFP := chi.URLParam(r, "fingerprint")
	jurisdiction := r.URL.Query().Get("jurisdiction")
	cycle := r.URL.Query().Get("cycle")

	view, err := h.limits.Snapshot(r.Context(), id.DonorFingerprint(donorFP), jurisdiction)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if cycle != "" {
		filtered := view[:0]
		for _, wa := range view {
			if wa.Cycle == cycle {
				filtered = append(filtered, wa)
			}
		}
		view = filtered
	}
	shared.WriteJSON(w, http.StatusOK, toAggregateResponse(donorFP, jurisdiction, view))
}

// -----------------------------------------------------------------------------
// Reconcile queue
// -----------------------------------------------------------------------------

func (h *Handler) handleListReconcile(w http.ResponseWriter, r *http.Request) {
	items, err := h.reconcile.ListOpen(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out := make([]reconcileItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toReconcileItemResponse(item))
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleResolveReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)
	if err := authz.Require(ctx, h.authorizer, actor, authz.ActionResolveReview, ""); err != nil {
		shared.WriteError(w, err)
		return
	}

	itemID, err := id.ParseReconcileItemID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.reconcile.Resolve(ctx, itemID, actor.ActorID); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	for _, checker := range h.health {
		if err := checker.Health(ctx); err != nil {
			shared.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
			})
			return
		}
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"error", err.Error(),
		"code", dErrors.CodeOf(err),
		"request_id", middleware.GetRequestID(ctx),
	)
}
