package httptransport

import (
	"time"

	"tally/internal/audit"
	"tally/internal/ledger"
	limitsvc "tally/internal/limits/service"
	"tally/internal/reconcile"
	"tally/internal/refund"
)

type donationResponse struct {
	ID             string `json:"id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	DonorFP        string `json:"donor_fingerprint"`
	FundraiserID   string `json:"fundraiser_id"`
	OrganizationID string `json:"organization_id,omitempty"`
	Jurisdiction   string `json:"jurisdiction"`
	State          string `json:"state"`
	ExternalTxID   string `json:"external_tx_id,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func toDonationResponse(d *ledger.Donation) donationResponse {
	return donationResponse{
		ID:             d.ID.String(),
		AmountCents:    d.AmountCents,
		Currency:       d.Currency,
		DonorFP:        string(d.Donor),
		FundraiserID:   d.FundraiserID,
		OrganizationID: d.OrganizationID,
		Jurisdiction:   d.Jurisdiction,
		State:          string(d.State),
		ExternalTxID:   d.ExternalTxID,
		FailureReason:  d.FailureReason,
		CreatedAt:      d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      d.UpdatedAt.Format(time.RFC3339),
	}
}

type refundResponse struct {
	ID          string `json:"id"`
	DonationID  string `json:"donation_id"`
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	RequestedBy string `json:"requested_by"`
	CreatedAt   string `json:"created_at"`
}

func toRefundResponse(r *refund.Refund) refundResponse {
	return refundResponse{
		ID:          r.ID.String(),
		DonationID:  r.DonationID.String(),
		AmountCents: r.AmountCents,
		Status:      string(r.Status),
		Reason:      r.Reason,
		RequestedBy: r.RequestedBy,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
	}
}

type aggregateResponse struct {
	DonorFP      string            `json:"donor_fingerprint"`
	Jurisdiction string            `json:"jurisdiction"`
	Windows      []windowAggregate `json:"windows"`
}

type windowAggregate struct {
	Cycle          string `json:"cycle"`
	LimitCents     int64  `json:"limit_cents"`
	TotalCents     int64  `json:"total_cents"`
	RemainingCents int64  `json:"remaining_cents"`
}

func toAggregateResponse(donorFP, jurisdiction string, view []limitsvc.WindowAggregate) aggregateResponse {
	resp := aggregateResponse{
		DonorFP:      donorFP,
		Jurisdiction: jurisdiction,
		Windows:      make([]windowAggregate, 0, len(view)),
	}
	for _, w := range view {
		resp.Windows = append(resp.Windows, windowAggregate{
			Cycle:          w.Cycle,
			LimitCents:     w.LimitCents,
			TotalCents:     w.TotalCents,
			RemainingCents: w.RemainingCents,
		})
	}
	return resp
}

type webhookAckResponse struct {
	Status string `json:"status"`
}

type auditEntryResponse struct {
	ID             string `json:"id"`
	Action         string `json:"action"`
	Category       string `json:"category"`
	FromState      string `json:"from_state,omitempty"`
	ToState        string `json:"to_state,omitempty"`
	Trigger        string `json:"trigger"`
	CausingEventID string `json:"causing_event_id,omitempty"`
	AmountCents    int64  `json:"amount_cents,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Timestamp      string `json:"timestamp"`
}

func toAuditEntryResponse(e audit.Entry) auditEntryResponse {
	return auditEntryResponse{
		ID:             e.ID.String(),
		Action:         string(e.Action),
		Category:       string(e.Action.Category()),
		FromState:      e.FromState,
		ToState:        e.ToState,
		Trigger:        string(e.Trigger),
		CausingEventID: e.CausingEventID,
		AmountCents:    e.AmountCents,
		Reason:         e.Reason,
		Timestamp:      e.Timestamp.Format(time.RFC3339),
	}
}

type reconcileItemResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	DonationID  string `json:"donation_id,omitempty"`
	ExternalRef string `json:"external_ref,omitempty"`
	Detail      string `json:"detail"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

func toReconcileItemResponse(item *reconcile.Item) reconcileItemResponse {
	resp := reconcileItemResponse{
		ID:          item.ID.String(),
		Kind:        string(item.Kind),
		ExternalRef: item.ExternalRef,
		Detail:      item.Detail,
		Status:      string(item.Status),
		CreatedAt:   item.CreatedAt.Format(time.RFC3339),
	}
	if !item.DonationID.IsNil() {
		resp.DonationID = item.DonationID.String()
	}
	return resp
}
