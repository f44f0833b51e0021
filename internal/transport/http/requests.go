package httptransport

import (
	"tally/internal/ledger"
	id "tally/pkg/domain"
)

// CreateDonationRequest is the POST /donations body. Validation of amounts
// and references happens in the ledger service; this type only shapes the
// JSON.
type CreateDonationRequest struct {
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	DonorFP        string `json:"donor_fingerprint"`
	FundraiserID   string `json:"fundraiser_id"`
	OrganizationID string `json:"organization_id,omitempty"`
	Jurisdiction   string `json:"jurisdiction"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (r CreateDonationRequest) toCreateRequest() ledger.CreateRequest {
	return ledger.CreateRequest{
		AmountCents:    r.AmountCents,
		Currency:       r.Currency,
		Donor:          id.DonorFingerprint(r.DonorFP),
		FundraiserID:   r.FundraiserID,
		OrganizationID: r.OrganizationID,
		Jurisdiction:   r.Jurisdiction,
		IdempotencyKey: r.IdempotencyKey,
	}
}

// RefundRequest is the POST /donations/{id}/refunds body.
type RefundRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason,omitempty"`
}

// ResolveRequest is the POST /reconcile/{id}/resolve body.
type ResolveRequest struct {
	Note string `json:"note,omitempty"`
}
