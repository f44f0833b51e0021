package gateway

import (
	"context"
	"fmt"
	"sync/atomic"

	"tally/internal/ledger"
)

// Sandbox is an in-process processor used when no real gateway is configured.
// It acknowledges every charge and refund with deterministic identifiers; the
// definitive webhook has to be injected by the operator or a test harness,
// exactly as with a real processor.
type Sandbox struct {
	seq atomic.Uint64
}

func NewSandbox() *Sandbox {
	return &Sandbox{}
}

func (s *Sandbox) Charge(_ context.Context, donation *ledger.Donation) (*ChargeResult, error) {
	return &ChargeResult{
		TransactionID: fmt.Sprintf("sbx_tx_%s_%d", donation.ID.String()[:8], s.seq.Add(1)),
	}, nil
}

func (s *Sandbox) Refund(_ context.Context, transactionID string, _ int64) (*RefundResult, error) {
	return &RefundResult{
		ProcessorRefundID: fmt.Sprintf("sbx_rf_%s_%d", transactionID, s.seq.Add(1)),
	}, nil
}
