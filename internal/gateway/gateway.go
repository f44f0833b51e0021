// Package gateway defines the outbound payment processor ports. The processor
// itself is external; this package owns the call discipline: every call is
// bounded by a timeout and a finite retry budget, and exhaustion parks the
// operation instead of guessing an outcome.
package gateway

import (
	"context"

	"tally/internal/ledger"
)

// ChargeResult is the processor's acknowledgement of a submitted charge. The
// definitive outcome arrives later via webhook.
type ChargeResult struct {
	TransactionID string
}

// RefundResult is the processor's acknowledgement of an issued refund.
type RefundResult struct {
	ProcessorRefundID string
}

// Charger submits charges to the payment processor.
type Charger interface {
	Charge(ctx context.Context, donation *ledger.Donation) (*ChargeResult, error)
}

// Refunder issues refunds against a previously charged transaction.
type Refunder interface {
	Refund(ctx context.Context, transactionID string, amountCents int64) (*RefundResult, error)
}
