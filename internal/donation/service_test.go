package donation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tally/internal/audit"
	auditmem "tally/internal/audit/store/memory"
	"tally/internal/gateway"
	"tally/internal/ledger"
	ledgersvc "tally/internal/ledger/service"
	ledgerstore "tally/internal/ledger/store"
	"tally/internal/limits"
	limitsvc "tally/internal/limits/service"
	limitstore "tally/internal/limits/store"
	"tally/internal/reconcile"
	id "tally/pkg/domain"
	dErrors "tally/pkg/domain-errors"
)

// =============================================================================
// Donation Intake Test Suite
// =============================================================================

type stubCharger struct {
	calls    int
	failWith error
}

func (c *stubCharger) Charge(_ context.Context, donation *ledger.Donation) (*gateway.ChargeResult, error) {
	c.calls++
	if c.failWith != nil {
		return nil, c.failWith
	}
	return &gateway.ChargeResult{TransactionID: "tx-" + donation.ID.String()[:8]}, nil
}

type DonationServiceSuite struct {
	suite.Suite
	charger   *stubCharger
	recStore  *reconcile.MemoryStore
	limitSvc  *limitsvc.Service
	ledgerSvc *ledgersvc.Service
	service   *Service
}

func TestDonationServiceSuite(t *testing.T) {
	suite.Run(t, new(DonationServiceSuite))
}

func (s *DonationServiceSuite) SetupTest() {
	s.charger = &stubCharger{}
	s.recStore = reconcile.NewMemory()

	auditPub := audit.NewPublisher(auditmem.New())
	recSvc, err := reconcile.New(s.recStore)
	s.Require().NoError(err)

	cfg := &limits.Config{Windows: map[string][]limits.Window{
		"US-FED": {{Cycle: "2026-annual", LimitCents: 2900_00}},
	}}
	s.limitSvc, err = limitsvc.New(cfg, limitstore.NewMemory(), auditPub, recSvc)
	s.Require().NoError(err)

	s.ledgerSvc, err = ledgersvc.New(ledgerstore.NewMemory(), auditPub, recSvc,
		ledgersvc.WithAggregateSink(s.limitSvc))
	s.Require().NoError(err)

	s.service, err = New(s.ledgerSvc, s.limitSvc, s.charger, auditPub, recSvc,
		WithRetryPolicy(gateway.RetryPolicy{MaxAttempts: 2, Timeout: time.Second, BackoffBase: time.Millisecond}))
	s.Require().NoError(err)
}

func (s *DonationServiceSuite) request(amountCents int64, idemKey string) ledger.CreateRequest {
	return ledger.CreateRequest{
		AmountCents:    amountCents,
		Currency:       "USD",
		Donor:          id.DonorFingerprint("dnr_intake"),
		FundraiserID:   "fund-1",
		Jurisdiction:   "US-FED",
		IdempotencyKey: idemKey,
	}
}

func (s *DonationServiceSuite) TestDonate() {
	ctx := context.Background()

	s.Run("passes the pre-check and submits the charge", func() {
		donation, err := s.service.Donate(ctx, s.request(500_00, ""), "req-1")
		s.Require().NoError(err)
		s.Equal(ledger.StateProcessing, donation.State)
		s.NotEmpty(donation.ExternalTxID)
	})

	s.Run("limit rejection creates nothing and charges nothing", func() {
		before := s.charger.calls
		_, err := s.service.Donate(ctx, s.request(3000_00, ""), "req-2")
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeLimitExceeded))
		s.Equal(before, s.charger.calls)
	})

	s.Run("idempotency key replay does not charge twice", func() {
		first, err := s.service.Donate(ctx, s.request(100_00, "idem-1"), "req-3")
		s.Require().NoError(err)
		calls := s.charger.calls

		second, err := s.service.Donate(ctx, s.request(100_00, "idem-1"), "req-3")
		s.Require().NoError(err)
		s.Equal(first.ID, second.ID)
		s.Equal(calls, s.charger.calls)
	})

	s.Run("pre-check considers only committed completions", func() {
		// The earlier donations are processing, not completed: a donor with
		// no completed contributions still has full headroom.
		donation, err := s.service.Donate(ctx, s.request(2900_00, ""), "req-4")
		s.Require().NoError(err)
		s.Equal(ledger.StateProcessing, donation.State)
	})
}

func (s *DonationServiceSuite) TestDonateGatewayExhaustion() {
	ctx := context.Background()
	s.charger.failWith = errors.New("processor 503")

	_, err := s.service.Donate(ctx, s.request(500_00, "idem-parked"), "req-5")
	s.Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeGatewayUnavailable))
	s.Equal(2, s.charger.calls)

	open, err := s.recStore.ListOpen(ctx)
	s.Require().NoError(err)
	s.Require().Len(open, 1)
	s.Equal(reconcile.KindGatewayExhausted, open[0].Kind)
	parkedID := open[0].DonationID

	// The donation is parked in pending.
	parked, err := s.ledgerSvc.Get(ctx, parkedID)
	s.Require().NoError(err)
	s.Equal(ledger.StatePending, parked.State)

	// A retry under the same idempotency key heals once the processor is back.
	s.charger.failWith = nil
	healed, err := s.service.Donate(ctx, s.request(500_00, "idem-parked"), "req-6")
	s.Require().NoError(err)
	s.Equal(parkedID, healed.ID)
	s.Equal(ledger.StateProcessing, healed.State)
}
