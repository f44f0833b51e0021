package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"tally/internal/audit"
	auditmem "tally/internal/audit/store/memory"
	"tally/internal/ledger"
	ledgersvc "tally/internal/ledger/service"
	ledgerstore "tally/internal/ledger/store"
	"tally/internal/reconcile"
	id "tally/pkg/domain"
	dErrors "tally/pkg/domain-errors"
)

// =============================================================================
// Ledger Service Test Suite
// =============================================================================
// The ledger is the only write path to a donation. These tests pin the
// transition matrix, redelivery idempotence, and the aggregate intents each
// committed transition emits.

// recordingSink captures aggregate intents so tests can assert what the limit
// engine would have been offered.
type recordingSink struct {
	mu      sync.Mutex
	intents []ledgersvc.AggregateIntent
}

func (r *recordingSink) ApplyIntent(_ context.Context, intent ledgersvc.AggregateIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, intent)
	return nil
}

func (r *recordingSink) all() []ledgersvc.AggregateIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ledgersvc.AggregateIntent(nil), r.intents...)
}

type LedgerServiceSuite struct {
	suite.Suite
	svc       *ledgersvc.Service
	sink      *recordingSink
	audit     *audit.Publisher
	reconcile *reconcile.Service
}

func TestLedgerServiceSuite(t *testing.T) {
	suite.Run(t, new(LedgerServiceSuite))
}

func (s *LedgerServiceSuite) SetupTest() {
	s.sink = &recordingSink{}
	s.audit = audit.NewPublisher(auditmem.New())

	var err error
	s.reconcile, err = reconcile.New(reconcile.NewMemory())
	s.Require().NoError(err)

	s.svc, err = ledgersvc.New(ledgerstore.NewMemory(), s.audit, s.reconcile,
		ledgersvc.WithAggregateSink(s.sink))
	s.Require().NoError(err)
}

func createRequest() ledger.CreateRequest {
	return ledger.CreateRequest{
		AmountCents:  500_00,
		Currency:     "USD",
		Donor:        "dnr_ledger",
		FundraiserID: "fund-9",
		Jurisdiction: "US-FED",
	}
}

func (s *LedgerServiceSuite) create() *ledger.Donation {
	donation, err := s.svc.Create(context.Background(), createRequest())
	s.Require().NoError(err)
	return donation
}

func (s *LedgerServiceSuite) transition(donationID id.DonationID, event ledger.Event, tc ledgersvc.TransitionContext) *ledger.Donation {
	donation, err := s.svc.Transition(context.Background(), donationID, event, tc)
	s.Require().NoError(err)
	return donation
}

// =============================================================================
// Create
// =============================================================================

func (s *LedgerServiceSuite) TestCreate() {
	s.Run("valid request starts pending", func() {
		donation := s.create()
		s.Equal(ledger.StatePending, donation.State)
		s.Equal(1, donation.Version)
		s.False(donation.ID.IsNil())
	})

	s.Run("validation failures are coded", func() {
		cases := map[string]func(*ledger.CreateRequest){
			"zero amount":       func(r *ledger.CreateRequest) { r.AmountCents = 0 },
			"negative amount":   func(r *ledger.CreateRequest) { r.AmountCents = -100 },
			"missing currency":  func(r *ledger.CreateRequest) { r.Currency = "" },
			"missing donor":     func(r *ledger.CreateRequest) { r.Donor = "" },
			"missing reference": func(r *ledger.CreateRequest) { r.FundraiserID = "" },
			"missing territory": func(r *ledger.CreateRequest) { r.Jurisdiction = "" },
		}
		for name, mutate := range cases {
			req := createRequest()
			mutate(&req)
			_, err := s.svc.Create(context.Background(), req)
			s.Require().Error(err, name)
			s.True(dErrors.Is(err, dErrors.CodeValidation), name)
		}
	})

	s.Run("idempotency key replay returns the original", func() {
		req := createRequest()
		req.IdempotencyKey = "key-ledger-1"

		first, err := s.svc.Create(context.Background(), req)
		s.Require().NoError(err)
		second, err := s.svc.Create(context.Background(), req)
		s.Require().NoError(err)
		s.Equal(first.ID, second.ID)
	})
}

// =============================================================================
// Transition matrix
// =============================================================================

func (s *LedgerServiceSuite) TestHappyPath() {
	donation := s.create()

	processing := s.transition(donation.ID, ledger.EventChargeSubmitted, ledgersvc.TransitionContext{
		Trigger:      audit.TriggerSystem,
		ExternalTxID: "tx-hp-1",
	})
	s.Equal(ledger.StateProcessing, processing.State)
	s.Equal("tx-hp-1", processing.ExternalTxID)

	completed := s.transition(donation.ID, ledger.EventChargeCompleted, ledgersvc.TransitionContext{
		Trigger:        audit.TriggerWebhook,
		CausingEventID: "evt-hp-1",
	})
	s.Equal(ledger.StateCompleted, completed.State)

	s.Run("completion offers the aggregate intent once", func() {
		intents := s.sink.all()
		s.Require().Len(intents, 1)
		s.Equal(donation.ID.String()+":charge_completed", intents[0].Marker)
		s.Equal(int64(500_00), intents[0].AmountCents)
		s.Equal(donation.Donor, intents[0].Donor)
	})

	s.Run("trail records both transitions", func() {
		entries, err := s.audit.ListByDonation(context.Background(), donation.ID)
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal("pending", entries[0].FromState)
		s.Equal("processing", entries[0].ToState)
		s.Equal("completed", entries[1].ToState)
		s.Equal("evt-hp-1", entries[1].CausingEventID)
	})

	s.Run("resolvable by transaction id", func() {
		found, err := s.svc.GetByExternalTxID(context.Background(), "tx-hp-1")
		s.Require().NoError(err)
		s.Equal(donation.ID, found.ID)
	})
}

func (s *LedgerServiceSuite) TestCompletionOutrunsSubmission() {
	// The processor's success notification can land before our own
	// charge_submitted bookkeeping; pending accepts it directly.
	donation := s.create()

	completed := s.transition(donation.ID, ledger.EventChargeCompleted, ledgersvc.TransitionContext{
		Trigger: audit.TriggerWebhook,
	})
	s.Equal(ledger.StateCompleted, completed.State)
}

func (s *LedgerServiceSuite) TestChargeFailure() {
	donation := s.create()
	s.transition(donation.ID, ledger.EventChargeSubmitted, ledgersvc.TransitionContext{Trigger: audit.TriggerSystem})

	failed := s.transition(donation.ID, ledger.EventChargeFailed, ledgersvc.TransitionContext{
		Trigger:       audit.TriggerWebhook,
		FailureReason: "card_declined",
	})
	s.Equal(ledger.StateFailed, failed.State)
	s.Equal("card_declined", failed.FailureReason)
	s.Empty(s.sink.all(), "failures carry no aggregate weight")
}

func (s *LedgerServiceSuite) TestRefundFlow() {
	donation := s.create()
	s.transition(donation.ID, ledger.EventChargeCompleted, ledgersvc.TransitionContext{Trigger: audit.TriggerWebhook})

	pending := s.transition(donation.ID, ledger.EventRefundInitiated, ledgersvc.TransitionContext{Trigger: audit.TriggerRefund})
	s.Equal(ledger.StateRefundPending, pending.State)

	refunded := s.transition(donation.ID, ledger.EventRefundConfirmed, ledgersvc.TransitionContext{Trigger: audit.TriggerWebhook})
	s.Equal(ledger.StateRefunded, refunded.State)

	intents := s.sink.all()
	s.Require().Len(intents, 2)
	s.Equal(int64(500_00), intents[0].AmountCents)
	s.Equal(int64(-500_00), intents[1].AmountCents)
	s.Equal(donation.ID.String()+":refund_confirmed", intents[1].Marker)
}

func (s *LedgerServiceSuite) TestRefundFailureReopensCompleted() {
	donation := s.create()
	s.transition(donation.ID, ledger.EventChargeCompleted, ledgersvc.TransitionContext{Trigger: audit.TriggerWebhook})
	s.transition(donation.ID, ledger.EventRefundInitiated, ledgersvc.TransitionContext{Trigger: audit.TriggerRefund})

	reopened := s.transition(donation.ID, ledger.EventRefundFailed, ledgersvc.TransitionContext{Trigger: audit.TriggerWebhook})
	s.Equal(ledger.StateCompleted, reopened.State)

	// Re-entering completed through a declined refund moves no money: the
	// completion intent from charge_completed is the only one recorded.
	intents := s.sink.all()
	s.Require().Len(intents, 1)
	s.Equal(int64(500_00), intents[0].AmountCents)
}

func (s *LedgerServiceSuite) TestRefundConfirmationDeltaOverride() {
	// The refund coordinator reverses only the remaining balance when partial
	// refunds already drew the aggregate down.
	donation := s.create()
	s.transition(donation.ID, ledger.EventChargeCompleted, ledgersvc.TransitionContext{Trigger: audit.TriggerWebhook})
	s.transition(donation.ID, ledger.EventRefundInitiated, ledgersvc.TransitionContext{Trigger: audit.TriggerRefund})

	remaining := int64(-300_00)
	s.transition(donation.ID, ledger.EventRefundConfirmed, ledgersvc.TransitionContext{
		Trigger:        audit.TriggerWebhook,
		AggregateDelta: &remaining,
	})

	intents := s.sink.all()
	s.Require().Len(intents, 2)
	s.Equal(int64(-300_00), intents[1].AmountCents)
}

// =============================================================================
// Redelivery and conflicts
// =============================================================================

func (s *LedgerServiceSuite) TestRedelivery() {
	donation := s.create()
	s.transition(donation.ID, ledger.EventChargeCompleted, ledgersvc.TransitionContext{Trigger: audit.TriggerWebhook})

	again := s.transition(donation.ID, ledger.EventChargeCompleted, ledgersvc.TransitionContext{Trigger: audit.TriggerWebhook})
	s.Equal(ledger.StateCompleted, again.State)

	s.Run("intent is re-offered under the original marker", func() {
		intents := s.sink.all()
		s.Require().Len(intents, 2)
		s.Equal(intents[0].Marker, intents[1].Marker, "marker stability is what makes the re-offer safe")
	})

	s.Run("no duplicate audit entry", func() {
		entries, err := s.audit.ListByDonation(context.Background(), donation.ID)
		s.Require().NoError(err)
		s.Len(entries, 1)
	})
}

func (s *LedgerServiceSuite) TestIllegalTransition() {
	donation := s.create()
	s.transition(donation.ID, ledger.EventChargeCompleted, ledgersvc.TransitionContext{Trigger: audit.TriggerWebhook})

	_, err := s.svc.Transition(context.Background(), donation.ID, ledger.EventChargeFailed, ledgersvc.TransitionContext{
		Trigger:        audit.TriggerWebhook,
		CausingEventID: "evt-conflict-1",
	})
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeIllegalTransition))

	s.Run("recorded state is preserved", func() {
		got, err := s.svc.Get(context.Background(), donation.ID)
		s.Require().NoError(err)
		s.Equal(ledger.StateCompleted, got.State)
	})

	s.Run("conflict is audited and queued for review", func() {
		entries, err := s.audit.ListByDonation(context.Background(), donation.ID)
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal(audit.ActionTransitionRejected, entries[1].Action)

		items, err := s.reconcile.ListOpen(context.Background())
		s.Require().NoError(err)
		s.Require().Len(items, 1)
		s.Equal(reconcile.KindIllegalTransition, items[0].Kind)
		s.Equal("evt-conflict-1", items[0].ExternalRef)
	})
}

func (s *LedgerServiceSuite) TestTerminalStatesRejectEverything() {
	terminalSetups := map[string]ledger.Event{
		"failed":    ledger.EventChargeFailed,
		"cancelled": ledger.EventCancelled,
	}
	for name, terminalEvent := range terminalSetups {
		donation := s.create()
		s.transition(donation.ID, terminalEvent, ledgersvc.TransitionContext{Trigger: audit.TriggerSystem})

		_, err := s.svc.Transition(context.Background(), donation.ID, ledger.EventRefundInitiated, ledgersvc.TransitionContext{
			Trigger: audit.TriggerRefund,
		})
		s.Require().Error(err, name)
		s.True(dErrors.Is(err, dErrors.CodeIllegalTransition), name)
	}
}

func (s *LedgerServiceSuite) TestTransitionUnknownDonation() {
	_, err := s.svc.Transition(context.Background(), id.NewDonationID(), ledger.EventChargeCompleted, ledgersvc.TransitionContext{
		Trigger: audit.TriggerWebhook,
	})
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
}

// =============================================================================
// Cancel
// =============================================================================

func (s *LedgerServiceSuite) TestCancel() {
	s.Run("pending donation cancels", func() {
		donation := s.create()
		cancelled, err := s.svc.Cancel(context.Background(), donation.ID, ledgersvc.TransitionContext{})
		s.Require().NoError(err)
		s.Equal(ledger.StateCancelled, cancelled.State)
	})

	s.Run("submitted charge cannot be cancelled", func() {
		donation := s.create()
		s.transition(donation.ID, ledger.EventChargeSubmitted, ledgersvc.TransitionContext{Trigger: audit.TriggerSystem})

		_, err := s.svc.Cancel(context.Background(), donation.ID, ledgersvc.TransitionContext{})
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeConflict))
	})

	s.Run("unknown donation reports not found", func() {
		_, err := s.svc.Cancel(context.Background(), id.NewDonationID(), ledgersvc.TransitionContext{})
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}
