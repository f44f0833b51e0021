package reconcile_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"tally/internal/reconcile"
	id "tally/pkg/domain"
	dErrors "tally/pkg/domain-errors"
)

// =============================================================================
// Reconcile Service Test Suite
// =============================================================================

type ReconcileServiceSuite struct {
	suite.Suite
	svc *reconcile.Service
}

func TestReconcileServiceSuite(t *testing.T) {
	suite.Run(t, new(ReconcileServiceSuite))
}

func (s *ReconcileServiceSuite) SetupTest() {
	var err error
	s.svc, err = reconcile.New(reconcile.NewMemory())
	s.Require().NoError(err)
}

func (s *ReconcileServiceSuite) TestFlagAndList() {
	ctx := context.Background()
	donationID := id.NewDonationID()

	first, err := s.svc.Flag(ctx, reconcile.KindIllegalTransition, donationID, "evt-1", "late failure event")
	s.Require().NoError(err)
	s.Equal(reconcile.StatusOpen, first.Status)

	_, err = s.svc.Flag(ctx, reconcile.KindUnknownDonation, id.DonationID{}, "tx-ghost", "no ledger record")
	s.Require().NoError(err)

	items, err := s.svc.ListOpen(ctx)
	s.Require().NoError(err)
	s.Require().Len(items, 2)
	s.Equal(first.ID, items[0].ID, "oldest first")
	s.True(items[1].DonationID.IsNil())
}

func (s *ReconcileServiceSuite) TestResolve() {
	ctx := context.Background()

	item, err := s.svc.Flag(ctx, reconcile.KindGatewayExhausted, id.NewDonationID(), "", "retries exhausted")
	s.Require().NoError(err)

	s.Require().NoError(s.svc.Resolve(ctx, item.ID, "operator-1"))

	open, err := s.svc.ListOpen(ctx)
	s.Require().NoError(err)
	s.Empty(open)

	s.Run("resolving again is a no-op", func() {
		s.NoError(s.svc.Resolve(ctx, item.ID, "operator-2"))
	})

	s.Run("missing item reports not found", func() {
		err := s.svc.Resolve(ctx, id.NewReconcileItemID(), "operator-1")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}
