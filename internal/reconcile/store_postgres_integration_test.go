//go:build integration

package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tally/internal/reconcile"
	id "tally/pkg/domain"
	"tally/pkg/platform/sentinel"
	"tally/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *reconcile.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = reconcile.NewPostgres(s.postgres.Pool)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "reconcile_items")
	s.Require().NoError(err)
}

func newItem(kind reconcile.Kind) *reconcile.Item {
	return &reconcile.Item{
		ID:          id.NewReconcileItemID(),
		Kind:        kind,
		ExternalRef: "evt-rc-1",
		Detail:      "needs review",
		Status:      reconcile.StatusOpen,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestAddAndListOpen() {
	ctx := context.Background()

	withDonation := newItem(reconcile.KindIllegalTransition)
	withDonation.DonationID = id.NewDonationID()
	s.Require().NoError(s.store.Add(ctx, withDonation))

	orphan := newItem(reconcile.KindUnknownDonation)
	orphan.CreatedAt = orphan.CreatedAt.Add(time.Second)
	s.Require().NoError(s.store.Add(ctx, orphan))

	items, err := s.store.ListOpen(ctx)
	s.Require().NoError(err)
	s.Require().Len(items, 2)
	s.Equal(withDonation.ID, items[0].ID)
	s.Equal(withDonation.DonationID, items[0].DonationID)
	s.True(items[1].DonationID.IsNil(), "orphan items carry no donation id")
}

func (s *PostgresStoreSuite) TestResolve() {
	ctx := context.Background()
	item := newItem(reconcile.KindGatewayExhausted)
	s.Require().NoError(s.store.Add(ctx, item))

	s.Require().NoError(s.store.Resolve(ctx, item.ID, "operator-7"))

	got, err := s.store.Get(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(reconcile.StatusResolved, got.Status)
	s.Equal("operator-7", got.ResolvedBy)
	s.NotNil(got.ResolvedAt)

	open, err := s.store.ListOpen(ctx)
	s.Require().NoError(err)
	s.Empty(open)

	// Resolving again is a no-op; resolving a missing item is not.
	s.NoError(s.store.Resolve(ctx, item.ID, "operator-8"))
	err = s.store.Resolve(ctx, id.NewReconcileItemID(), "operator-7")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
