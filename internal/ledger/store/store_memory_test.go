package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tally/internal/ledger"
	ledgerstore "tally/internal/ledger/store"
	id "tally/pkg/domain"
	"tally/pkg/platform/sentinel"
)

// =============================================================================
// Memory Store Test Suite
// =============================================================================

type MemoryStoreSuite struct {
	suite.Suite
	store *ledgerstore.MemoryStore
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = ledgerstore.NewMemory()
}

func (s *MemoryStoreSuite) donation() *ledger.Donation {
	now := time.Now().UTC()
	return &ledger.Donation{
		ID:           id.NewDonationID(),
		AmountCents:  100_00,
		Currency:     "USD",
		Donor:        "dnr_mem",
		FundraiserID: "fund-mem",
		Jurisdiction: "US-FED",
		State:        ledger.StatePending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *MemoryStoreSuite) TestUniqueness() {
	ctx := context.Background()

	d := s.donation()
	d.IdempotencyKey = "key-mem-1"
	s.Require().NoError(s.store.Create(ctx, d))

	s.Run("duplicate id conflicts", func() {
		s.ErrorIs(s.store.Create(ctx, d), sentinel.ErrConflict)
	})

	s.Run("duplicate idempotency key conflicts", func() {
		dup := s.donation()
		dup.IdempotencyKey = "key-mem-1"
		s.ErrorIs(s.store.Create(ctx, dup), sentinel.ErrConflict)
	})

	s.Run("external tx id is unique on update", func() {
		d.State = ledger.StateProcessing
		d.ExternalTxID = "tx-mem-1"
		s.Require().NoError(s.store.Update(ctx, d))

		other := s.donation()
		s.Require().NoError(s.store.Create(ctx, other))
		other.ExternalTxID = "tx-mem-1"
		s.ErrorIs(s.store.Update(ctx, other), sentinel.ErrConflict)
	})
}

func (s *MemoryStoreSuite) TestVersioning() {
	ctx := context.Background()
	d := s.donation()
	s.Require().NoError(s.store.Create(ctx, d))

	d.State = ledger.StateProcessing
	s.Require().NoError(s.store.Update(ctx, d))
	s.Equal(2, d.Version)

	stale := *d
	stale.Version = 1
	s.ErrorIs(s.store.Update(ctx, &stale), sentinel.ErrConflict)

	s.ErrorIs(s.store.Update(ctx, s.donation()), sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestCopySemantics() {
	ctx := context.Background()
	d := s.donation()
	s.Require().NoError(s.store.Create(ctx, d))

	got, err := s.store.Get(ctx, d.ID)
	s.Require().NoError(err)
	got.State = ledger.StateFailed

	again, err := s.store.Get(ctx, d.ID)
	s.Require().NoError(err)
	s.Equal(ledger.StatePending, again.State, "mutating a returned record must not touch stored state")
}
