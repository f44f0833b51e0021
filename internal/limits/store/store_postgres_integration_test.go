//go:build integration

package store_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"tally/internal/limits"
	limitstore "tally/internal/limits/store"
	"tally/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *limitstore.PostgresStore
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
	s.store = limitstore.NewPostgres(s.postgres.Pool)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "donor_aggregates", "aggregate_markers")
	s.Require().NoError(err)
}

func key(cycle string) limits.AggregateKey {
	return limits.AggregateKey{Donor: "dnr_agg", Jurisdiction: "US-FED", Cycle: cycle}
}

func (s *PostgresStoreSuite) TestApplyDeltaMultiKey() {
	ctx := context.Background()
	keys := []limits.AggregateKey{key("2026-annual"), key("2026-general")}

	applied, clamped, err := s.store.ApplyDelta(ctx, "m-1", keys, 500_00)
	s.Require().NoError(err)
	s.True(applied)
	s.Empty(clamped)

	for _, k := range keys {
		agg, err := s.store.Get(ctx, k)
		s.Require().NoError(err)
		s.Equal(int64(500_00), agg.TotalCents)
	}
}

func (s *PostgresStoreSuite) TestMarkerIdempotence() {
	ctx := context.Background()
	keys := []limits.AggregateKey{key("2026-annual")}

	applied, _, err := s.store.ApplyDelta(ctx, "m-once", keys, 300_00)
	s.Require().NoError(err)
	s.True(applied)

	applied, _, err = s.store.ApplyDelta(ctx, "m-once", keys, 300_00)
	s.Require().NoError(err)
	s.False(applied, "marker replay must be a no-op")

	agg, err := s.store.Get(ctx, keys[0])
	s.Require().NoError(err)
	s.Equal(int64(300_00), agg.TotalCents)
}

func (s *PostgresStoreSuite) TestNegativeClamp() {
	ctx := context.Background()
	keys := []limits.AggregateKey{key("2026-annual")}

	_, _, err := s.store.ApplyDelta(ctx, "m-up", keys, 200_00)
	s.Require().NoError(err)

	applied, clamped, err := s.store.ApplyDelta(ctx, "m-down", keys, -500_00)
	s.Require().NoError(err)
	s.True(applied)
	s.Equal(keys, clamped)

	agg, err := s.store.Get(ctx, keys[0])
	s.Require().NoError(err)
	s.Equal(int64(0), agg.TotalCents)
}

func (s *PostgresStoreSuite) TestUnknownKeyReadsZero() {
	agg, err := s.store.Get(context.Background(), key("never-written"))
	s.Require().NoError(err)
	s.Equal(int64(0), agg.TotalCents)
}

// TestConcurrentSameMarker races many deliveries of one logical transition;
// the marker row must admit exactly one.
func (s *PostgresStoreSuite) TestConcurrentSameMarker() {
	ctx := context.Background()
	keys := []limits.AggregateKey{key("2026-annual")}
	const deliveries = 30

	var wg sync.WaitGroup
	var appliedCount atomic.Int32
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, _, err := s.store.ApplyDelta(ctx, "m-race", keys, 100_00)
			s.Require().NoError(err)
			if applied {
				appliedCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), appliedCount.Load())

	agg, err := s.store.Get(ctx, keys[0])
	s.Require().NoError(err)
	s.Equal(int64(100_00), agg.TotalCents)
}

// TestConcurrentDistinctMarkers races independent transitions for one donor;
// row locking must make every delta land.
func (s *PostgresStoreSuite) TestConcurrentDistinctMarkers() {
	ctx := context.Background()
	keys := []limits.AggregateKey{key("2026-annual")}
	const transitions = 25

	var wg sync.WaitGroup
	for i := 0; i < transitions; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _, err := s.store.ApplyDelta(ctx, fmt.Sprintf("m-distinct-%d", n), keys, 10_00)
			s.Require().NoError(err)
		}(i)
	}
	wg.Wait()

	agg, err := s.store.Get(ctx, keys[0])
	s.Require().NoError(err)
	s.Equal(int64(transitions*10_00), agg.TotalCents)
}
