package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tally/internal/webhook"
	webhookstore "tally/internal/webhook/store"
	"tally/pkg/platform/sentinel"
)

// =============================================================================
// Memory Store Test Suite
// =============================================================================

type MemoryStoreSuite struct {
	suite.Suite
	store *webhookstore.MemoryStore
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = webhookstore.NewMemory()
}

func (s *MemoryStoreSuite) TestRecordDedup() {
	ctx := context.Background()
	rec := &webhook.Record{
		ProcessorEventID: "evt-mem-1",
		PayloadHash:      "hash-a",
		ReceivedAt:       time.Now().UTC(),
	}

	stored, created, err := s.store.Record(ctx, rec)
	s.Require().NoError(err)
	s.True(created)
	s.False(stored.Processed())

	redelivery := &webhook.Record{
		ProcessorEventID: "evt-mem-1",
		PayloadHash:      "hash-b",
		ReceivedAt:       time.Now().UTC(),
	}
	stored, created, err = s.store.Record(ctx, redelivery)
	s.Require().NoError(err)
	s.False(created)
	s.Equal("hash-a", stored.PayloadHash, "first receipt wins")
}

func (s *MemoryStoreSuite) TestMarkProcessed() {
	ctx := context.Background()
	_, _, err := s.store.Record(ctx, &webhook.Record{
		ProcessorEventID: "evt-mem-2",
		ReceivedAt:       time.Now().UTC(),
	})
	s.Require().NoError(err)

	s.Require().NoError(s.store.MarkProcessed(ctx, "evt-mem-2", time.Now()))

	stored, created, err := s.store.Record(ctx, &webhook.Record{ProcessorEventID: "evt-mem-2"})
	s.Require().NoError(err)
	s.False(created)
	s.True(stored.Processed())

	s.ErrorIs(s.store.MarkProcessed(ctx, "evt-never", time.Now()), sentinel.ErrNotFound)
}
