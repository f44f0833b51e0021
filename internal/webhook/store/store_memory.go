package store

import (
	"context"
	"sync"
	"time"

	"tally/internal/webhook"
	"tally/pkg/platform/sentinel"
)

// MemoryStore keeps dedup records in a map keyed by processor event id.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*webhook.Record
}

func NewMemory() *MemoryStore {
	return &MemoryStore{records: make(map[string]*webhook.Record)}
}

func (s *MemoryStore) Record(_ context.Context, rec *webhook.Record) (*webhook.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, found := s.records[rec.ProcessorEventID]; found {
		cp := *existing
		return &cp, false, nil
	}
	cp := *rec
	s.records[rec.ProcessorEventID] = &cp
	out := cp
	return &out, true, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, processorEventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found := s.records[processorEventID]
	if !found {
		return sentinel.ErrNotFound
	}
	rec.ProcessedAt = &at
	return nil
}
