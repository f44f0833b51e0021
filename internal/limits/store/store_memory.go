package store

import (
	"context"
	"sync"
	"time"

	"tally/internal/limits"
)

// MemoryStore guards aggregates with a single mutex. All keys of one marker
// update under the same critical section, so a concurrent reader never sees a
// half-applied multi-window update.
type MemoryStore struct {
	mu         sync.RWMutex
	aggregates map[limits.AggregateKey]*limits.DonorAggregate
	markers    map[string]struct{}
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		aggregates: make(map[limits.AggregateKey]*limits.DonorAggregate),
		markers:    make(map[string]struct{}),
	}
}

func (s *MemoryStore) Get(_ context.Context, key limits.AggregateKey) (*limits.DonorAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if agg, exists := s.aggregates[key]; exists {
		cp := *agg
		return &cp, nil
	}
	return &limits.DonorAggregate{Key: key}, nil
}

func (s *MemoryStore) ApplyDelta(_ context.Context, marker string, keys []limits.AggregateKey, delta int64) (bool, []limits.AggregateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.markers[marker]; seen {
		return false, nil, nil
	}
	s.markers[marker] = struct{}{}

	now := time.Now().UTC()
	var clamped []limits.AggregateKey
	for _, key := range keys {
		agg, exists := s.aggregates[key]
		if !exists {
			agg = &limits.DonorAggregate{Key: key}
			s.aggregates[key] = agg
		}
		next := agg.TotalCents + delta
		if next < 0 {
			next = 0
			clamped = append(clamped, key)
		}
		agg.TotalCents = next
		agg.LastUpdated = now
	}
	return true, clamped, nil
}
