package reconcile

import (
	"context"
	"sync"
	"time"

	id "tally/pkg/domain"
	"tally/pkg/platform/sentinel"
)

// MemoryStore keeps review items in insertion order.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[id.ReconcileItemID]*Item
	order []id.ReconcileItemID
}

func NewMemory() *MemoryStore {
	return &MemoryStore{items: make(map[id.ReconcileItemID]*Item)}
}

func (s *MemoryStore) Add(_ context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *item
	s.items[item.ID] = &cp
	s.order = append(s.order, item.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, itemID id.ReconcileItemID) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[itemID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *MemoryStore) ListOpen(_ context.Context) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Item
	for _, itemID := range s.order {
		if item := s.items[itemID]; item.Status == StatusOpen {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Resolve(_ context.Context, itemID id.ReconcileItemID, resolvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[itemID]
	if !exists {
		return sentinel.ErrNotFound
	}
	if item.Status == StatusResolved {
		return nil
	}
	now := time.Now().UTC()
	item.Status = StatusResolved
	item.ResolvedAt = &now
	item.ResolvedBy = resolvedBy
	return nil
}
