package store

import (
	"context"
	"sync"
	"time"

	"tally/internal/refund"
	id "tally/pkg/domain"
	"tally/pkg/platform/sentinel"
)

// MemoryStore keeps refund records in maps with insertion order preserved per
// donation.
type MemoryStore struct {
	mu             sync.RWMutex
	refunds        map[id.RefundID]*refund.Refund
	byProcessorRef map[string]id.RefundID
	byDonation     map[id.DonationID][]id.RefundID
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		refunds:        make(map[id.RefundID]*refund.Refund),
		byProcessorRef: make(map[string]id.RefundID),
		byDonation:     make(map[id.DonationID][]id.RefundID),
	}
}

func (s *MemoryStore) Create(_ context.Context, r *refund.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refunds[r.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *r
	s.refunds[r.ID] = &cp
	s.byDonation[r.DonationID] = append(s.byDonation[r.DonationID], r.ID)
	if r.ProcessorRef != "" {
		s.byProcessorRef[r.ProcessorRef] = r.ID
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, refundID id.RefundID) (*refund.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.refunds[refundID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) GetByProcessorRef(_ context.Context, processorRef string) (*refund.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refundID, exists := s.byProcessorRef[processorRef]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.refunds[refundID]
	return &cp, nil
}

func (s *MemoryStore) ListByDonation(_ context.Context, donationID id.DonationID) ([]*refund.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byDonation[donationID]
	out := make([]*refund.Refund, 0, len(ids))
	for _, refundID := range ids {
		cp := *s.refunds[refundID]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, r *refund.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.refunds[r.ID]
	if !exists {
		return sentinel.ErrNotFound
	}
	if stored.ProcessorRef != "" && stored.ProcessorRef != r.ProcessorRef {
		delete(s.byProcessorRef, stored.ProcessorRef)
	}
	cp := *r
	cp.UpdatedAt = time.Now().UTC()
	s.refunds[r.ID] = &cp
	if cp.ProcessorRef != "" {
		s.byProcessorRef[cp.ProcessorRef] = cp.ID
	}
	return nil
}
