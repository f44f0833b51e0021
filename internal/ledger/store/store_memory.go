package store

import (
	"context"
	"sync"
	"time"

	"tally/internal/ledger"
	id "tally/pkg/domain"
	"tally/pkg/platform/sentinel"
)

// MemoryStore keeps donations in maps guarded by a single RWMutex. Records are
// copied on the way in and out so callers can never mutate stored state
// without going through Update.
type MemoryStore struct {
	mu            sync.RWMutex
	donations     map[id.DonationID]*ledger.Donation
	byExternalTx  map[string]id.DonationID
	byIdempotency map[string]id.DonationID
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		donations:     make(map[id.DonationID]*ledger.Donation),
		byExternalTx:  make(map[string]id.DonationID),
		byIdempotency: make(map[string]id.DonationID),
	}
}

func (s *MemoryStore) Create(_ context.Context, donation *ledger.Donation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.donations[donation.ID]; exists {
		return sentinel.ErrConflict
	}
	if donation.IdempotencyKey != "" {
		if _, exists := s.byIdempotency[donation.IdempotencyKey]; exists {
			return sentinel.ErrConflict
		}
	}
	if donation.ExternalTxID != "" {
		if _, exists := s.byExternalTx[donation.ExternalTxID]; exists {
			return sentinel.ErrConflict
		}
	}

	cp := *donation
	s.donations[donation.ID] = &cp
	if donation.IdempotencyKey != "" {
		s.byIdempotency[donation.IdempotencyKey] = donation.ID
	}
	if donation.ExternalTxID != "" {
		s.byExternalTx[donation.ExternalTxID] = donation.ID
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, donationID id.DonationID) (*ledger.Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, exists := s.donations[donationID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	cp := *stored
	return &cp, nil
}

func (s *MemoryStore) GetByExternalTxID(_ context.Context, externalTxID string) (*ledger.Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	donationID, exists := s.byExternalTx[externalTxID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.donations[donationID]
	return &cp, nil
}

func (s *MemoryStore) GetByIdempotencyKey(_ context.Context, key string) (*ledger.Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	donationID, exists := s.byIdempotency[key]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.donations[donationID]
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, donation *ledger.Donation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.donations[donation.ID]
	if !exists {
		return sentinel.ErrNotFound
	}
	if stored.Version != donation.Version {
		return sentinel.ErrConflict
	}

	// External tx id is write-once and unique among non-empty values.
	if donation.ExternalTxID != "" && donation.ExternalTxID != stored.ExternalTxID {
		if owner, taken := s.byExternalTx[donation.ExternalTxID]; taken && owner != donation.ID {
			return sentinel.ErrConflict
		}
		s.byExternalTx[donation.ExternalTxID] = donation.ID
	}

	cp := *donation
	cp.Version++
	cp.UpdatedAt = time.Now().UTC()
	s.donations[donation.ID] = &cp

	donation.Version = cp.Version
	donation.UpdatedAt = cp.UpdatedAt
	return nil
}
