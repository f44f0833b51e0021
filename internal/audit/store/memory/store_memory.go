package memory

import (
	"context"
	"sync"

	"tally/internal/audit"
	id "tally/pkg/domain"
)

// Store keeps audit entries in insertion order. Used in tests and when no
// Postgres DSN is configured.
type Store struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *Store) ListByDonation(_ context.Context, donationID id.DonationID) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	for _, e := range s.entries {
		if e.DonationID == donationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ListAll(_ context.Context) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]audit.Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}
