package service

import (
	"context"
	"fmt"

	"tally/internal/audit"
	"tally/internal/ledger"
	"tally/internal/limits"
)

// Replay rebuilds donor aggregates from the audit trail. Run it against an
// empty aggregate store after data loss or a suspected drift; it derives the
// same markers live traffic uses, so a transition redelivered after the
// rebuild still applies at most once.
//
// Only transition_applied entries carry aggregate weight. Rejections, clamps,
// and webhook drops are recorded for compliance but contribute nothing.
func (s *Service) Replay(ctx context.Context, entries []audit.Entry) (int, error) {
	applied := 0
	for _, entry := range entries {
		if entry.Action != audit.ActionTransitionApplied || entry.AmountCents == 0 {
			continue
		}

		marker, ok := replayMarker(entry)
		if !ok {
			return applied, fmt.Errorf("audit entry %s has aggregate weight but no derivable marker", entry.ID)
		}

		windows := s.config.ActiveWindows(entry.Jurisdiction, entry.Timestamp)
		keys := make([]limits.AggregateKey, 0, len(windows))
		for _, w := range windows {
			keys = append(keys, limits.AggregateKey{
				Donor:        entry.Donor,
				Jurisdiction: entry.Jurisdiction,
				Cycle:        w.Cycle,
			})
		}
		if len(keys) == 0 {
			continue
		}

		didApply, _, err := s.store.ApplyDelta(ctx, marker, keys, entry.AmountCents)
		if err != nil {
			return applied, fmt.Errorf("replay entry %s: %w", entry.ID, err)
		}
		if didApply {
			applied++
		}
	}
	s.logger.InfoContext(ctx, "aggregate replay finished", "entries_applied", applied)
	return applied, nil
}

// replayMarker reconstructs the marker the live path used for an entry.
func replayMarker(entry audit.Entry) (string, bool) {
	switch {
	case entry.ToState == string(ledger.StateCompleted) && entry.FromState != string(ledger.StateCompleted):
		return entry.DonationID.String() + ":" + string(ledger.EventChargeCompleted), true
	case entry.ToState == string(ledger.StateRefunded):
		return entry.DonationID.String() + ":" + string(ledger.EventRefundConfirmed), true
	case entry.FromState == string(ledger.StateCompleted) && entry.ToState == string(ledger.StateCompleted) && entry.AmountCents < 0:
		// Partial refunds leave the state untouched; the refund id keys them.
		if entry.CausingEventID == "" {
			return "", false
		}
		return "refund:" + entry.CausingEventID, true
	}
	return "", false
}
