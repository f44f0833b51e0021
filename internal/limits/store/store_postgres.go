package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tally/internal/limits"
)

// PostgresStore serializes aggregate updates with row locks inside a single
// transaction: the marker insert deduplicates, SELECT ... FOR UPDATE holds
// each key row, and the whole batch commits or rolls back together.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, key limits.AggregateKey) (*limits.DonorAggregate, error) {
	query := `
		SELECT total_cents, last_updated
		FROM donor_aggregates
		WHERE donor_fingerprint = $1 AND jurisdiction = $2 AND cycle_id = $3
	`
	agg := &limits.DonorAggregate{Key: key}
	err := s.pool.QueryRow(ctx, query, string(key.Donor), key.Jurisdiction, key.Cycle).
		Scan(&agg.TotalCents, &agg.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return agg, nil
		}
		return nil, fmt.Errorf("query donor aggregate: %w", err)
	}
	return agg, nil
}

func (s *PostgresStore) ApplyDelta(ctx context.Context, marker string, keys []limits.AggregateKey, delta int64) (bool, []limits.AggregateKey, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("begin aggregate tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// The marker row is the exactly-once guard: a redelivered transition
	// inserts nothing and the batch becomes a no-op.
	tag, err := tx.Exec(ctx,
		`INSERT INTO aggregate_markers (marker, applied_at) VALUES ($1, $2) ON CONFLICT (marker) DO NOTHING`,
		marker, time.Now())
	if err != nil {
		return false, nil, fmt.Errorf("insert aggregate marker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil, nil
	}

	var clamped []limits.AggregateKey
	for _, key := range keys {
		wasClamped, err := applyOne(ctx, tx, key, delta)
		if err != nil {
			return false, nil, err
		}
		if wasClamped {
			clamped = append(clamped, key)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, nil, fmt.Errorf("commit aggregate tx: %w", err)
	}
	return true, clamped, nil
}

func applyOne(ctx context.Context, tx pgx.Tx, key limits.AggregateKey, delta int64) (bool, error) {
	// Ensure the row exists, then lock it for the read-modify-write.
	_, err := tx.Exec(ctx, `
		INSERT INTO donor_aggregates (donor_fingerprint, jurisdiction, cycle_id, total_cents, last_updated)
		VALUES ($1, $2, $3, 0, NOW())
		ON CONFLICT (donor_fingerprint, jurisdiction, cycle_id) DO NOTHING
	`, string(key.Donor), key.Jurisdiction, key.Cycle)
	if err != nil {
		return false, fmt.Errorf("ensure aggregate row: %w", err)
	}

	var current int64
	err = tx.QueryRow(ctx, `
		SELECT total_cents FROM donor_aggregates
		WHERE donor_fingerprint = $1 AND jurisdiction = $2 AND cycle_id = $3
		FOR UPDATE
	`, string(key.Donor), key.Jurisdiction, key.Cycle).Scan(&current)
	if err != nil {
		return false, fmt.Errorf("lock aggregate row: %w", err)
	}

	next := current + delta
	clamped := false
	if next < 0 {
		next = 0
		clamped = true
	}

	_, err = tx.Exec(ctx, `
		UPDATE donor_aggregates
		SET total_cents = $1, last_updated = NOW()
		WHERE donor_fingerprint = $2 AND jurisdiction = $3 AND cycle_id = $4
	`, next, string(key.Donor), key.Jurisdiction, key.Cycle)
	if err != nil {
		return false, fmt.Errorf("update aggregate row: %w", err)
	}
	return clamped, nil
}
