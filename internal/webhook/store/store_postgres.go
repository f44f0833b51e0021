package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tally/internal/webhook"
	"tally/pkg/platform/sentinel"
)

// PostgresStore backs dedup records with a unique processor_event_id key, so
// the insert itself decides which concurrent delivery owns the event.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Record(ctx context.Context, rec *webhook.Record) (*webhook.Record, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_events (processor_event_id, payload_hash, received_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (processor_event_id) DO NOTHING
	`, rec.ProcessorEventID, rec.PayloadHash, rec.ReceivedAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert webhook event: %w", err)
	}
	if tag.RowsAffected() > 0 {
		cp := *rec
		return &cp, true, nil
	}

	existing, err := s.get(ctx, rec.ProcessorEventID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) get(ctx context.Context, processorEventID string) (*webhook.Record, error) {
	rec := &webhook.Record{ProcessorEventID: processorEventID}
	err := s.pool.QueryRow(ctx, `
		SELECT payload_hash, received_at, processed_at
		FROM webhook_events
		WHERE processor_event_id = $1
	`, processorEventID).Scan(&rec.PayloadHash, &rec.ReceivedAt, &rec.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("query webhook event: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, processorEventID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_events SET processed_at = $1
		WHERE processor_event_id = $2 AND processed_at IS NULL
	`, at, processorEventID)
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already stamped by a concurrent delivery, or never recorded.
		existing, getErr := s.get(ctx, processorEventID)
		if getErr != nil {
			return getErr
		}
		if !existing.Processed() {
			return sentinel.ErrNotFound
		}
	}
	return nil
}
