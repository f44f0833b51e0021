package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	id "tally/pkg/domain"
	"tally/pkg/platform/sentinel"
)

// PostgresStore persists review items.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Add(ctx context.Context, item *Item) error {
	query := `
		INSERT INTO reconcile_items (
			id, kind, donation_id, external_ref, detail, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	var donationID *uuid.UUID
	if !item.DonationID.IsNil() {
		d := uuid.UUID(item.DonationID)
		donationID = &d
	}
	_, err := s.pool.Exec(ctx, query,
		uuid.UUID(item.ID),
		string(item.Kind),
		donationID,
		item.ExternalRef,
		item.Detail,
		string(item.Status),
		item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reconcile item: %w", err)
	}
	return nil
}

const selectItem = `
	SELECT id, kind, donation_id, external_ref, detail, status,
		   created_at, resolved_at, COALESCE(resolved_by, '')
	FROM reconcile_items`

func (s *PostgresStore) Get(ctx context.Context, itemID id.ReconcileItemID) (*Item, error) {
	row := s.pool.QueryRow(ctx, selectItem+` WHERE id = $1`, uuid.UUID(itemID))
	item, err := scanItem(row)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *PostgresStore) ListOpen(ctx context.Context) ([]*Item, error) {
	rows, err := s.pool.Query(ctx, selectItem+` WHERE status = 'open' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query reconcile items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reconcile items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Resolve(ctx context.Context, itemID id.ReconcileItemID, resolvedBy string) error {
	query := `
		UPDATE reconcile_items
		SET status = 'resolved', resolved_at = $1, resolved_by = $2
		WHERE id = $3 AND status = 'open'
	`
	tag, err := s.pool.Exec(ctx, query, time.Now(), resolvedBy, uuid.UUID(itemID))
	if err != nil {
		return fmt.Errorf("resolve reconcile item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already resolved: the latter is a no-op.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM reconcile_items WHERE id = $1)`,
			uuid.UUID(itemID)).Scan(&exists); err != nil {
			return fmt.Errorf("check reconcile item: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item       Item
		itemID     uuid.UUID
		kind       string
		donationID *uuid.UUID
		status     string
	)
	err := row.Scan(
		&itemID,
		&kind,
		&donationID,
		&item.ExternalRef,
		&item.Detail,
		&status,
		&item.CreatedAt,
		&item.ResolvedAt,
		&item.ResolvedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan reconcile item: %w", err)
	}
	item.ID = id.ReconcileItemID(itemID)
	item.Kind = Kind(kind)
	item.Status = Status(status)
	if donationID != nil {
		item.DonationID = id.DonationID(*donationID)
	}
	return &item, nil
}
