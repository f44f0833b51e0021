package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tally/internal/refund"
	id "tally/pkg/domain"
	"tally/pkg/platform/sentinel"
)

// PostgresStore persists refund records. processor_ref carries a partial
// unique index so two confirmations can never attach to different refunds.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const refundColumns = `id, donation_id, amount_cents, status, COALESCE(processor_ref, ''), requested_by, reason, created_at, updated_at, confirmed_at`

func (s *PostgresStore) Create(ctx context.Context, r *refund.Refund) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refunds (id, donation_id, amount_cents, status, processor_ref, requested_by, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
	`, uuid.UUID(r.ID), uuid.UUID(r.DonationID), r.AmountCents, string(r.Status),
		r.ProcessorRef, r.RequestedBy, r.Reason, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, refundID id.RefundID) (*refund.Refund, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE id = $1`, uuid.UUID(refundID))
	return scanRefund(row)
}

func (s *PostgresStore) GetByProcessorRef(ctx context.Context, processorRef string) (*refund.Refund, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE processor_ref = $1`, processorRef)
	return scanRefund(row)
}

func (s *PostgresStore) ListByDonation(ctx context.Context, donationID id.DonationID) ([]*refund.Refund, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE donation_id = $1 ORDER BY created_at`, uuid.UUID(donationID))
	if err != nil {
		return nil, fmt.Errorf("query refunds: %w", err)
	}
	defer rows.Close()

	var out []*refund.Refund
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, r *refund.Refund) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refunds
		SET status = $1, processor_ref = NULLIF($2, ''), confirmed_at = $3, updated_at = NOW()
		WHERE id = $4
	`, string(r.Status), r.ProcessorRef, r.ConfirmedAt, uuid.UUID(r.ID))
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRefund(row rowScanner) (*refund.Refund, error) {
	var r refund.Refund
	var refundID, donationID uuid.UUID
	var status string
	err := row.Scan(&refundID, &donationID, &r.AmountCents, &status, &r.ProcessorRef,
		&r.RequestedBy, &r.Reason, &r.CreatedAt, &r.UpdatedAt, &r.ConfirmedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan refund: %w", err)
	}
	r.ID = id.RefundID(refundID)
	r.DonationID = id.DonationID(donationID)
	r.Status = refund.Status(status)
	return &r, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
