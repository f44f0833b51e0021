package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tally/internal/ledger"
	id "tally/pkg/domain"
	"tally/pkg/platform/sentinel"
)

// PostgresStore persists donations with optimistic versioning: Update only
// writes when the stored version matches, so two processes racing on the same
// donation serialize through retry rather than silently losing a write.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PostgresStore) Create(ctx context.Context, donation *ledger.Donation) error {
	query := `
		INSERT INTO donations (
			id, amount_cents, currency, donor_fingerprint, fundraiser_id,
			organization_id, jurisdiction, state, external_tx_id,
			idempotency_key, failure_reason, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13, $14)
	`
	_, err := s.pool.Exec(ctx, query,
		uuid.UUID(donation.ID),
		donation.AmountCents,
		donation.Currency,
		string(donation.Donor),
		donation.FundraiserID,
		donation.OrganizationID,
		donation.Jurisdiction,
		string(donation.State),
		donation.ExternalTxID,
		donation.IdempotencyKey,
		donation.FailureReason,
		donation.Version,
		donation.CreatedAt,
		donation.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert donation: %w", err)
	}
	return nil
}

const selectDonation = `
	SELECT id, amount_cents, currency, donor_fingerprint, fundraiser_id,
		   organization_id, jurisdiction, state, COALESCE(external_tx_id, ''),
		   COALESCE(idempotency_key, ''), failure_reason, version, created_at, updated_at
	FROM donations`

func (s *PostgresStore) Get(ctx context.Context, donationID id.DonationID) (*ledger.Donation, error) {
	row := s.pool.QueryRow(ctx, selectDonation+` WHERE id = $1`, uuid.UUID(donationID))
	return scanDonation(row)
}

func (s *PostgresStore) GetByExternalTxID(ctx context.Context, externalTxID string) (*ledger.Donation, error) {
	row := s.pool.QueryRow(ctx, selectDonation+` WHERE external_tx_id = $1`, externalTxID)
	return scanDonation(row)
}

func (s *PostgresStore) GetByIdempotencyKey(ctx context.Context, key string) (*ledger.Donation, error) {
	row := s.pool.QueryRow(ctx, selectDonation+` WHERE idempotency_key = $1`, key)
	return scanDonation(row)
}

func (s *PostgresStore) Update(ctx context.Context, donation *ledger.Donation) error {
	query := `
		UPDATE donations
		SET state = $1,
			external_tx_id = NULLIF($2, ''),
			failure_reason = $3,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $4 AND version = $5
		RETURNING version, updated_at
	`
	err := s.pool.QueryRow(ctx, query,
		string(donation.State),
		donation.ExternalTxID,
		donation.FailureReason,
		uuid.UUID(donation.ID),
		donation.Version,
	).Scan(&donation.Version, &donation.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the row is gone or the version moved underneath us;
			// distinguish so callers can retry conflicts.
			var exists bool
			checkErr := s.pool.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM donations WHERE id = $1)`,
				uuid.UUID(donation.ID)).Scan(&exists)
			if checkErr == nil && !exists {
				return sentinel.ErrNotFound
			}
			return sentinel.ErrConflict
		}
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update donation: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDonation(row rowScanner) (*ledger.Donation, error) {
	var (
		donation   ledger.Donation
		donationID uuid.UUID
		donor      string
		state      string
	)
	err := row.Scan(
		&donationID,
		&donation.AmountCents,
		&donation.Currency,
		&donor,
		&donation.FundraiserID,
		&donation.OrganizationID,
		&donation.Jurisdiction,
		&state,
		&donation.ExternalTxID,
		&donation.IdempotencyKey,
		&donation.FailureReason,
		&donation.Version,
		&donation.CreatedAt,
		&donation.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan donation: %w", err)
	}
	donation.ID = id.DonationID(donationID)
	donation.Donor = id.DonorFingerprint(donor)
	donation.State = ledger.State(state)
	return &donation, nil
}
