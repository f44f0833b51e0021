//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schema is the full engine schema. Integration tests apply it once per
// container; production deploys run the equivalent migrations.
const schema = `
CREATE TABLE IF NOT EXISTS donations (
	id UUID PRIMARY KEY,
	amount_cents BIGINT NOT NULL,
	currency TEXT NOT NULL,
	donor_fingerprint TEXT NOT NULL,
	fundraiser_id TEXT NOT NULL,
	organization_id TEXT NOT NULL DEFAULT '',
	jurisdiction TEXT NOT NULL,
	state TEXT NOT NULL,
	external_tx_id TEXT UNIQUE,
	idempotency_key TEXT UNIQUE,
	failure_reason TEXT NOT NULL DEFAULT '',
	version BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_donations_donor
	ON donations (donor_fingerprint, jurisdiction);

CREATE TABLE IF NOT EXISTS audit_entries (
	id UUID PRIMARY KEY,
	action TEXT NOT NULL,
	category TEXT NOT NULL,
	donation_id UUID,
	from_state TEXT NOT NULL DEFAULT '',
	to_state TEXT NOT NULL DEFAULT '',
	trigger TEXT NOT NULL DEFAULT '',
	timestamp TIMESTAMPTZ NOT NULL,
	causing_event_id TEXT NOT NULL DEFAULT '',
	donor_fingerprint TEXT NOT NULL DEFAULT '',
	jurisdiction TEXT NOT NULL DEFAULT '',
	amount_cents BIGINT NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT '',
	request_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_entries_donation
	ON audit_entries (donation_id, timestamp);

CREATE TABLE IF NOT EXISTS audit_outbox (
	id UUID PRIMARY KEY,
	partition_key TEXT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	published_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_audit_outbox_pending
	ON audit_outbox (created_at) WHERE published_at IS NULL;

CREATE TABLE IF NOT EXISTS reconcile_items (
	id UUID PRIMARY KEY,
	kind TEXT NOT NULL,
	donation_id UUID,
	external_ref TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	resolved_at TIMESTAMPTZ,
	resolved_by TEXT
);

CREATE TABLE IF NOT EXISTS donor_aggregates (
	donor_fingerprint TEXT NOT NULL,
	jurisdiction TEXT NOT NULL,
	cycle_id TEXT NOT NULL,
	total_cents BIGINT NOT NULL DEFAULT 0,
	last_updated TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (donor_fingerprint, jurisdiction, cycle_id)
);

CREATE TABLE IF NOT EXISTS aggregate_markers (
	marker TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_events (
	processor_event_id TEXT PRIMARY KEY,
	payload_hash TEXT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS refunds (
	id UUID PRIMARY KEY,
	donation_id UUID NOT NULL,
	amount_cents BIGINT NOT NULL,
	status TEXT NOT NULL,
	processor_ref TEXT,
	requested_by TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	confirmed_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_refunds_processor_ref
	ON refunds (processor_ref) WHERE processor_ref IS NOT NULL;
`

// PostgresContainer wraps a testcontainers Postgres instance with both
// connection flavors the stores use: a pgx pool and a database/sql handle.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	Pool      *pgxpool.Pool
	DB        *sql.DB
}

// NewPostgresContainer starts Postgres, waits for readiness, and applies the
// schema.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:17-alpine",
		tcpostgres.WithDatabase("tally_test"),
		tcpostgres.WithUsername("tally"),
		tcpostgres.WithPassword("tally"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to create pgx pool: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open sql db: %v", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	// Shared across suites via the Manager; Ryuk terminates the container.
	return &PostgresContainer{
		Container: container,
		DSN:       dsn,
		Pool:      pool,
		DB:        db,
	}
}

// TruncateTables empties the given tables. Use between tests for isolation.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", strings.Join(tables, ", ")))
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
