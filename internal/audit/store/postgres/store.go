package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tally/internal/audit"
	id "tally/pkg/domain"
	txcontext "tally/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern. Every
// Append writes the immutable audit_entries row and an outbox row in the same
// transaction; the outbox worker publishes staged rows to Kafka.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execer joins an in-flight transaction from context when the ledger store
// put one there, so the audit write commits or rolls back with the mutation.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka. Field names match
// audit.Entry for deserialization by downstream consumers.
type outboxPayload struct {
	ID             string `json:"ID"`
	Action         string `json:"Action"`
	Category       string `json:"Category"`
	DonationID     string `json:"DonationID,omitempty"`
	FromState      string `json:"FromState,omitempty"`
	ToState        string `json:"ToState,omitempty"`
	Trigger        string `json:"Trigger,omitempty"`
	Timestamp      string `json:"Timestamp"`
	CausingEventID string `json:"CausingEventID,omitempty"`
	Donor          string `json:"Donor,omitempty"`
	Jurisdiction   string `json:"Jurisdiction,omitempty"`
	AmountCents    int64  `json:"AmountCents,omitempty"`
	Reason         string `json:"Reason,omitempty"`
	RequestID      string `json:"RequestID,omitempty"`
}

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	entryID := uuid.UUID(entry.ID)
	if entryID == uuid.Nil {
		entryID = uuid.New()
	}

	var donationID *uuid.UUID
	if !entry.DonationID.IsNil() {
		d := uuid.UUID(entry.DonationID)
		donationID = &d
	}

	execer := s.execer(ctx)

	insertEntry := `
		INSERT INTO audit_entries (
			id, action, category, donation_id, from_state, to_state,
			trigger, timestamp, causing_event_id, donor_fingerprint,
			jurisdiction, amount_cents, reason, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := execer.ExecContext(ctx, insertEntry,
		entryID,
		string(entry.Action),
		string(entry.Action.Category()),
		donationID,
		entry.FromState,
		entry.ToState,
		string(entry.Trigger),
		entry.Timestamp,
		entry.CausingEventID,
		string(entry.Donor),
		entry.Jurisdiction,
		entry.AmountCents,
		entry.Reason,
		entry.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	payload := outboxPayload{
		ID:             entryID.String(),
		Action:         string(entry.Action),
		Category:       string(entry.Action.Category()),
		FromState:      entry.FromState,
		ToState:        entry.ToState,
		Trigger:        string(entry.Trigger),
		Timestamp:      entry.Timestamp.Format(time.RFC3339Nano),
		CausingEventID: entry.CausingEventID,
		Donor:          string(entry.Donor),
		Jurisdiction:   entry.Jurisdiction,
		AmountCents:    entry.AmountCents,
		Reason:         entry.Reason,
		RequestID:      entry.RequestID,
	}
	if donationID != nil {
		payload.DonationID = donationID.String()
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	// Partition key: entries for one donation stay ordered on the topic.
	key := entryID.String()
	if donationID != nil {
		key = donationID.String()
	}

	insertOutbox := `
		INSERT INTO audit_outbox (id, partition_key, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = execer.ExecContext(ctx, insertOutbox, uuid.New(), key, payloadBytes, time.Now())
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *Store) ListByDonation(ctx context.Context, donationID id.DonationID) ([]audit.Entry, error) {
	query := selectEntries + ` WHERE donation_id = $1 ORDER BY timestamp ASC`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(donationID))
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *Store) ListAll(ctx context.Context) ([]audit.Entry, error) {
	query := selectEntries + ` ORDER BY timestamp ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

const selectEntries = `
	SELECT id, action, donation_id, from_state, to_state, trigger,
		   timestamp, causing_event_id, donor_fingerprint, jurisdiction,
		   amount_cents, reason, request_id
	FROM audit_entries`

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry

	for rows.Next() {
		var (
			entry      audit.Entry
			entryID    uuid.UUID
			action     string
			donationID *uuid.UUID
			trigger    string
			donor      string
		)

		err := rows.Scan(
			&entryID,
			&action,
			&donationID,
			&entry.FromState,
			&entry.ToState,
			&trigger,
			&entry.Timestamp,
			&entry.CausingEventID,
			&donor,
			&entry.Jurisdiction,
			&entry.AmountCents,
			&entry.Reason,
			&entry.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		entry.ID = id.AuditEntryID(entryID)
		entry.Action = audit.Action(action)
		entry.Trigger = audit.Trigger(trigger)
		entry.Donor = id.DonorFingerprint(donor)
		if donationID != nil {
			entry.DonationID = id.DonationID(*donationID)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

// -----------------------------------------------------------------------------
// Outbox surface consumed by the Kafka publisher worker
// -----------------------------------------------------------------------------

func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]audit.OutboxRow, error) {
	query := `
		SELECT id, partition_key, payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []audit.OutboxRow
	for rows.Next() {
		var (
			rowID   uuid.UUID
			row     audit.OutboxRow
			payload []byte
		)
		if err := rows.Scan(&rowID, &row.Key, &payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		row.ID = rowID.String()
		row.Payload = payload
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return out, nil
}

func (s *Store) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE audit_outbox SET published_at = $1 WHERE id = ANY($2)`
	if _, err := s.db.ExecContext(ctx, query, time.Now(), pq.Array(ids)); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_outbox WHERE published_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count outbox backlog: %w", err)
	}
	return count, nil
}
