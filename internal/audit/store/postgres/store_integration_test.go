//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tally/internal/audit"
	auditpg "tally/internal/audit/store/postgres"
	id "tally/pkg/domain"
	txcontext "tally/pkg/platform/tx"
	"tally/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *auditpg.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = auditpg.New(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "audit_entries", "audit_outbox")
	s.Require().NoError(err)
}

func entry(donationID id.DonationID) audit.Entry {
	return audit.Entry{
		ID:             id.NewAuditEntryID(),
		Action:         audit.ActionTransitionApplied,
		DonationID:     donationID,
		FromState:      "processing",
		ToState:        "completed",
		Trigger:        audit.TriggerWebhook,
		Timestamp:      time.Now().UTC().Truncate(time.Microsecond),
		CausingEventID: "evt-audit-1",
		Donor:          "dnr_audit",
		Jurisdiction:   "US-FED",
		AmountCents:    500_00,
	}
}

func (s *PostgresStoreSuite) TestAppendStagesOutbox() {
	ctx := context.Background()
	donationID := id.NewDonationID()
	e := entry(donationID)
	s.Require().NoError(s.store.Append(ctx, e))

	entries, err := s.store.ListByDonation(ctx, donationID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(audit.ActionTransitionApplied, entries[0].Action)
	s.Equal(int64(500_00), entries[0].AmountCents)

	rows, err := s.store.PendingOutbox(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	// Partition key groups a donation's entries onto one partition.
	s.Equal(donationID.String(), rows[0].Key)

	var payload map[string]any
	s.Require().NoError(json.Unmarshal(rows[0].Payload, &payload))
	s.Equal("transition_applied", payload["Action"])
	s.Equal("compliance", payload["Category"])

	count, err := s.store.PendingCount(ctx)
	s.Require().NoError(err)
	s.Equal(1, count)

	s.Require().NoError(s.store.MarkPublished(ctx, []string{rows[0].ID}))
	count, err = s.store.PendingCount(ctx)
	s.Require().NoError(err)
	s.Equal(0, count)
}

func (s *PostgresStoreSuite) TestAppendIsIdempotentOnEntryID() {
	ctx := context.Background()
	donationID := id.NewDonationID()
	e := entry(donationID)

	s.Require().NoError(s.store.Append(ctx, e))
	s.Require().NoError(s.store.Append(ctx, e))

	entries, err := s.store.ListByDonation(ctx, donationID)
	s.Require().NoError(err)
	s.Len(entries, 1, "re-appending the same entry id must not duplicate the trail")
}

func (s *PostgresStoreSuite) TestAppendJoinsCallerTransaction() {
	ctx := context.Background()
	donationID := id.NewDonationID()

	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)

	err = s.store.Append(txcontext.WithTx(ctx, tx), entry(donationID))
	s.Require().NoError(err)
	s.Require().NoError(tx.Rollback())

	entries, err := s.store.ListByDonation(ctx, donationID)
	s.Require().NoError(err)
	s.Empty(entries, "a rolled-back mutation must take its audit write with it")

	count, err := s.store.PendingCount(ctx)
	s.Require().NoError(err)
	s.Equal(0, count)
}

func (s *PostgresStoreSuite) TestListAllOrdersByTimestamp() {
	ctx := context.Background()
	donationID := id.NewDonationID()

	older := entry(donationID)
	older.Timestamp = older.Timestamp.Add(-time.Hour)
	newer := entry(donationID)

	s.Require().NoError(s.store.Append(ctx, newer))
	s.Require().NoError(s.store.Append(ctx, older))

	entries, err := s.store.ListAll(ctx)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.True(entries[0].Timestamp.Before(entries[1].Timestamp))
}
