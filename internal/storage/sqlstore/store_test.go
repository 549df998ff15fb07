package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/draw_auditor/internal/storage"
	"github.com/R3E-Network/draw_auditor/internal/winner"
)

var rowColumns = []string{
	"id", "draw_id", "draw_type", "epoch", "winner", "recorded_winner", "ticket",
	"final_randomness", "verified", "findings", "error", "created_at",
}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestCreateAuditPostgres(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO draw_audits`).
		WithArgs("a1", int64(9), "regular", int64(4), "inj1bob", "inj1bob", "150", "ab", true,
			`[{"code":"merkle_root_mismatch","detail":"x"}]`, "", at.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := store.CreateAudit(context.Background(), storage.AuditRecord{
		ID: "a1", DrawID: 9, DrawType: "regular", Epoch: 4, Winner: "inj1bob", RecordedWinner: "inj1bob",
		Ticket: "150", FinalRandomness: "ab", Verified: true, CreatedAt: at,
		Findings: []winner.Finding{{Code: winner.FindingMerkleRootMismatch, Detail: "x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "a1", rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAuditPropagatesError(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO draw_audits`).WillReturnError(errors.New("disk full"))

	_, err := store.CreateAudit(context.Background(), storage.AuditRecord{DrawID: 1, DrawType: "big"})
	assert.Error(t, err)
}

func TestGetAuditPostgres(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM draw_audits WHERE id = \$1`).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(rowColumns).
			AddRow("a1", 9, "big", 4, "inj1carol", "inj1dave", "700", "cd", false,
				`[{"code":"winner_mismatch","detail":"d"}]`, "", at.UnixMilli()))

	rec, err := store.GetAudit(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), rec.DrawID)
	assert.Equal(t, "inj1dave", rec.RecordedWinner)
	assert.False(t, rec.Verified)
	require.Len(t, rec.Findings, 1)
	assert.Equal(t, winner.FindingWinnerMismatch, rec.Findings[0].Code)
	assert.True(t, at.Equal(rec.CreatedAt))

	mock.ExpectQuery(`SELECT .* FROM draw_audits WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(rowColumns))
	_, err = store.GetAudit(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAuditsClampsLimit(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(`SELECT .* FROM draw_audits\s+WHERE draw_id = \$1\s+ORDER BY created_at DESC, id DESC\s+LIMIT \$2`).
		WithArgs(int64(3), storage.DefaultListLimit).
		WillReturnRows(sqlmock.NewRows(rowColumns))

	recs, err := store.ListAudits(context.Background(), 3, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "audits.db"))
	require.NoError(t, err)
	defer store.Close()

	has, err := store.HasAudit(ctx, 7)
	require.NoError(t, err)
	assert.False(t, has)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first, err := store.CreateAudit(ctx, storage.AuditRecord{DrawID: 7, DrawType: "regular", Winner: "inj1a", Verified: true, CreatedAt: base})
	require.NoError(t, err)
	second, err := store.CreateAudit(ctx, storage.AuditRecord{
		DrawID: 7, DrawType: "regular", Error: "commit mismatch", CreatedAt: base.Add(time.Minute),
		Findings: []winner.Finding{{Code: winner.FindingInclusionFailed, Detail: "proof"}},
	})
	require.NoError(t, err)
	_, err = store.CreateAudit(ctx, storage.AuditRecord{DrawID: 8, DrawType: "big", CreatedAt: base})
	require.NoError(t, err)

	got, err := store.GetAudit(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.True(t, got.Verified)
	assert.Empty(t, got.Findings)
	assert.True(t, base.Equal(got.CreatedAt))

	list, err := store.ListAudits(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, "commit mismatch", list[0].Error)
	assert.Len(t, list[0].Findings, 1)

	has, err = store.HasAudit(ctx, 7)
	require.NoError(t, err)
	assert.True(t, has)

	_, err = store.GetAudit(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn")
	assert.Error(t, err)
}
