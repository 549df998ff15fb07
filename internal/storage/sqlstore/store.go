// Package sqlstore implements storage.AuditStore on PostgreSQL or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/R3E-Network/draw_auditor/internal/storage"
	"github.com/R3E-Network/draw_auditor/internal/storage/migrations"
	"github.com/R3E-Network/draw_auditor/internal/winner"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store is an AuditStore backed by a SQL database.
type Store struct {
	db *sqlx.DB
}

var _ storage.AuditStore = (*Store)(nil)

// New wraps an open handle. The schema must already exist.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to driver/dsn and applies migrations.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// :memory: databases are per connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type auditRow struct {
	ID              string `db:"id"`
	DrawID          int64  `db:"draw_id"`
	DrawType        string `db:"draw_type"`
	Epoch           int64  `db:"epoch"`
	Winner          string `db:"winner"`
	RecordedWinner  string `db:"recorded_winner"`
	Ticket          string `db:"ticket"`
	FinalRandomness string `db:"final_randomness"`
	Verified        bool   `db:"verified"`
	Findings        string `db:"findings"`
	Error           string `db:"error"`
	CreatedAt       int64  `db:"created_at"`
}

const columns = "id, draw_id, draw_type, epoch, winner, recorded_winner, ticket, final_randomness, verified, findings, error, created_at"

func toRow(rec storage.AuditRecord) (auditRow, error) {
	findings := rec.Findings
	if findings == nil {
		findings = []winner.Finding{}
	}
	raw, err := json.Marshal(findings)
	if err != nil {
		return auditRow{}, err
	}
	return auditRow{
		ID:              rec.ID,
		DrawID:          int64(rec.DrawID),
		DrawType:        rec.DrawType,
		Epoch:           int64(rec.Epoch),
		Winner:          rec.Winner,
		RecordedWinner:  rec.RecordedWinner,
		Ticket:          rec.Ticket,
		FinalRandomness: rec.FinalRandomness,
		Verified:        rec.Verified,
		Findings:        string(raw),
		Error:           rec.Error,
		CreatedAt:       rec.CreatedAt.UnixMilli(),
	}, nil
}

func (r auditRow) record() (storage.AuditRecord, error) {
	var findings []winner.Finding
	if r.Findings != "" {
		if err := json.Unmarshal([]byte(r.Findings), &findings); err != nil {
			return storage.AuditRecord{}, fmt.Errorf("audit %s findings: %w", r.ID, err)
		}
	}
	return storage.AuditRecord{
		ID:              r.ID,
		DrawID:          uint64(r.DrawID),
		DrawType:        r.DrawType,
		Epoch:           uint64(r.Epoch),
		Winner:          r.Winner,
		RecordedWinner:  r.RecordedWinner,
		Ticket:          r.Ticket,
		FinalRandomness: r.FinalRandomness,
		Verified:        r.Verified,
		Findings:        findings,
		Error:           r.Error,
		CreatedAt:       time.UnixMilli(r.CreatedAt).UTC(),
	}, nil
}

func (s *Store) CreateAudit(ctx context.Context, rec storage.AuditRecord) (storage.AuditRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.CreatedAt = rec.CreatedAt.Truncate(time.Millisecond)

	row, err := toRow(rec)
	if err != nil {
		return storage.AuditRecord{}, err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO draw_audits (`+columns+`)
		VALUES (:id, :draw_id, :draw_type, :epoch, :winner, :recorded_winner, :ticket,
			:final_randomness, :verified, :findings, :error, :created_at)
	`, row)
	if err != nil {
		return storage.AuditRecord{}, fmt.Errorf("insert audit: %w", err)
	}
	return rec, nil
}

func (s *Store) GetAudit(ctx context.Context, id string) (storage.AuditRecord, error) {
	var row auditRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+columns+` FROM draw_audits WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.AuditRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.AuditRecord{}, err
	}
	return row.record()
}

func (s *Store) ListAudits(ctx context.Context, drawID uint64, limit int) ([]storage.AuditRecord, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+columns+` FROM draw_audits
		WHERE draw_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`), int64(drawID), storage.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	out := make([]storage.AuditRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) HasAudit(ctx context.Context, drawID uint64) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM draw_audits WHERE draw_id = ?`), int64(drawID))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
