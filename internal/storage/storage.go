// Package storage defines persistence for draw audit results.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/draw_auditor/internal/winner"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("storage: not found")

// AuditRecord is one stored audit run for a draw.
type AuditRecord struct {
	ID              string           `json:"id"`
	DrawID          uint64           `json:"draw_id"`
	DrawType        string           `json:"draw_type"`
	Epoch           uint64           `json:"epoch"`
	Winner          string           `json:"winner,omitempty"`
	RecordedWinner  string           `json:"recorded_winner,omitempty"`
	Ticket          string           `json:"ticket,omitempty"`
	FinalRandomness string           `json:"final_randomness,omitempty"`
	Verified        bool             `json:"verified"`
	Findings        []winner.Finding `json:"findings"`
	Error           string           `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// AuditStore persists audit records.
type AuditStore interface {
	CreateAudit(ctx context.Context, rec AuditRecord) (AuditRecord, error)
	GetAudit(ctx context.Context, id string) (AuditRecord, error)
	// ListAudits returns the newest records for a draw first.
	ListAudits(ctx context.Context, drawID uint64, limit int) ([]AuditRecord, error)
	HasAudit(ctx context.Context, drawID uint64) (bool, error)
}

// DefaultListLimit caps ListAudits when limit <= 0.
const DefaultListLimit = 50

// ClampLimit applies DefaultListLimit.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}
