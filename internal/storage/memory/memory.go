// Package memory is an in-memory AuditStore for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/draw_auditor/internal/storage"
	"github.com/R3E-Network/draw_auditor/internal/winner"
)

// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	audits map[string]storage.AuditRecord
	byDraw map[uint64][]string
}

var _ storage.AuditStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		audits: make(map[string]storage.AuditRecord),
		byDraw: make(map[uint64][]string),
	}
}

func (s *Store) CreateAudit(_ context.Context, rec storage.AuditRecord) (storage.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.CreatedAt = rec.CreatedAt.Truncate(time.Millisecond)
	rec.Findings = append([]winner.Finding(nil), rec.Findings...)
	s.audits[rec.ID] = rec
	s.byDraw[rec.DrawID] = append(s.byDraw[rec.DrawID], rec.ID)
	return rec, nil
}

func (s *Store) GetAudit(_ context.Context, id string) (storage.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.audits[id]
	if !ok {
		return storage.AuditRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ListAudits(_ context.Context, drawID uint64, limit int) ([]storage.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byDraw[drawID]
	out := make([]storage.AuditRecord, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, s.audits[ids[i]])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit = storage.ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) HasAudit(_ context.Context, drawID uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byDraw[drawID]) > 0, nil
}
