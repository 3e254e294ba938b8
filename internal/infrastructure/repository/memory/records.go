// Package memory holds process-local stores for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

type Option func(*RecordStore)

// WithClock sets the time used to hide expired records from reads.
func WithClock(now func() time.Time) Option {
	return func(s *RecordStore) {
		if now != nil {
			s.now = now
		}
	}
}

type RecordStore struct {
	mu      sync.RWMutex
	records map[string]*domain.MissionRecord
	now     func() time.Time
}

func NewRecordStore(opts ...Option) *RecordStore {
	s := &RecordStore{
		records: make(map[string]*domain.MissionRecord),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RecordStore) Put(_ context.Context, record *domain.MissionRecord) error {
	if record == nil || record.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "put record", errors.New("record id is required"))
	}
	if record.ExpiresAt.IsZero() {
		return domain.WrapError(domain.ErrInvalidInput, "put record", errors.New("expires_at is required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return domain.WrapError(domain.ErrInvalidInput, "put record", fmt.Errorf("duplicate id %s", record.ID))
	}
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *RecordStore) Get(_ context.Context, id string) (*domain.MissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok || !s.live(rec) {
		return nil, domain.WrapError(domain.ErrRecordNotFound, "get record", fmt.Errorf("id %s", id))
	}
	return rec.Clone(), nil
}

func (s *RecordStore) QueryByServerAndWindow(_ context.Context, serverID string, window domain.TimeRange) ([]domain.MissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MissionRecord, 0)
	for _, rec := range s.records {
		if rec.ServerID == serverID && window.Contains(rec.MissionAt) && s.live(rec) {
			out = append(out, *rec.Clone())
		}
	}
	sortRecords(out, func(r domain.MissionRecord) time.Time { return r.MissionAt })
	return out, nil
}

func (s *RecordStore) DeleteByID(_ context.Context, id string) ([]string, error) {
	return s.deleteWhere(func(r *domain.MissionRecord) bool { return r.ID == id }), nil
}

func (s *RecordStore) DeleteByUser(_ context.Context, userID string) ([]string, error) {
	return s.deleteWhere(func(r *domain.MissionRecord) bool { return r.SubmitterID == userID }), nil
}

func (s *RecordStore) DeleteByServer(_ context.Context, serverID string) ([]string, error) {
	return s.deleteWhere(func(r *domain.MissionRecord) bool { return r.ServerID == serverID }), nil
}

// PurgeExpired snapshots expiry times first and deletes a record only if its
// expiry is unchanged, so records written during the purge survive it.
func (s *RecordStore) PurgeExpired(_ context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	snapshot := make(map[string]time.Time)
	for id, rec := range s.records {
		if rec.ExpiresAt.Before(now) {
			snapshot[id] = rec.ExpiresAt
		}
	}
	s.mu.RUnlock()

	if len(snapshot) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := make([]string, 0, len(snapshot))
	for id, expiresAt := range snapshot {
		rec, ok := s.records[id]
		if !ok || !rec.ExpiresAt.Equal(expiresAt) {
			continue
		}
		delete(s.records, id)
		removed = append(removed, id)
	}
	sort.Strings(removed)
	return removed, nil
}

func (s *RecordStore) ListForAudit(_ context.Context, window domain.TimeRange, statuses []domain.RecordStatus) ([]domain.MissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MissionRecord, 0)
	for _, rec := range s.records {
		if window.Contains(rec.CreatedAt) && slices.Contains(statuses, rec.Status) && s.live(rec) {
			out = append(out, *rec.Clone())
		}
	}
	sortRecords(out, func(r domain.MissionRecord) time.Time { return r.CreatedAt })
	return out, nil
}

func (s *RecordStore) ApplyAudit(_ context.Context, id string, patch domain.AuditPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || !s.live(rec) {
		return domain.WrapError(domain.ErrRecordNotFound, "apply audit", fmt.Errorf("id %s", id))
	}

	patched := (&domain.MissionRecord{Fields: patch.Fields, Flagged: patch.Flagged}).Clone()
	rec.Fields = patched.Fields
	rec.Flagged = patched.Flagged
	rec.AuditState = patch.AuditState
	auditedAt := patch.AuditedAt
	rec.AuditedAt = &auditedAt
	return nil
}

func (s *RecordStore) deleteWhere(match func(*domain.MissionRecord) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, rec := range s.records {
		if match(rec) {
			delete(s.records, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

func (s *RecordStore) live(rec *domain.MissionRecord) bool {
	return !rec.ExpiresAt.Before(s.now())
}

func sortRecords(records []domain.MissionRecord, key func(domain.MissionRecord) time.Time) {
	sort.Slice(records, func(i, j int) bool {
		ki, kj := key(records[i]), key(records[j])
		if !ki.Equal(kj) {
			return ki.Before(kj)
		}
		return records[i].ID < records[j].ID
	})
}
