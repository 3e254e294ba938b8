package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/mission-stats/internal/core/domain"
	"github.com/kirillkom/mission-stats/internal/infrastructure/repository/memory"
)

func storedRecord(id, user, server string, created time.Time) *domain.MissionRecord {
	return &domain.MissionRecord{
		ID:          id,
		SubmitterID: user,
		ServerID:    server,
		MissionAt:   created,
		CreatedAt:   created,
		ExpiresAt:   created.Add(DefaultRetention),
		Layout:      domain.LayoutRef{Resolution: "1920x1080", Version: 2},
		Fields: []domain.RecordField{
			{Name: "p1_kills", Kind: domain.KindCounter, Raw: "42", Value: &domain.Value{Kind: domain.KindCounter, Int: 42}, Confidence: 1},
		},
		Confidence: 1,
		Status:     domain.StatusAccepted,
		AuditState: domain.AuditNone,
	}
}

func seedStore(t *testing.T, store *memory.RecordStore, evidence *evidenceFake, records ...*domain.MissionRecord) {
	t.Helper()
	for _, rec := range records {
		if err := store.Put(context.Background(), rec); err != nil {
			t.Fatalf("Put(%s) error = %v", rec.ID, err)
		}
		if evidence != nil {
			if err := evidence.Save(context.Background(), EvidenceKey(rec.ID), strings.NewReader("png")); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
		}
	}
}

func TestRetentionDeletesAreIdempotentAndDropEvidence(t *testing.T) {
	ctx := context.Background()
	clock := gateNow
	store := memory.NewRecordStore(memory.WithClock(func() time.Time { return clock }))
	evidence := &evidenceFake{saved: map[string][]byte{}}
	seedStore(t, store, evidence,
		storedRecord("r1", "u1", "s1", gateNow),
		storedRecord("r2", "u1", "s2", gateNow),
		storedRecord("r3", "u2", "s1", gateNow),
	)
	uc := NewRetentionUseCase(store, evidence)

	steps := []struct {
		name string
		del  func() (int, error)
		want []int
	}{
		{"record", func() (int, error) { return uc.DeleteRecord(ctx, "r3") }, []int{1, 0}},
		{"user", func() (int, error) { return uc.DeleteByUser(ctx, "u1") }, []int{2, 0}},
		{"server", func() (int, error) { return uc.DeleteByServer(ctx, "s1") }, []int{0, 0}},
	}
	for _, step := range steps {
		for i, want := range step.want {
			got, err := step.del()
			if err != nil {
				t.Fatalf("delete %s #%d error = %v", step.name, i, err)
			}
			if got != want {
				t.Fatalf("delete %s #%d removed %d, want %d", step.name, i, got, want)
			}
		}
	}
	if len(evidence.saved) != 0 {
		t.Fatalf("evidence left behind: %v", evidence.saved)
	}
	if _, err := uc.GetByID(ctx, "r1"); !domain.IsKind(err, domain.ErrRecordNotFound) {
		t.Fatalf("GetByID(deleted) error = %v", err)
	}
}

func TestRetentionRejectsEmptyKeys(t *testing.T) {
	uc := NewRetentionUseCase(memory.NewRecordStore(), nil)
	ctx := context.Background()

	if _, err := uc.DeleteByUser(ctx, " "); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("DeleteByUser(blank) error = %v", err)
	}
	if _, err := uc.GetByID(ctx, ""); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("GetByID(blank) error = %v", err)
	}
	window := domain.TimeRange{From: gateNow, To: gateNow}
	if _, err := uc.QueryByServer(ctx, "s1", window); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("QueryByServer(empty window) error = %v", err)
	}
}

func TestRetentionWindowAcrossPurge(t *testing.T) {
	ctx := context.Background()
	writtenAt := gateNow
	clock := writtenAt
	store := memory.NewRecordStore(memory.WithClock(func() time.Time { return clock }))
	evidence := &evidenceFake{saved: map[string][]byte{}}
	seedStore(t, store, evidence, storedRecord("r1", "u1", "s1", writtenAt))
	uc := NewRetentionUseCase(store, evidence)

	clock = writtenAt.Add(29 * 24 * time.Hour)
	if n, err := uc.PurgeExpired(ctx, clock); err != nil || n != 0 {
		t.Fatalf("PurgeExpired(T+29d) = %d, %v", n, err)
	}
	if _, err := uc.GetByID(ctx, "r1"); err != nil {
		t.Fatalf("GetByID(T+29d) error = %v", err)
	}

	clock = writtenAt.Add(31 * 24 * time.Hour)
	if _, err := uc.GetByID(ctx, "r1"); !domain.IsKind(err, domain.ErrRecordNotFound) {
		t.Fatalf("GetByID(T+31d) error = %v, want hidden before purge", err)
	}
	if n, err := uc.PurgeExpired(ctx, clock); err != nil || n != 1 {
		t.Fatalf("PurgeExpired(T+31d) = %d, %v", n, err)
	}
	if len(evidence.saved) != 0 {
		t.Fatalf("purge left evidence: %v", evidence.saved)
	}
}

func TestRetentionQueryByServer(t *testing.T) {
	ctx := context.Background()
	store := memory.NewRecordStore(memory.WithClock(func() time.Time { return gateNow }))
	seedStore(t, store, nil,
		storedRecord("old", "u1", "s1", gateNow.Add(-10*24*time.Hour)),
		storedRecord("new", "u1", "s1", gateNow.Add(-time.Hour)),
		storedRecord("other", "u1", "s2", gateNow.Add(-time.Hour)),
	)

	got, err := NewRetentionUseCase(store, nil).QueryByServer(ctx, "s1", domain.TimeRange{
		From: gateNow.Add(-7 * 24 * time.Hour),
		To:   gateNow,
	})
	if err != nil {
		t.Fatalf("QueryByServer() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("QueryByServer() = %v", got)
	}
}
