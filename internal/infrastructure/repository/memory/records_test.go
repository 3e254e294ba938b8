package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

const retention = 30 * 24 * time.Hour

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct{ now atomic.Int64 }

func newFakeClock(at time.Time) *fakeClock {
	c := &fakeClock{}
	c.set(at)
	return c
}

func (c *fakeClock) set(at time.Time) { c.now.Store(at.UnixNano()) }
func (c *fakeClock) Now() time.Time   { return time.Unix(0, c.now.Load()).UTC() }

func record(id, user, server string, created time.Time) *domain.MissionRecord {
	return &domain.MissionRecord{
		ID:          id,
		SubmitterID: user,
		ServerID:    server,
		MissionAt:   created,
		CreatedAt:   created,
		ExpiresAt:   created.Add(retention),
		Layout:      domain.LayoutRef{Resolution: "1920x1080", Version: 2},
		Fields: []domain.RecordField{
			{Name: "kills", Kind: domain.KindCounter, Raw: "42", Value: &domain.Value{Kind: domain.KindCounter, Int: 42}, Confidence: 1},
		},
		Confidence: 1,
		Status:     domain.StatusAccepted,
		AuditState: domain.AuditNone,
	}
}

func mustPut(t *testing.T, store *RecordStore, rec *domain.MissionRecord) {
	t.Helper()
	if err := store.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put(%s) error = %v", rec.ID, err)
	}
}

func sameIDs(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestRetentionWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(t0)
	store := NewRecordStore(WithClock(clock.Now))
	mustPut(t, store, record("r1", "u1", "s1", t0))

	clock.set(t0.Add(29 * 24 * time.Hour))
	got, err := store.Get(ctx, "r1")
	if err != nil || got.ID != "r1" {
		t.Fatalf("Get(T+29d) = %v, %v", got, err)
	}

	clock.set(t0.Add(31 * 24 * time.Hour))
	if _, err := store.Get(ctx, "r1"); !domain.IsKind(err, domain.ErrRecordNotFound) {
		t.Fatalf("expired record must be hidden before purge, err = %v", err)
	}

	removed, err := store.PurgeExpired(ctx, clock.Now())
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if !sameIDs(removed, []string{"r1"}) {
		t.Fatalf("PurgeExpired() = %v, want [r1]", removed)
	}
}

func TestRecordExactlyAtRetentionAgeSurvives(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(t0.Add(retention))
	store := NewRecordStore(WithClock(clock.Now))
	mustPut(t, store, record("edge", "u1", "s1", t0))

	if _, err := store.Get(ctx, "edge"); err != nil {
		t.Fatalf("Get(T+30d) error = %v, want record still visible", err)
	}
	removed, err := store.PurgeExpired(ctx, clock.Now())
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("PurgeExpired(T+30d) removed %v", removed)
	}

	clock.set(t0.Add(retention + time.Nanosecond))
	removed, err = store.PurgeExpired(ctx, clock.Now())
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if !sameIDs(removed, []string{"edge"}) {
		t.Fatalf("PurgeExpired(T+30d+1ns) = %v, want [edge]", removed)
	}
}

func TestPurgeConcurrentWithWritesKeepsFreshRecords(t *testing.T) {
	ctx := context.Background()
	now := t0.Add(retention)
	store := NewRecordStore(WithClock(func() time.Time { return now }))

	for i := 0; i < 50; i++ {
		mustPut(t, store, record(fmt.Sprintf("old-%02d", i), "u1", "s1", t0.Add(-time.Duration(i+1)*time.Minute)))
	}

	var wg sync.WaitGroup
	fresh := make(chan string, 200)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("fresh-%d-%02d", w, i)
				// created one tick after the purge cutoff
				if err := store.Put(ctx, record(id, "u2", "s1", t0.Add(time.Nanosecond))); err != nil {
					t.Errorf("Put(%s) error = %v", id, err)
					return
				}
				fresh <- id
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if _, err := store.PurgeExpired(ctx, now); err != nil {
				t.Errorf("PurgeExpired() error = %v", err)
			}
		}
	}()
	wg.Wait()
	close(fresh)

	for id := range fresh {
		if _, err := store.Get(ctx, id); err != nil {
			t.Fatalf("fresh record %s was purged: %v", id, err)
		}
	}
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("old-%02d", i)
		if _, err := store.Get(ctx, id); err == nil {
			t.Fatalf("expired record %s survived the purge", id)
		}
	}
}

func TestDeletesAreIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewRecordStore(WithClock(func() time.Time { return t0 }))
	mustPut(t, store, record("r1", "u1", "s1", t0))
	mustPut(t, store, record("r2", "u1", "s2", t0))
	mustPut(t, store, record("r3", "u2", "s2", t0))

	removed, err := store.DeleteByUser(ctx, "u1")
	if err != nil || !sameIDs(removed, []string{"r1", "r2"}) {
		t.Fatalf("DeleteByUser(u1) = %v, %v", removed, err)
	}

	removed, err = store.DeleteByUser(ctx, "u1")
	if err != nil || len(removed) != 0 {
		t.Fatalf("second DeleteByUser(u1) = %v, %v", removed, err)
	}

	removed, err = store.DeleteByServer(ctx, "nope")
	if err != nil || len(removed) != 0 {
		t.Fatalf("DeleteByServer(nope) = %v, %v", removed, err)
	}

	removed, err = store.DeleteByID(ctx, "r3")
	if err != nil || !sameIDs(removed, []string{"r3"}) {
		t.Fatalf("DeleteByID(r3) = %v, %v", removed, err)
	}

	if _, err := store.Get(ctx, "r3"); !domain.IsKind(err, domain.ErrRecordNotFound) {
		t.Fatalf("Get after delete error = %v, want not found", err)
	}
}

func TestQueryByServerAndWindow(t *testing.T) {
	ctx := context.Background()
	store := NewRecordStore(WithClock(func() time.Time { return t0.Add(time.Hour) }))
	mustPut(t, store, record("a", "u1", "s1", t0.Add(-2*time.Hour)))
	mustPut(t, store, record("b", "u1", "s1", t0))
	mustPut(t, store, record("c", "u2", "s1", t0.Add(30*time.Minute)))
	mustPut(t, store, record("d", "u2", "s2", t0))

	got, err := store.QueryByServerAndWindow(ctx, "s1", domain.TimeRange{From: t0.Add(-time.Hour), To: t0.Add(30 * time.Minute)})
	if err != nil {
		t.Fatalf("QueryByServerAndWindow() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("QueryByServerAndWindow() = %+v, want only b", got)
	}
}

func TestPutRejectsDuplicatesAndCopies(t *testing.T) {
	ctx := context.Background()
	store := NewRecordStore(WithClock(func() time.Time { return t0 }))
	rec := record("r1", "u1", "s1", t0)
	mustPut(t, store, rec)
	if err := store.Put(ctx, rec); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("duplicate Put() error = %v, want invalid input", err)
	}

	rec.Fields[0].Value.Int = 7
	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Fields[0].Value.Int != 42 {
		t.Fatalf("stored value aliased caller memory: %d", got.Fields[0].Value.Int)
	}
}

func TestApplyAudit(t *testing.T) {
	ctx := context.Background()
	store := NewRecordStore(WithClock(func() time.Time { return t0 }))
	rec := record("r1", "u1", "s1", t0)
	rec.Status = domain.StatusAcceptedWithWarning
	rec.AuditState = domain.AuditPending
	rec.Flagged = []string{"kills"}
	mustPut(t, store, rec)

	fields := rec.Clone().Fields
	fields[0].Value = &domain.Value{Kind: domain.KindCounter, Int: 43}
	if err := store.ApplyAudit(ctx, "r1", domain.AuditPatch{
		Fields:     fields,
		AuditState: domain.AuditCorrected,
		AuditedAt:  t0,
	}); err != nil {
		t.Fatalf("ApplyAudit() error = %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Fields[0].Value.Int != 43 || len(got.Flagged) != 0 {
		t.Fatalf("patched record = %+v", got)
	}
	if got.AuditState != domain.AuditCorrected || got.Status != domain.StatusAcceptedWithWarning {
		t.Fatalf("audit_state/status = %s/%s", got.AuditState, got.Status)
	}

	if err := store.ApplyAudit(ctx, "missing", domain.AuditPatch{}); !domain.IsKind(err, domain.ErrRecordNotFound) {
		t.Fatalf("ApplyAudit(missing) error = %v, want not found", err)
	}
}

func TestReviewStorePendingAndApplied(t *testing.T) {
	ctx := context.Background()
	reviews := NewReviewStore()
	for _, review := range []*domain.Review{
		{ID: "v1", RecordID: "r1", Reviewer: "mod", Confirmed: true, CreatedAt: t0},
		{ID: "v2", RecordID: "r1", Reviewer: "mod", Corrections: map[string]string{"kills": "40"}, CreatedAt: t0.Add(time.Minute)},
		{ID: "v3", RecordID: "r2", Reviewer: "mod", Confirmed: true, CreatedAt: t0},
	} {
		if err := reviews.SaveReview(ctx, review); err != nil {
			t.Fatalf("SaveReview(%s) error = %v", review.ID, err)
		}
	}

	pending, err := reviews.PendingReviews(ctx, []string{"r1", "r9"})
	if err != nil {
		t.Fatalf("PendingReviews() error = %v", err)
	}
	if len(pending) != 1 || pending["r1"].ID != "v2" {
		t.Fatalf("PendingReviews() = %+v, want newest review v2 for r1", pending)
	}

	if err := reviews.MarkApplied(ctx, []string{"v2"}, t0.Add(time.Hour)); err != nil {
		t.Fatalf("MarkApplied() error = %v", err)
	}
	pending, err = reviews.PendingReviews(ctx, []string{"r1", "r2"})
	if err != nil {
		t.Fatalf("PendingReviews() error = %v", err)
	}
	if len(pending) != 1 || pending["r2"].ID != "v3" {
		t.Fatalf("PendingReviews() after apply = %+v, want only v3", pending)
	}
}
