package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/mission-stats/internal/config"
	"github.com/kirillkom/mission-stats/internal/core/domain"
)

var routerNow = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

type gateFake struct {
	res   *domain.SubmissionResult
	err   error
	got   *domain.Submission
	calls int
}

func (f *gateFake) Submit(_ context.Context, sub domain.Submission) (*domain.SubmissionResult, error) {
	f.calls++
	f.got = &sub
	return f.res, f.err
}

type recordsFake struct {
	records map[string]domain.MissionRecord
	window  domain.TimeRange
}

func (f *recordsFake) GetByID(_ context.Context, id string) (*domain.MissionRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrRecordNotFound, "get record", errors.New("id "+id))
	}
	return &rec, nil
}

func (f *recordsFake) QueryByServer(_ context.Context, serverID string, window domain.TimeRange) ([]domain.MissionRecord, error) {
	f.window = window
	var out []domain.MissionRecord
	for _, rec := range f.records {
		if rec.ServerID == serverID && window.Contains(rec.CreatedAt) {
			out = append(out, rec)
		}
	}
	return out, nil
}

type eraserFake struct {
	byUser map[string]int
}

func (f *eraserFake) DeleteRecord(context.Context, string) (int, error) { return 0, nil }

func (f *eraserFake) DeleteByUser(_ context.Context, userID string) (int, error) {
	n := f.byUser[userID]
	delete(f.byUser, userID)
	return n, nil
}

func (f *eraserFake) DeleteByServer(context.Context, string) (int, error) {
	return 0, domain.WrapError(domain.ErrStoreUnavailable, "delete server records", errors.New("connection reset"))
}

type reviewsFake struct{}

func (reviewsFake) SubmitReview(_ context.Context, review domain.Review) (*domain.Review, error) {
	if review.RecordID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit review", errors.New("record_id is required"))
	}
	review.ID = "rev-1"
	return &review, nil
}

type auditsFake struct {
	asOf []time.Time
}

func (f *auditsFake) PublishAuditRequested(_ context.Context, asOf time.Time) error {
	f.asOf = append(f.asOf, asOf)
	return nil
}

type routerDeps struct {
	gate    *gateFake
	records *recordsFake
	eraser  *eraserFake
	audits  *auditsFake
}

func newTestRouter(cfg config.Config) (*Router, *routerDeps) {
	deps := &routerDeps{
		gate: &gateFake{},
		records: &recordsFake{records: map[string]domain.MissionRecord{
			"r1": sampleRecord("r1", "guild-7", routerNow.Add(-24*time.Hour)),
			"r2": sampleRecord("r2", "guild-7", routerNow.Add(-40*24*time.Hour)),
		}},
		eraser: &eraserFake{byUser: map[string]int{"u-1": 2}},
		audits: &auditsFake{},
	}
	rt := NewRouter(cfg, deps.gate, deps.records, deps.eraser, reviewsFake{}, deps.audits)
	rt.now = func() time.Time { return routerNow }
	return rt, deps
}

func sampleRecord(id, server string, created time.Time) domain.MissionRecord {
	return domain.MissionRecord{
		ID:          id,
		SubmitterID: "u-1",
		ServerID:    server,
		MissionAt:   created,
		CreatedAt:   created,
		ExpiresAt:   created.Add(30 * 24 * time.Hour),
		Layout:      domain.LayoutRef{Resolution: "1920x1080", Version: 1},
		Fields: []domain.RecordField{
			{Name: "kills", Kind: domain.KindCounter, Value: &domain.Value{Kind: domain.KindCounter, Int: 42}, Confidence: 1},
		},
		Confidence: 0.97,
		Status:     domain.StatusAccepted,
		AuditState: domain.AuditNone,
	}
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = part.Write(content)
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func postSubmission(t *testing.T, h http.Handler, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, content, fields)
	req := httptest.NewRequest(http.MethodPost, "/v1/submissions", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, res.Body.String())
	}
	return out
}

func TestSubmitAcceptedReturns201WithSubmitterReply(t *testing.T) {
	rt, deps := newTestRouter(config.Config{MaxUploadBytes: 1 << 20})
	rec := sampleRecord("rec-1", "guild-7", routerNow)
	deps.gate.res = &domain.SubmissionResult{Status: domain.StatusAccepted, Stage: domain.StageDecided, Confidence: 0.97, Record: &rec}

	res := postSubmission(t, rt.Handler(), "stats.PNG", []byte("png-bytes"), map[string]string{
		"user_id":      "u-1",
		"server_id":    "guild-7",
		"resolution":   "1920x1080",
		"submitted_at": "2026-03-14T19:55:00+01:00",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	reply := decodeBody(t, res)
	if reply["visibility"] != "submitter" || reply["record_id"] != "rec-1" || reply["status"] != "accepted" {
		t.Fatalf("unexpected reply %v", reply)
	}

	got := deps.gate.got
	if got.SubmitterID != "u-1" || got.ServerID != "guild-7" || string(got.Image) != "png-bytes" {
		t.Fatalf("unexpected submission %+v", got)
	}
	if got.ResolutionHint == nil || got.ResolutionHint.Width != 1920 {
		t.Fatalf("expected resolution hint, got %+v", got.ResolutionHint)
	}
	if !got.SubmittedAt.Equal(time.Date(2026, 3, 14, 18, 55, 0, 0, time.UTC)) {
		t.Fatalf("unexpected submitted_at %v", got.SubmittedAt)
	}
}

func TestSubmitRejectedReturns422(t *testing.T) {
	rt, deps := newTestRouter(config.Config{})
	deps.gate.res = &domain.SubmissionResult{
		Status:  domain.StatusRejected,
		Stage:   domain.StageNormalized,
		Code:    domain.CodeUnsupportedResolution,
		Message: domain.UserMessage(domain.CodeUnsupportedResolution),
	}

	res := postSubmission(t, rt.Handler(), "stats.jpg", []byte("x"), map[string]string{"user_id": "u-1", "server_id": "s"})
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.Code)
	}
	if reply := decodeBody(t, res); reply["error_code"] != "UnsupportedResolution" {
		t.Fatalf("unexpected reply %v", reply)
	}
}

func TestSubmitStoreOutageReturns503WithReply(t *testing.T) {
	rt, deps := newTestRouter(config.Config{})
	deps.gate.res = &domain.SubmissionResult{Status: domain.StatusRejected, Code: domain.CodeStoreUnavailable, Message: "resubmit"}
	deps.gate.err = domain.WrapError(domain.ErrTemporary, "persist record", domain.ErrStoreUnavailable)

	res := postSubmission(t, rt.Handler(), "a.png", []byte("x"), map[string]string{"user_id": "u-1", "server_id": "s"})
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	if reply := decodeBody(t, res); reply["error_code"] != "StoreUnavailable" {
		t.Fatalf("unexpected reply %v", reply)
	}
}

func TestSubmitValidatesRequest(t *testing.T) {
	rt, deps := newTestRouter(config.Config{MaxUploadBytes: 1024})
	h := rt.Handler()

	cases := []struct {
		name     string
		filename string
		content  []byte
		fields   map[string]string
		want     int
	}{
		{"missing file", "", nil, map[string]string{"user_id": "u", "server_id": "s"}, http.StatusBadRequest},
		{"bad extension", "stats.gif", []byte("x"), map[string]string{"user_id": "u", "server_id": "s"}, http.StatusBadRequest},
		{"missing server", "stats.png", []byte("x"), map[string]string{"user_id": "u"}, http.StatusBadRequest},
		{"bad resolution", "stats.png", []byte("x"), map[string]string{"user_id": "u", "server_id": "s", "resolution": "wide"}, http.StatusBadRequest},
		{"bad submitted_at", "stats.png", []byte("x"), map[string]string{"user_id": "u", "server_id": "s", "submitted_at": "yesterday"}, http.StatusBadRequest},
		{"too large", "stats.png", bytes.Repeat([]byte("x"), 4096), map[string]string{"user_id": "u", "server_id": "s"}, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		res := postSubmission(t, h, tc.filename, tc.content, tc.fields)
		if res.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.want, res.Code, res.Body.String())
		}
	}
	if deps.gate.calls != 0 {
		t.Fatalf("gate must not run for invalid requests, got %d calls", deps.gate.calls)
	}
}

func TestGetRecordMapsNotFoundTo404(t *testing.T) {
	rt, _ := newTestRouter(config.Config{})
	h := rt.Handler()

	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/records/missing", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/records/r1", nil))
	if res.Code != http.StatusOK || decodeBody(t, res)["id"] != "r1" {
		t.Fatalf("expected record r1, got %d %s", res.Code, res.Body.String())
	}
}

func TestListServerRecordsDefaultsToRetentionWindow(t *testing.T) {
	rt, deps := newTestRouter(config.Config{RetentionDays: 30})

	res := httptest.NewRecorder()
	rt.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/servers/guild-7/records", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if body := decodeBody(t, res); body["count"] != float64(1) {
		t.Fatalf("expected only the fresh record, got %v", body)
	}
	if !deps.records.window.From.Equal(routerNow.Add(-30*24*time.Hour)) || !deps.records.window.To.Equal(routerNow) {
		t.Fatalf("unexpected window %+v", deps.records.window)
	}

	res = httptest.NewRecorder()
	rt.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/servers/guild-7/records?from=soon", nil))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed from, got %d", res.Code)
	}
}

func TestExportServerRecordsServesWorkbook(t *testing.T) {
	rt, _ := newTestRouter(config.Config{})

	res := httptest.NewRecorder()
	rt.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/servers/guild-7/records.xlsx", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get("Content-Type") != xlsxContentType {
		t.Fatalf("unexpected content type %q", res.Header().Get("Content-Type"))
	}
	if !strings.Contains(res.Header().Get("Content-Disposition"), "leaderboard-guild-7.xlsx") {
		t.Fatalf("unexpected disposition %q", res.Header().Get("Content-Disposition"))
	}
	if !bytes.HasPrefix(res.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected zip container")
	}
}

func TestDeleteUserRecordsIsIdempotent(t *testing.T) {
	rt, _ := newTestRouter(config.Config{})
	h := rt.Handler()

	for _, want := range []float64{2, 0} {
		res := httptest.NewRecorder()
		h.ServeHTTP(res, httptest.NewRequest(http.MethodDelete, "/v1/users/u-1/records", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", res.Code)
		}
		if body := decodeBody(t, res); body["removed"] != want {
			t.Fatalf("expected removed=%v, got %v", want, body)
		}
	}
}

func TestDeleteServerRecordsMapsOutageTo503(t *testing.T) {
	rt, _ := newTestRouter(config.Config{})

	res := httptest.NewRecorder()
	rt.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodDelete, "/v1/servers/guild-7/records", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	if body := decodeBody(t, res); body["error_code"] != "StoreUnavailable" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestSubmitReview(t *testing.T) {
	rt, _ := newTestRouter(config.Config{})
	h := rt.Handler()

	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/audit/reviews", strings.NewReader(`{"reviewer":"mod"}`)))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/audit/reviews",
		strings.NewReader(`{"record_id":"r1","reviewer":"mod","corrections":{"kills":"40"}}`)))
	if res.Code != http.StatusCreated || decodeBody(t, res)["id"] != "rev-1" {
		t.Fatalf("expected created review, got %d %s", res.Code, res.Body.String())
	}
}

func TestRequestAuditRun(t *testing.T) {
	rt, deps := newTestRouter(config.Config{})
	h := rt.Handler()

	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/audit/runs", nil))
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/audit/runs", strings.NewReader(`{"as_of":"2026-03-08T03:00:00Z"}`)))
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}

	if len(deps.audits.asOf) != 2 {
		t.Fatalf("expected two audit requests, got %v", deps.audits.asOf)
	}
	if !deps.audits.asOf[0].Equal(routerNow) || !deps.audits.asOf[1].Equal(time.Date(2026, 3, 8, 3, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected as-of values %v", deps.audits.asOf)
	}
}

func TestHealthzReportsOpenBreakers(t *testing.T) {
	rt, _ := newTestRouter(config.Config{})
	rt.WithBreakerStates(func() map[string]string {
		return map[string]string{"store.put": "open"}
	})

	res := httptest.NewRecorder()
	rt.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK || decodeBody(t, res)["status"] != "degraded" {
		t.Fatalf("expected degraded health, got %d %s", res.Code, res.Body.String())
	}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.WrapError(domain.ErrInvalidInput, "op", errors.New("x")), http.StatusBadRequest},
		{domain.WrapError(domain.ErrRecordNotFound, "op", errors.New("x")), http.StatusNotFound},
		{domain.WrapError(domain.ErrStoreUnavailable, "op", errors.New("x")), http.StatusServiceUnavailable},
		{domain.WrapError(domain.ErrOCRTimeout, "op", errors.New("x")), http.StatusServiceUnavailable},
		{domain.WrapError(domain.ErrLowConfidence, "op", errors.New("x")), http.StatusUnprocessableEntity},
		{domain.WrapError(domain.ErrTooFewPlayers, "op", errors.New("x")), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := mapErrorToHTTPStatus(tc.err); got != tc.want {
			t.Fatalf("mapErrorToHTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
