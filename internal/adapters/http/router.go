package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/mission-stats/internal/config"
	"github.com/kirillkom/mission-stats/internal/core/domain"
	"github.com/kirillkom/mission-stats/internal/core/ports"
	"github.com/kirillkom/mission-stats/internal/core/usecase"
	"github.com/kirillkom/mission-stats/internal/infrastructure/export/xlsx"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var allowedExtensions = map[string]struct{}{".png": {}, ".jpg": {}, ".jpeg": {}}

// Telemetry is the API's metrics sink.
type Telemetry interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
	RecordDeletion(scope string, removed int)
	RecordReview(confirmed bool, corrections int)
}

type Router struct {
	cfg     config.Config
	gate    ports.SubmissionGate
	records ports.RecordReader
	eraser  ports.RecordEraser
	reviews ports.ReviewIntake
	audits  ports.AuditRequester

	telemetry Telemetry
	breakers  func() map[string]string
	now       func() time.Time
}

func NewRouter(
	cfg config.Config,
	gate ports.SubmissionGate,
	records ports.RecordReader,
	eraser ports.RecordEraser,
	reviews ports.ReviewIntake,
	audits ports.AuditRequester,
) *Router {
	return &Router{
		cfg:     cfg,
		gate:    gate,
		records: records,
		eraser:  eraser,
		reviews: reviews,
		audits:  audits,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (rt *Router) WithTelemetry(t Telemetry) *Router {
	rt.telemetry = t
	return rt
}

// WithBreakerStates exposes circuit breaker states on /healthz.
func (rt *Router) WithBreakerStates(states func() map[string]string) *Router {
	rt.breakers = states
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.telemetry != nil {
		mux.Handle("GET /metrics", rt.telemetry.Handler())
	}

	submit := http.Handler(http.HandlerFunc(rt.submitScreenshot))
	if rt.cfg.APIMaxInFlight > 0 {
		submit = backpressureMiddleware(submit, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	}
	mux.Handle("POST /v1/submissions", submit)

	mux.HandleFunc("GET /v1/records/{id}", rt.getRecord)
	mux.HandleFunc("DELETE /v1/records/{id}", rt.deleteRecord)
	mux.HandleFunc("GET /v1/servers/{server_id}/records", rt.listServerRecords)
	mux.HandleFunc("GET /v1/servers/{server_id}/records.xlsx", rt.exportServerRecords)
	mux.HandleFunc("DELETE /v1/servers/{server_id}/records", rt.deleteServerRecords)
	mux.HandleFunc("DELETE /v1/users/{user_id}/records", rt.deleteUserRecords)
	mux.HandleFunc("POST /v1/audit/reviews", rt.submitReview)
	mux.HandleFunc("POST /v1/audit/runs", rt.requestAuditRun)

	var handler http.Handler = mux
	if rt.telemetry != nil {
		handler = rt.telemetry.Middleware(handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{"status": "ok"}
	if rt.breakers != nil {
		states := rt.breakers()
		for _, state := range states {
			if state != "closed" {
				payload["status"] = "degraded"
			}
		}
		payload["breakers"] = states
	}
	writeJSON(w, http.StatusOK, payload)
}

func (rt *Router) submitScreenshot(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("screenshot exceeds %d bytes", rt.cfg.MaxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "multipart form is required")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if _, ok := allowedExtensions[ext]; !ok {
		writeError(w, http.StatusBadRequest, "only .png, .jpg and .jpeg screenshots are accepted")
		return
	}

	sub := domain.Submission{
		Filename:    fileHeader.Filename,
		SubmitterID: strings.TrimSpace(r.FormValue("user_id")),
		ServerID:    strings.TrimSpace(r.FormValue("server_id")),
		SubmittedAt: rt.now(),
	}
	if sub.SubmitterID == "" || sub.ServerID == "" {
		writeError(w, http.StatusBadRequest, "user_id and server_id are required")
		return
	}
	if raw := strings.TrimSpace(r.FormValue("resolution")); raw != "" {
		res, err := domain.ParseResolution(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "resolution must look like 1920x1080")
			return
		}
		sub.ResolutionHint = &res
	}
	if raw := strings.TrimSpace(r.FormValue("submitted_at")); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "submitted_at must be RFC3339")
			return
		}
		sub.SubmittedAt = at.UTC()
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		writeError(w, http.StatusBadRequest, "could not read uploaded file")
		return
	}
	sub.Image = buf.Bytes()

	res, err := rt.gate.Submit(r.Context(), sub)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		if res == nil {
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, status, usecase.BuildReply(res))
		return
	}

	status := http.StatusCreated
	if res.Status == domain.StatusRejected {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, usecase.BuildReply(res))
}

func (rt *Router) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := rt.records.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (rt *Router) deleteRecord(w http.ResponseWriter, r *http.Request) {
	rt.erase(w, r, "record", rt.eraser.DeleteRecord, r.PathValue("id"))
}

func (rt *Router) deleteServerRecords(w http.ResponseWriter, r *http.Request) {
	rt.erase(w, r, "server", rt.eraser.DeleteByServer, r.PathValue("server_id"))
}

func (rt *Router) deleteUserRecords(w http.ResponseWriter, r *http.Request) {
	rt.erase(w, r, "user", rt.eraser.DeleteByUser, r.PathValue("user_id"))
}

func (rt *Router) erase(
	w http.ResponseWriter,
	r *http.Request,
	scope string,
	del func(context.Context, string) (int, error),
	key string,
) {
	removed, err := del(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if rt.telemetry != nil {
		rt.telemetry.RecordDeletion(scope, removed)
	}
	writeJSON(w, http.StatusOK, map[string]any{"scope": scope, "key": key, "removed": removed})
}

func (rt *Router) serverWindow(r *http.Request) (domain.TimeRange, error) {
	to := rt.now()
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.TimeRange{}, domain.WrapError(domain.ErrInvalidInput, "parse window", fmt.Errorf("to: %w", err))
		}
		to = parsed.UTC()
	}
	from := to.Add(-rt.retention())
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.TimeRange{}, domain.WrapError(domain.ErrInvalidInput, "parse window", fmt.Errorf("from: %w", err))
		}
		from = parsed.UTC()
	}
	return domain.TimeRange{From: from, To: to}, nil
}

func (rt *Router) retention() time.Duration {
	if d := rt.cfg.Retention(); d > 0 {
		return d
	}
	return usecase.DefaultRetention
}

func (rt *Router) listServerRecords(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("server_id")
	window, err := rt.serverWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	records, err := rt.records.QueryByServer(r.Context(), serverID, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []domain.MissionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"server_id": serverID,
		"from":      window.From,
		"to":        window.To,
		"count":     len(records),
		"records":   records,
	})
}

func (rt *Router) exportServerRecords(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("server_id")
	window, err := rt.serverWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	records, err := rt.records.QueryByServer(r.Context(), serverID, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := xlsx.WriteLeaderboard(&buf, serverID, records); err != nil {
		slog.Error("leaderboard_export_failed", "server_id", serverID, "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="leaderboard-%s.xlsx"`, sanitizeFilename(serverID)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type reviewRequest struct {
	RecordID    string            `json:"record_id"`
	Reviewer    string            `json:"reviewer"`
	Confirmed   bool              `json:"confirmed"`
	Corrections map[string]string `json:"corrections"`
}

func (rt *Router) submitReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	review, err := rt.reviews.SubmitReview(r.Context(), domain.Review{
		RecordID:    req.RecordID,
		Reviewer:    req.Reviewer,
		Confirmed:   req.Confirmed,
		Corrections: req.Corrections,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if rt.telemetry != nil {
		rt.telemetry.RecordReview(review.Confirmed, len(review.Corrections))
	}
	writeJSON(w, http.StatusCreated, review)
}

func (rt *Router) requestAuditRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AsOf *time.Time `json:"as_of"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	asOf := rt.now()
	if req.AsOf != nil {
		asOf = req.AsOf.UTC()
	}
	if err := rt.audits.PublishAuditRequested(r.Context(), asOf); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "as_of": asOf})
}

func sanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= 500 {
		slog.Error("request_failed", "status", status, "error", err)
	}
	payload := map[string]string{"error": err.Error()}
	if code := domain.CodeOf(err); code != domain.CodeInternal {
		payload["error_code"] = string(code)
	}
	writeJSON(w, status, payload)
}
