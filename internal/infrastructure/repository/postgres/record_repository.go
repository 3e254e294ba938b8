package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

const recordColumns = `id, submitter_id, server_id, mission_at, created_at, expires_at, layout_resolution, layout_version,
	fields, confidence, status, flagged_fields, audit_state, audited_at`

type RecordRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "db ping", err)
	}
	return db, nil
}

func (r *RecordRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026031501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS mission_records (
	id TEXT PRIMARY KEY,
	submitter_id TEXT NOT NULL,
	server_id TEXT NOT NULL,
	mission_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	layout_resolution TEXT NOT NULL,
	layout_version INTEGER NOT NULL,
	fields JSONB NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL,
	flagged_fields JSONB NOT NULL DEFAULT '[]'::jsonb,
	audit_state TEXT NOT NULL,
	audited_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_mission_records_server_mission ON mission_records(server_id, mission_at);
CREATE INDEX IF NOT EXISTS idx_mission_records_submitter ON mission_records(submitter_id);
CREATE INDEX IF NOT EXISTS idx_mission_records_expires_at ON mission_records(expires_at);
CREATE INDEX IF NOT EXISTS idx_mission_records_audit ON mission_records(status, created_at);

CREATE TABLE IF NOT EXISTS audit_reviews (
	id TEXT PRIMARY KEY,
	record_id TEXT NOT NULL REFERENCES mission_records(id) ON DELETE CASCADE,
	reviewer TEXT NOT NULL,
	confirmed BOOLEAN NOT NULL DEFAULT FALSE,
	corrections JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	applied_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_audit_reviews_pending ON audit_reviews(record_id, created_at DESC) WHERE applied_at IS NULL;
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *RecordRepository) Put(ctx context.Context, record *domain.MissionRecord) error {
	fieldsJSON, err := json.Marshal(record.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	flagged := record.Flagged
	if flagged == nil {
		flagged = []string{}
	}
	flaggedJSON, err := json.Marshal(flagged)
	if err != nil {
		return fmt.Errorf("marshal flagged fields: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO mission_records (
	id, submitter_id, server_id, mission_at, created_at, expires_at, layout_resolution, layout_version,
	fields, confidence, status, flagged_fields, audit_state, audited_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`,
		record.ID, record.SubmitterID, record.ServerID, record.MissionAt, record.CreatedAt, record.ExpiresAt,
		record.Layout.Resolution, record.Layout.Version, fieldsJSON, record.Confidence, string(record.Status),
		flaggedJSON, string(record.AuditState), record.AuditedAt,
	)
	if err != nil {
		return classifyDBError("insert mission record", err)
	}
	return nil
}

func (r *RecordRepository) Get(ctx context.Context, id string) (*domain.MissionRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+recordColumns+`
FROM mission_records
WHERE id = $1 AND expires_at >= $2
`, id, r.now())

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRecordNotFound, "get mission record", fmt.Errorf("id %s", id))
		}
		return nil, classifyDBError("scan mission record", err)
	}
	return record, nil
}

func (r *RecordRepository) QueryByServerAndWindow(ctx context.Context, serverID string, window domain.TimeRange) ([]domain.MissionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+recordColumns+`
FROM mission_records
WHERE server_id = $1 AND mission_at >= $2 AND mission_at < $3 AND expires_at >= $4
ORDER BY mission_at ASC, id ASC
`, serverID, window.From, window.To, r.now())
	if err != nil {
		return nil, classifyDBError("query mission records", err)
	}
	return collectRecords(rows)
}

func (r *RecordRepository) DeleteByID(ctx context.Context, id string) ([]string, error) {
	return r.deleteReturning(ctx, "delete mission record", `DELETE FROM mission_records WHERE id = $1 RETURNING id`, id)
}

func (r *RecordRepository) DeleteByUser(ctx context.Context, userID string) ([]string, error) {
	return r.deleteReturning(ctx, "delete user mission records", `DELETE FROM mission_records WHERE submitter_id = $1 RETURNING id`, userID)
}

func (r *RecordRepository) DeleteByServer(ctx context.Context, serverID string) ([]string, error) {
	return r.deleteReturning(ctx, "delete server mission records", `DELETE FROM mission_records WHERE server_id = $1 RETURNING id`, serverID)
}

// PurgeExpired evaluates the cutoff inside one statement, so rows inserted while it
// runs carry a later expiry and are never matched.
func (r *RecordRepository) PurgeExpired(ctx context.Context, now time.Time) ([]string, error) {
	return r.deleteReturning(ctx, "purge expired mission records", `DELETE FROM mission_records WHERE expires_at < $1 RETURNING id`, now)
}

func (r *RecordRepository) ListForAudit(ctx context.Context, window domain.TimeRange, statuses []domain.RecordStatus) ([]domain.MissionRecord, error) {
	if len(statuses) == 0 {
		return []domain.MissionRecord{}, nil
	}
	args := []any{window.From, window.To, r.now()}
	placeholders := make([]string, 0, len(statuses))
	for _, s := range statuses {
		args = append(args, string(s))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT `+recordColumns+`
FROM mission_records
WHERE created_at >= $1 AND created_at < $2 AND expires_at >= $3 AND status IN (`+strings.Join(placeholders, ",")+`)
ORDER BY created_at ASC, id ASC
`, args...)
	if err != nil {
		return nil, classifyDBError("list audit candidates", err)
	}
	return collectRecords(rows)
}

func (r *RecordRepository) ApplyAudit(ctx context.Context, id string, patch domain.AuditPatch) error {
	fieldsJSON, err := json.Marshal(patch.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	flagged := patch.Flagged
	if flagged == nil {
		flagged = []string{}
	}
	flaggedJSON, err := json.Marshal(flagged)
	if err != nil {
		return fmt.Errorf("marshal flagged fields: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE mission_records
SET fields = $2, flagged_fields = $3, audit_state = $4, audited_at = $5
WHERE id = $1 AND expires_at >= $6
`, id, fieldsJSON, flaggedJSON, string(patch.AuditState), patch.AuditedAt, r.now())
	if err != nil {
		return classifyDBError("apply audit", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply audit rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrRecordNotFound, "apply audit", fmt.Errorf("id %s", id))
	}
	return nil
}

func (r *RecordRepository) deleteReturning(ctx context.Context, op, query string, arg any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, classifyDBError(op, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyDBError(op, err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.MissionRecord, error) {
	var rec domain.MissionRecord
	var fieldsRaw, flaggedRaw []byte
	var status, auditState string

	if err := row.Scan(
		&rec.ID, &rec.SubmitterID, &rec.ServerID, &rec.MissionAt, &rec.CreatedAt, &rec.ExpiresAt,
		&rec.Layout.Resolution, &rec.Layout.Version, &fieldsRaw, &rec.Confidence, &status,
		&flaggedRaw, &auditState, &rec.AuditedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(fieldsRaw, &rec.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	if err := json.Unmarshal(flaggedRaw, &rec.Flagged); err != nil {
		return nil, fmt.Errorf("unmarshal flagged fields: %w", err)
	}
	rec.Status = domain.RecordStatus(status)
	rec.AuditState = domain.AuditState(auditState)
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]domain.MissionRecord, error) {
	defer rows.Close()

	out := make([]domain.MissionRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyDBError("iterate mission records", err)
	}
	return out, nil
}
