package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	domain "github.com/bryanwahyu/healthdash/internal/domain/analysis"
)

const schema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
  id          TEXT        PRIMARY KEY,
  file_ref    TEXT        NOT NULL,
  status      TEXT        NOT NULL,
  result_kind TEXT        NOT NULL DEFAULT '',
  exit_code   INTEGER     NOT NULL DEFAULT 0,
  duration_ms BIGINT      NOT NULL DEFAULT 0,
  error_text  TEXT,
  created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analysis_runs_created ON analysis_runs (created_at DESC);`

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Migrate creates the analysis_runs table when missing.
func (r *RunRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Save inserts or updates a run record
func (r *RunRepository) Save(ctx context.Context, run *domain.Run) error {
	const q = `
INSERT INTO analysis_runs
  (id, file_ref, status, result_kind, exit_code, duration_ms, error_text, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  status=EXCLUDED.status,
  result_kind=EXCLUDED.result_kind,
  exit_code=EXCLUDED.exit_code,
  duration_ms=EXCLUDED.duration_ms,
  error_text=EXCLUDED.error_text;
`
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	// postgres rejects NUL bytes in text columns
	errText := strings.ReplaceAll(run.Error, "\x00", "")

	_, err := r.db.ExecContext(ctx, q,
		run.ID, stringOrDash(run.FileRef), stringOrDash(string(run.Status)), string(run.ResultKind),
		run.ExitCode, run.DurationMS, errText, createdAt.UTC(),
	)
	return err
}

// Paginate returns a page of runs ordered by created_at desc
func (r *RunRepository) Paginate(ctx context.Context, page, pageSize int) ([]*domain.Run, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	const q = `
SELECT id, file_ref, status, result_kind, exit_code, duration_ms, COALESCE(error_text, ''), created_at
FROM analysis_runs
ORDER BY created_at DESC, id DESC
LIMIT $1 OFFSET $2;
`
	rows, err := r.db.QueryContext(ctx, q, pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		var run domain.Run
		if err := rows.Scan(&run.ID, &run.FileRef, &run.Status, &run.ResultKind,
			&run.ExitCode, &run.DurationMS, &run.Error, &run.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}

func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
