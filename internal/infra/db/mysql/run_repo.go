package mysql

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/bryanwahyu/healthdash/internal/domain/analysis"
)

const schema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
  id          VARCHAR(36)  NOT NULL PRIMARY KEY,
  file_ref    VARCHAR(1024) NOT NULL,
  status      VARCHAR(16)  NOT NULL,
  result_kind VARCHAR(16)  NOT NULL DEFAULT '',
  exit_code   INT          NOT NULL DEFAULT 0,
  duration_ms BIGINT       NOT NULL DEFAULT 0,
  error_text  TEXT         NULL,
  created_at  DATETIME(3)  NOT NULL,
  INDEX idx_analysis_runs_created (created_at)
)`

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

// Save inserts a run record
func (r *RunRepository) Save(ctx context.Context, run *domain.Run) error {
	const q = `
INSERT INTO analysis_runs
  (id, file_ref, status, result_kind, exit_code, duration_ms, error_text, created_at)
VALUES (?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
  status=VALUES(status), result_kind=VALUES(result_kind), exit_code=VALUES(exit_code),
  duration_ms=VALUES(duration_ms), error_text=VALUES(error_text);
`
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		run.ID, stringOrDash(run.FileRef), stringOrDash(string(run.Status)), string(run.ResultKind),
		run.ExitCode, run.DurationMS, run.Error, createdAt.UTC(),
	)
	return err
}

// Paginate returns a page of runs ordered by created_at desc
func (r *RunRepository) Paginate(ctx context.Context, page, pageSize int) ([]*domain.Run, error) {
	limit, offset := normalizePage(page, pageSize)

	const q = `
SELECT id, file_ref, status, result_kind, exit_code, duration_ms, COALESCE(error_text, ''), created_at
FROM analysis_runs
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?;
`
	rows, err := r.db.QueryContext(ctx, q, limit, offset)
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
