package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TaskRecord is the persisted audit row for a task. The live, mutable
// Task object is owned by the task engine (spec.md §3 "Ownership");
// this table exists only so task history survives process restarts.
type TaskRecord struct {
	ID           string
	Kind         string
	Status       string
	SourcePath   string
	OutputPath   string
	AutoClassify bool
	SkipArchive  bool
	Progress     int
	CurrentStep  string
	ErrorMessage string
	RJCode       string
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
}

// PutTaskRecord upserts the audit row for a task.
func (s *Store) PutTaskRecord(t *TaskRecord) error {
	var started, completed sql.NullString
	if !t.StartedAt.IsZero() {
		started = sql.NullString{String: t.StartedAt.Format(time.RFC3339), Valid: true}
	}
	if !t.CompletedAt.IsZero() {
		completed = sql.NullString{String: t.CompletedAt.Format(time.RFC3339), Valid: true}
	}
	_, err := s.db.Exec(`INSERT INTO tasks
		(id, kind, status, source_path, output_path, auto_classify, skip_archive, progress,
		 current_step, error_message, rjcode, created_at, started_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, output_path=excluded.output_path, progress=excluded.progress,
			current_step=excluded.current_step, error_message=excluded.error_message,
			rjcode=excluded.rjcode, started_at=excluded.started_at, completed_at=excluded.completed_at`,
		t.ID, t.Kind, t.Status, t.SourcePath, t.OutputPath, t.AutoClassify, t.SkipArchive,
		t.Progress, t.CurrentStep, t.ErrorMessage, t.RJCode,
		t.CreatedAt.Format(time.RFC3339), started, completed)
	if err != nil {
		return fmt.Errorf("store: put task record %s: %w", t.ID, err)
	}
	return nil
}

// GetTaskRecord fetches the audit row for a task id.
func (s *Store) GetTaskRecord(id string) (*TaskRecord, error) {
	row := s.db.QueryRow(`SELECT id, kind, status, source_path, output_path, auto_classify,
		skip_archive, progress, current_step, error_message, rjcode, created_at, started_at, completed_at
		FROM tasks WHERE id = ?`, id)

	var t TaskRecord
	var outputPath, currentStep, errMsg, rjcode sql.NullString
	var started, completed sql.NullString
	var createdAt string
	if err := row.Scan(&t.ID, &t.Kind, &t.Status, &t.SourcePath, &outputPath, &t.AutoClassify,
		&t.SkipArchive, &t.Progress, &currentStep, &errMsg, &rjcode, &createdAt, &started, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get task record %s: %w", id, err)
	}
	t.OutputPath = outputPath.String
	t.CurrentStep = currentStep.String
	t.ErrorMessage = errMsg.String
	t.RJCode = rjcode.String
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if started.Valid {
		t.StartedAt, _ = time.Parse(time.RFC3339, started.String)
	}
	if completed.Valid {
		t.CompletedAt, _ = time.Parse(time.RFC3339, completed.String)
	}
	return &t, nil
}

// ListTaskRecords returns persisted task audit rows, newest first. An
// empty status matches every row; this backs `kohai list` and the
// pause/resume/cancel commands, which run as separate one-shot
// processes with no access to a live task.Engine (spec.md §4.1
// "list(filter)").
func (s *Store) ListTaskRecords(status string) ([]TaskRecord, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.Query(`SELECT id, kind, status, source_path, output_path, auto_classify,
			skip_archive, progress, current_step, error_message, rjcode, created_at, started_at, completed_at
			FROM tasks ORDER BY created_at DESC`)
	} else {
		rows, err = s.db.Query(`SELECT id, kind, status, source_path, output_path, auto_classify,
			skip_archive, progress, current_step, error_message, rjcode, created_at, started_at, completed_at
			FROM tasks WHERE status = ? ORDER BY created_at DESC`, status)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list task records: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var t TaskRecord
		var outputPath, currentStep, errMsg, rjcode sql.NullString
		var started, completed sql.NullString
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Kind, &t.Status, &t.SourcePath, &outputPath, &t.AutoClassify,
			&t.SkipArchive, &t.Progress, &currentStep, &errMsg, &rjcode, &createdAt, &started, &completed); err != nil {
			return nil, fmt.Errorf("store: scan task record: %w", err)
		}
		t.OutputPath = outputPath.String
		t.CurrentStep = currentStep.String
		t.ErrorMessage = errMsg.String
		t.RJCode = rjcode.String
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if started.Valid {
			t.StartedAt, _ = time.Parse(time.RFC3339, started.String)
		}
		if completed.Valid {
			t.CompletedAt, _ = time.Parse(time.RFC3339, completed.String)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTaskStatus applies a status/message transition directly to the
// persisted audit row, used by the pause/resume/cancel CLI commands
// and by conflict-resolution callbacks — both of which run without a
// live task.Engine in scope (spec.md §4.1 "updateStatus").
func (s *Store) UpdateTaskStatus(id, status, message string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var res sql.Result
	var err error
	switch status {
	case "completed", "failed":
		res, err = s.db.Exec(`UPDATE tasks SET status = ?, current_step = ?, error_message = CASE WHEN ? = 'failed' THEN ? ELSE error_message END, completed_at = ? WHERE id = ?`,
			status, message, status, message, now, id)
	default:
		res, err = s.db.Exec(`UPDATE tasks SET status = ?, current_step = ? WHERE id = ?`, status, message, id)
	}
	if err != nil {
		return fmt.Errorf("store: update task status %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
