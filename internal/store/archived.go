package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetArchivedSourceByFilename looks up a row by its uniqueness key
// (spec.md §3 ArchivedSource "Uniqueness key: filename").
func (s *Store) GetArchivedSourceByFilename(filename string) (*ArchivedSource, error) {
	row := s.db.QueryRow(`SELECT id, original_path, current_path, filename, work_code, size,
		processed_at, process_count, linking_task_id, status
		FROM archived_sources WHERE filename = ?`, filename)
	return scanArchivedSource(row)
}

// GetArchivedSource fetches a row by id.
func (s *Store) GetArchivedSource(id string) (*ArchivedSource, error) {
	row := s.db.QueryRow(`SELECT id, original_path, current_path, filename, work_code, size,
		processed_at, process_count, linking_task_id, status
		FROM archived_sources WHERE id = ?`, id)
	return scanArchivedSource(row)
}

// PutArchivedSource upserts a row by filename.
func (s *Store) PutArchivedSource(a *ArchivedSource) error {
	_, err := s.db.Exec(`INSERT INTO archived_sources
		(id, original_path, current_path, filename, work_code, size, processed_at,
		 process_count, linking_task_id, status)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(filename) DO UPDATE SET
			current_path=excluded.current_path, work_code=excluded.work_code, size=excluded.size,
			processed_at=excluded.processed_at, process_count=excluded.process_count,
			linking_task_id=excluded.linking_task_id, status=excluded.status`,
		a.ID, a.OriginalPath, a.CurrentPath, a.Filename, a.WorkCode, a.Size,
		a.ProcessedAt.Format(time.RFC3339), a.ProcessCount, a.LinkingTaskID, a.Status)
	if err != nil {
		return fmt.Errorf("store: put archived source %s: %w", a.Filename, err)
	}
	return nil
}

// SetArchivedSourceStatus updates only the status column, used by the
// conflict resolution handler (spec.md §4.8).
func (s *Store) SetArchivedSourceStatus(filename string, status ArchivedSourceStatus) error {
	_, err := s.db.Exec(`UPDATE archived_sources SET status = ? WHERE filename = ?`, status, filename)
	if err != nil {
		return fmt.Errorf("store: set archived source status %s: %w", filename, err)
	}
	return nil
}

// DeleteArchivedSource removes a row by id (used by the archive sweeper).
func (s *Store) DeleteArchivedSource(id string) error {
	_, err := s.db.Exec(`DELETE FROM archived_sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete archived source %s: %w", id, err)
	}
	return nil
}

// ListArchivedSources returns all rows, oldest processed_at first.
func (s *Store) ListArchivedSources() ([]ArchivedSource, error) {
	rows, err := s.db.Query(`SELECT id, original_path, current_path, filename, work_code, size,
		processed_at, process_count, linking_task_id, status
		FROM archived_sources ORDER BY processed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list archived sources: %w", err)
	}
	defer rows.Close()

	var out []ArchivedSource
	for rows.Next() {
		a, err := scanArchivedSourceRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArchivedSource(row *sql.Row) (*ArchivedSource, error) {
	a, err := scanArchivedSourceRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func scanArchivedSourceRows(r rowScanner) (*ArchivedSource, error) {
	var a ArchivedSource
	var workCode, linkingTaskID sql.NullString
	var processedAt string
	if err := r.Scan(&a.ID, &a.OriginalPath, &a.CurrentPath, &a.Filename, &workCode, &a.Size,
		&processedAt, &a.ProcessCount, &linkingTaskID, &a.Status); err != nil {
		return nil, fmt.Errorf("store: scan archived source: %w", err)
	}
	a.WorkCode = workCode.String
	a.LinkingTaskID = linkingTaskID.String
	a.ProcessedAt, _ = time.Parse(time.RFC3339, processedAt)
	return &a, nil
}
