package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// CreateConflict inserts a new conflict record, honoring the
// idempotence rule (spec.md §4.8): a Pending record already exists
// for the work code, or the new-side path no longer exists, skip.
// Returns (nil, nil) when the insert was skipped.
func (s *Store) CreateConflict(c *ConflictRecord) (*ConflictRecord, error) {
	if _, err := os.Stat(c.NewPath); err != nil {
		return nil, nil
	}

	existing, err := s.PendingConflictForWorkCode(c.WorkCode)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}

	stagedJSON, _ := json.Marshal(c.StagedMetadata)
	linkedJSON, _ := json.Marshal(c.LinkedWorksInfo)
	analysisJSON, _ := json.Marshal(c.AnalysisInfo)
	relatedJSON, _ := json.Marshal(c.RelatedRJCodes)

	if c.Resolution == "" {
		c.Resolution = ResolutionPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(`INSERT INTO conflict_records
		(id, task_id, work_code, kind, existing_path, new_path, staged_metadata,
		 resolution, linked_works_info, analysis_info, related_rjcodes, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.TaskID, c.WorkCode, c.Kind, c.ExistingPath, c.NewPath, string(stagedJSON),
		c.Resolution, string(linkedJSON), string(analysisJSON), string(relatedJSON),
		c.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("store: create conflict %s: %w", c.WorkCode, err)
	}
	return c, nil
}

// PendingConflictForWorkCode returns the single Pending record for a
// work code, if any (spec.md §3 invariant: at most one).
func (s *Store) PendingConflictForWorkCode(workCode string) (*ConflictRecord, error) {
	row := s.db.QueryRow(`SELECT id, task_id, work_code, kind, existing_path, new_path,
		staged_metadata, resolution, linked_works_info, analysis_info, related_rjcodes, created_at
		FROM conflict_records WHERE work_code = ? AND resolution = ?`, workCode, ResolutionPending)
	return scanConflict(row)
}

// ListPendingConflicts returns every conflict still awaiting an
// operator decision, newest first.
func (s *Store) ListPendingConflicts() ([]ConflictRecord, error) {
	rows, err := s.db.Query(`SELECT id, task_id, work_code, kind, existing_path, new_path,
		staged_metadata, resolution, linked_works_info, analysis_info, related_rjcodes, created_at
		FROM conflict_records WHERE resolution = ? ORDER BY created_at DESC`, ResolutionPending)
	if err != nil {
		return nil, fmt.Errorf("store: list pending conflicts: %w", err)
	}
	defer rows.Close()

	var out []ConflictRecord
	for rows.Next() {
		var c ConflictRecord
		var taskID, stagedJSON, linkedJSON, analysisJSON, relatedJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &taskID, &c.WorkCode, &c.Kind, &c.ExistingPath, &c.NewPath,
			&stagedJSON, &c.Resolution, &linkedJSON, &analysisJSON, &relatedJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan pending conflict: %w", err)
		}
		c.TaskID = taskID.String
		if stagedJSON.Valid && stagedJSON.String != "" && stagedJSON.String != "null" {
			var m WorkMetadata
			if json.Unmarshal([]byte(stagedJSON.String), &m) == nil {
				c.StagedMetadata = &m
			}
		}
		_ = json.Unmarshal([]byte(linkedJSON.String), &c.LinkedWorksInfo)
		_ = json.Unmarshal([]byte(analysisJSON.String), &c.AnalysisInfo)
		_ = json.Unmarshal([]byte(relatedJSON.String), &c.RelatedRJCodes)
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConflict fetches a conflict record by id.
func (s *Store) GetConflict(id string) (*ConflictRecord, error) {
	row := s.db.QueryRow(`SELECT id, task_id, work_code, kind, existing_path, new_path,
		staged_metadata, resolution, linked_works_info, analysis_info, related_rjcodes, created_at
		FROM conflict_records WHERE id = ?`, id)
	return scanConflict(row)
}

// ResolveConflict stores the operator's chosen resolution action.
func (s *Store) ResolveConflict(id string, resolution Resolution) error {
	res, err := s.db.Exec(`UPDATE conflict_records SET resolution = ? WHERE id = ?`, resolution, id)
	if err != nil {
		return fmt.Errorf("store: resolve conflict %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConflict(row *sql.Row) (*ConflictRecord, error) {
	var c ConflictRecord
	var taskID, stagedJSON, linkedJSON, analysisJSON, relatedJSON sql.NullString
	var createdAt string
	if err := row.Scan(&c.ID, &taskID, &c.WorkCode, &c.Kind, &c.ExistingPath, &c.NewPath,
		&stagedJSON, &c.Resolution, &linkedJSON, &analysisJSON, &relatedJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan conflict: %w", err)
	}
	c.TaskID = taskID.String
	if stagedJSON.Valid && stagedJSON.String != "" && stagedJSON.String != "null" {
		var m WorkMetadata
		if json.Unmarshal([]byte(stagedJSON.String), &m) == nil {
			c.StagedMetadata = &m
		}
	}
	_ = json.Unmarshal([]byte(linkedJSON.String), &c.LinkedWorksInfo)
	_ = json.Unmarshal([]byte(analysisJSON.String), &c.AnalysisInfo)
	_ = json.Unmarshal([]byte(relatedJSON.String), &c.RelatedRJCodes)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}
