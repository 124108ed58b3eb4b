package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"
)

// GetLibrarySnapshot returns the snapshot row for a work code, auto-purging
// it if the recorded folder no longer exists on disk (spec.md §3 invariant).
func (s *Store) GetLibrarySnapshot(workCode string) (*LibrarySnapshotRow, error) {
	row := s.db.QueryRow(`SELECT work_code, folder_path, folder_size, file_count, scanned_at
		FROM library_snapshot WHERE work_code = ?`, workCode)

	var r LibrarySnapshotRow
	var scannedAt string
	if err := row.Scan(&r.WorkCode, &r.FolderPath, &r.FolderSize, &r.FileCount, &scannedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get library snapshot %s: %w", workCode, err)
	}
	r.ScannedAt, _ = time.Parse(time.RFC3339, scannedAt)

	if _, statErr := os.Stat(r.FolderPath); statErr != nil {
		_ = s.DeleteLibrarySnapshot(workCode)
		return nil, ErrNotFound
	}
	return &r, nil
}

// PutLibrarySnapshot deletes-then-inserts a snapshot row, enforcing the
// at-most-one-row-per-work-code invariant (spec.md §4.7 "delete-then-insert").
func (s *Store) PutLibrarySnapshot(r *LibrarySnapshotRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: put library snapshot %s: %w", r.WorkCode, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM library_snapshot WHERE work_code = ?`, r.WorkCode); err != nil {
		return fmt.Errorf("store: put library snapshot %s: %w", r.WorkCode, err)
	}
	if _, err := tx.Exec(`INSERT INTO library_snapshot (work_code, folder_path, folder_size, file_count, scanned_at)
		VALUES (?,?,?,?,?)`, r.WorkCode, r.FolderPath, r.FolderSize, r.FileCount,
		r.ScannedAt.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("store: put library snapshot %s: %w", r.WorkCode, err)
	}
	return tx.Commit()
}

// DeleteLibrarySnapshot removes a stale or superseded row.
func (s *Store) DeleteLibrarySnapshot(workCode string) error {
	_, err := s.db.Exec(`DELETE FROM library_snapshot WHERE work_code = ?`, workCode)
	if err != nil {
		return fmt.Errorf("store: delete library snapshot %s: %w", workCode, err)
	}
	return nil
}

// FindLibraryByCodeSubstring scans the snapshot table for any folder
// path containing the given code — the fallback path of the direct
// duplicate check (spec.md §4.6 point 1, "scan library root").
func (s *Store) FindLibraryByCodeSubstring(code string) (*LibrarySnapshotRow, error) {
	rows, err := s.db.Query(`SELECT work_code, folder_path, folder_size, file_count, scanned_at
		FROM library_snapshot WHERE folder_path LIKE '%' || ? || '%'`, code)
	if err != nil {
		return nil, fmt.Errorf("store: scan library for %s: %w", code, err)
	}
	defer rows.Close()

	for rows.Next() {
		var r LibrarySnapshotRow
		var scannedAt string
		if err := rows.Scan(&r.WorkCode, &r.FolderPath, &r.FolderSize, &r.FileCount, &scannedAt); err != nil {
			continue
		}
		r.ScannedAt, _ = time.Parse(time.RFC3339, scannedAt)
		if _, statErr := os.Stat(r.FolderPath); statErr == nil {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}
