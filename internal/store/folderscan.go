package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GetFolderScanCache returns the cached scan entry for a folder path.
func (s *Store) GetFolderScanCache(folderPath string) (*FolderScanCacheEntry, error) {
	row := s.db.QueryRow(`SELECT folder_path, name, work_code, duplicate_info, file_count,
		folder_size, scanned_at, needs_refresh FROM folder_scan_cache WHERE folder_path = ?`, folderPath)

	var e FolderScanCacheEntry
	var dupJSON sql.NullString
	var scannedAt string
	var needsRefresh int
	if err := row.Scan(&e.FolderPath, &e.Name, &e.WorkCode, &dupJSON, &e.FileCount,
		&e.FolderSize, &scannedAt, &needsRefresh); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get folder scan cache %s: %w", folderPath, err)
	}
	if dupJSON.Valid {
		_ = json.Unmarshal([]byte(dupJSON.String), &e.DuplicateInfo)
	}
	e.ScannedAt, _ = time.Parse(time.RFC3339, scannedAt)
	e.NeedsRefresh = needsRefresh != 0
	return &e, nil
}

// PutFolderScanCache upserts a folder scan cache entry.
func (s *Store) PutFolderScanCache(e *FolderScanCacheEntry) error {
	dupJSON, _ := json.Marshal(e.DuplicateInfo)
	needsRefresh := 0
	if e.NeedsRefresh {
		needsRefresh = 1
	}
	_, err := s.db.Exec(`INSERT INTO folder_scan_cache
		(folder_path, name, work_code, duplicate_info, file_count, folder_size, scanned_at, needs_refresh)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(folder_path) DO UPDATE SET
			name=excluded.name, work_code=excluded.work_code, duplicate_info=excluded.duplicate_info,
			file_count=excluded.file_count, folder_size=excluded.folder_size,
			scanned_at=excluded.scanned_at, needs_refresh=excluded.needs_refresh`,
		e.FolderPath, e.Name, e.WorkCode, string(dupJSON), e.FileCount, e.FolderSize,
		e.ScannedAt.Format(time.RFC3339), needsRefresh)
	if err != nil {
		return fmt.Errorf("store: put folder scan cache %s: %w", e.FolderPath, err)
	}
	return nil
}

// DeleteFolderScanCache removes an entry, e.g. when its folder is gone.
func (s *Store) DeleteFolderScanCache(folderPath string) error {
	_, err := s.db.Exec(`DELETE FROM folder_scan_cache WHERE folder_path = ?`, folderPath)
	if err != nil {
		return fmt.Errorf("store: delete folder scan cache %s: %w", folderPath, err)
	}
	return nil
}
