package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// InsertCleanupLog appends one audit row produced by a sweeper run.
func (s *Store) InsertCleanupLog(l *CleanupLog) error {
	cfgJSON, _ := json.Marshal(l.ConfigSnapshot)
	summaryJSON, _ := json.Marshal(l.Summary)
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO cleanup_logs
		(id, sweeper, count_deleted, freed_bytes, config_snapshot, summary, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		l.ID, l.Sweeper, l.CountDeleted, l.FreedBytes, string(cfgJSON), string(summaryJSON),
		l.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: insert cleanup log %s: %w", l.Sweeper, err)
	}
	return nil
}

// ListCleanupLogs returns up to limit rows for a sweeper, most recent first.
func (s *Store) ListCleanupLogs(sweeper string, limit int) ([]CleanupLog, error) {
	rows, err := s.db.Query(`SELECT id, sweeper, count_deleted, freed_bytes, config_snapshot,
		summary, created_at FROM cleanup_logs WHERE sweeper = ? ORDER BY created_at DESC LIMIT ?`,
		sweeper, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list cleanup logs %s: %w", sweeper, err)
	}
	defer rows.Close()

	var out []CleanupLog
	for rows.Next() {
		var l CleanupLog
		var cfgJSON, summaryJSON, createdAt string
		if err := rows.Scan(&l.ID, &l.Sweeper, &l.CountDeleted, &l.FreedBytes, &cfgJSON, &summaryJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan cleanup log: %w", err)
		}
		_ = json.Unmarshal([]byte(cfgJSON), &l.ConfigSnapshot)
		_ = json.Unmarshal([]byte(summaryJSON), &l.Summary)
		l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, l)
	}
	return out, rows.Err()
}
