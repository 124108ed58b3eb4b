package store

import (
	"fmt"
	"time"
)

// GetLinkageEdges returns all non-expired edges originating at a code.
func (s *Store) GetLinkageEdges(originalCode string, now time.Time) ([]LinkageEdge, error) {
	rows, err := s.db.Query(`SELECT original_code, linked_code, relation_kind, language_code,
		cached_at, expires_at FROM linkage_edges WHERE original_code = ?`, originalCode)
	if err != nil {
		return nil, fmt.Errorf("store: get linkage edges %s: %w", originalCode, err)
	}
	defer rows.Close()

	var out []LinkageEdge
	for rows.Next() {
		var e LinkageEdge
		var cachedAt, expiresAt string
		if err := rows.Scan(&e.OriginalCode, &e.LinkedCode, &e.Relation, &e.Language, &cachedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("store: scan linkage edge: %w", err)
		}
		e.CachedAt, _ = time.Parse(time.RFC3339, cachedAt)
		e.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
		if e.Expired(now) {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PutLinkageEdge upserts a single edge with the CachedAt and ExpiresAt
// the caller supplies.
func (s *Store) PutLinkageEdge(e LinkageEdge) error {
	_, err := s.db.Exec(`INSERT INTO linkage_edges
		(original_code, linked_code, relation_kind, language_code, cached_at, expires_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(original_code, linked_code, language_code) DO UPDATE SET
			relation_kind=excluded.relation_kind, cached_at=excluded.cached_at, expires_at=excluded.expires_at`,
		e.OriginalCode, e.LinkedCode, e.Relation, e.Language,
		e.CachedAt.Format(time.RFC3339), e.ExpiresAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: put linkage edge %s->%s: %w", e.OriginalCode, e.LinkedCode, err)
	}
	return nil
}
