package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by adapter Get methods when no row matches.
var ErrNotFound = errors.New("store: not found")

// GetMetadata returns the cached catalog record for a work code.
func (s *Store) GetMetadata(workCode string) (*WorkMetadata, error) {
	row := s.db.QueryRow(`SELECT work_code, work_name, maker_id, maker_name, release_date,
		series_id, series_name, age_category, tags, cvs, cover_url, translated_title, cached_at, expires_at
		FROM metadata_cache WHERE work_code = ?`, workCode)

	var m WorkMetadata
	var tagsJSON, cvsJSON string
	var translatedTitle sql.NullString
	var cachedAt, expiresAt string
	if err := row.Scan(&m.WorkCode, &m.WorkName, &m.MakerID, &m.MakerName, &m.ReleaseDate,
		&m.SeriesID, &m.SeriesName, &m.AgeCategory, &tagsJSON, &cvsJSON, &m.CoverURL,
		&translatedTitle, &cachedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get metadata %s: %w", workCode, err)
	}
	_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
	_ = json.Unmarshal([]byte(cvsJSON), &m.CVs)
	m.TranslatedTitle = translatedTitle.String
	m.CachedAt, _ = time.Parse(time.RFC3339, cachedAt)
	m.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	return &m, nil
}

// PutMetadata upserts a catalog record.
func (s *Store) PutMetadata(m *WorkMetadata) error {
	tagsJSON, _ := json.Marshal(m.Tags)
	cvsJSON, _ := json.Marshal(m.CVs)
	_, err := s.db.Exec(`INSERT INTO metadata_cache
		(work_code, work_name, maker_id, maker_name, release_date, series_id, series_name,
		 age_category, tags, cvs, cover_url, translated_title, cached_at, expires_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(work_code) DO UPDATE SET
			work_name=excluded.work_name, maker_id=excluded.maker_id, maker_name=excluded.maker_name,
			release_date=excluded.release_date, series_id=excluded.series_id, series_name=excluded.series_name,
			age_category=excluded.age_category, tags=excluded.tags, cvs=excluded.cvs,
			cover_url=excluded.cover_url, translated_title=excluded.translated_title,
			cached_at=excluded.cached_at, expires_at=excluded.expires_at`,
		m.WorkCode, m.WorkName, m.MakerID, m.MakerName, m.ReleaseDate, m.SeriesID, m.SeriesName,
		m.AgeCategory, string(tagsJSON), string(cvsJSON), m.CoverURL, m.TranslatedTitle,
		m.CachedAt.Format(time.RFC3339), m.ExpiresAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: put metadata %s: %w", m.WorkCode, err)
	}
	return nil
}

// InvalidateMetadata deletes the cached record for a work code, forcing
// the next resolve to hit the catalog again.
func (s *Store) InvalidateMetadata(workCode string) error {
	_, err := s.db.Exec(`DELETE FROM metadata_cache WHERE work_code = ?`, workCode)
	if err != nil {
		return fmt.Errorf("store: invalidate metadata %s: %w", workCode, err)
	}
	return nil
}
