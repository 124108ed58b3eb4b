package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ListPasswordCandidates returns every vault entry, used by the
// extraction engine's candidate-order construction (spec.md §4.3).
func (s *Store) ListPasswordCandidates() ([]PasswordEntry, error) {
	rows, err := s.db.Query(`SELECT id, work_code, filename, password, description, source,
		use_count, last_used_at, created_at, updated_at FROM password_vault`)
	if err != nil {
		return nil, fmt.Errorf("store: list passwords: %w", err)
	}
	defer rows.Close()

	var out []PasswordEntry
	for rows.Next() {
		p, err := scanPassword(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// PutPassword inserts or updates a vault entry.
func (s *Store) PutPassword(p *PasswordEntry) error {
	var lastUsed sql.NullString
	if !p.LastUsedAt.IsZero() {
		lastUsed = sql.NullString{String: p.LastUsedAt.Format(time.RFC3339), Valid: true}
	}
	_, err := s.db.Exec(`INSERT INTO password_vault
		(id, work_code, filename, password, description, source, use_count, last_used_at, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			work_code=excluded.work_code, filename=excluded.filename, password=excluded.password,
			description=excluded.description, source=excluded.source, use_count=excluded.use_count,
			last_used_at=excluded.last_used_at, updated_at=excluded.updated_at`,
		p.ID, p.WorkCode, p.Filename, p.Password, p.Description, p.Source, p.UseCount,
		lastUsed, p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: put password %s: %w", p.ID, err)
	}
	return nil
}

// RecordPasswordUse increments use_count and stamps last_used_at,
// called when a vault password succeeds in TryExtract (spec.md §4.3).
func (s *Store) RecordPasswordUse(id string, now time.Time) error {
	_, err := s.db.Exec(`UPDATE password_vault SET use_count = use_count + 1, updated_at = ?, last_used_at = ?
		WHERE id = ?`, now.Format(time.RFC3339), now.Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("store: record password use %s: %w", id, err)
	}
	return nil
}

// DeletePassword removes a vault entry by id.
func (s *Store) DeletePassword(id string) error {
	_, err := s.db.Exec(`DELETE FROM password_vault WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete password %s: %w", id, err)
	}
	return nil
}

// DeleteStalePasswords removes entries matching the password vault
// sweeper's victim predicate (spec.md §4.9) and returns the deleted rows.
func (s *Store) DeleteStalePasswords(maxUseCount int, olderThan time.Time, excludeSources []PasswordSource) ([]PasswordEntry, error) {
	all, err := s.ListPasswordCandidates()
	if err != nil {
		return nil, err
	}

	excluded := make(map[PasswordSource]bool, len(excludeSources))
	for _, src := range excludeSources {
		excluded[src] = true
	}

	var victims []PasswordEntry
	for _, p := range all {
		if p.UseCount > maxUseCount {
			continue
		}
		if !p.CreatedAt.Before(olderThan) && !p.CreatedAt.Equal(olderThan) {
			continue
		}
		if excluded[p.Source] {
			continue
		}
		victims = append(victims, p)
	}

	for _, v := range victims {
		if err := s.DeletePassword(v.ID); err != nil {
			return nil, err
		}
	}
	return victims, nil
}

func scanPassword(r rowScanner) (*PasswordEntry, error) {
	var p PasswordEntry
	var workCode, filename, description sql.NullString
	var lastUsed sql.NullString
	var createdAt, updatedAt string
	if err := r.Scan(&p.ID, &workCode, &filename, &p.Password, &description, &p.Source,
		&p.UseCount, &lastUsed, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan password: %w", err)
	}
	p.WorkCode = workCode.String
	p.Filename = filename.String
	p.Description = description.String
	if lastUsed.Valid {
		p.LastUsedAt, _ = time.Parse(time.RFC3339, lastUsed.String)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}
