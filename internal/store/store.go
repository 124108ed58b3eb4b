// Package store implements the C2 persistence adapters: typed CRUD
// over the nine entities of spec.md §3, backed by a pure-Go SQLite
// driver. Each entity is owned exclusively by its adapter here; other
// components hold borrowed references by id, never a second in-memory
// copy (spec.md §3 "Ownership").
//
// On-disk migrations and ORM mapping are explicitly out of scope
// (spec.md §1); this package opens the database and applies a fixed
// bootstrap schema itself rather than depending on an external
// migration runner.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is the shared handle all adapters are built from. Every
// operation opens a short-lived statement against the shared *sql.DB
// and lets the driver pool connections — matching the teacher's
// "each operation opens a session, commits, closes" policy (spec.md §5).
type Store struct {
	db *sql.DB
}

// Open creates (or attaches to) the sqlite database at path and
// applies the bootstrap schema. Safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite: serialize writers to avoid SQLITE_BUSY
	s := &Store{db: db}
	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	source_path TEXT NOT NULL,
	output_path TEXT,
	auto_classify INTEGER NOT NULL,
	skip_archive INTEGER NOT NULL,
	progress INTEGER NOT NULL,
	current_step TEXT,
	error_message TEXT,
	rjcode TEXT,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS metadata_cache (
	work_code TEXT PRIMARY KEY,
	work_name TEXT,
	maker_id TEXT,
	maker_name TEXT,
	release_date TEXT,
	series_id TEXT,
	series_name TEXT,
	age_category TEXT,
	tags TEXT,
	cvs TEXT,
	cover_url TEXT,
	translated_title TEXT,
	cached_at TEXT NOT NULL,
	expires_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS library_snapshot (
	work_code TEXT PRIMARY KEY,
	folder_path TEXT NOT NULL,
	folder_size INTEGER NOT NULL,
	file_count INTEGER NOT NULL,
	scanned_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conflict_records (
	id TEXT PRIMARY KEY,
	task_id TEXT,
	work_code TEXT NOT NULL,
	kind TEXT NOT NULL,
	existing_path TEXT,
	new_path TEXT NOT NULL,
	staged_metadata TEXT,
	resolution TEXT NOT NULL,
	linked_works_info TEXT,
	analysis_info TEXT,
	related_rjcodes TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS archived_sources (
	id TEXT PRIMARY KEY,
	original_path TEXT NOT NULL,
	current_path TEXT NOT NULL,
	filename TEXT NOT NULL UNIQUE,
	work_code TEXT,
	size INTEGER NOT NULL,
	processed_at TEXT NOT NULL,
	process_count INTEGER NOT NULL,
	linking_task_id TEXT,
	status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS password_vault (
	id TEXT PRIMARY KEY,
	work_code TEXT,
	filename TEXT,
	password TEXT NOT NULL,
	description TEXT,
	source TEXT NOT NULL,
	use_count INTEGER NOT NULL,
	last_used_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS linkage_edges (
	original_code TEXT NOT NULL,
	linked_code TEXT NOT NULL,
	relation_kind TEXT NOT NULL,
	language_code TEXT,
	cached_at TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	PRIMARY KEY (original_code, linked_code, language_code)
);

CREATE TABLE IF NOT EXISTS folder_scan_cache (
	folder_path TEXT PRIMARY KEY,
	name TEXT,
	work_code TEXT,
	duplicate_info TEXT,
	file_count INTEGER NOT NULL,
	folder_size INTEGER NOT NULL,
	scanned_at TEXT NOT NULL,
	needs_refresh INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cleanup_logs (
	id TEXT PRIMARY KEY,
	sweeper TEXT NOT NULL,
	count_deleted INTEGER NOT NULL,
	freed_bytes INTEGER NOT NULL,
	config_snapshot TEXT,
	summary TEXT,
	created_at TEXT NOT NULL
);
`

func (s *Store) bootstrap() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: bootstrap schema: %w", err)
	}
	return nil
}
