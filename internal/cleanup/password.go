// Package cleanup implements the C13 scheduled sweepers: the password
// vault sweeper and the archived-source sweeper, each cron-scheduled,
// each with a dry-run preview and a persisted run history (spec.md
// §4.9 "Password vault cleanup", §4.11 "Archived-source cleanup").
package cleanup

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ppiankov/kohai/internal/config"
	"github.com/ppiankov/kohai/internal/store"
	"github.com/ppiankov/kohai/internal/taskid"
)

func cronRunID() string { return taskid.New() }

// PasswordResult summarizes one run (real or dry-run) of the password
// vault sweeper.
type PasswordResult struct {
	DeletedCount int
	Deleted      []store.PasswordEntry
	DryRun       bool
}

// PasswordSweeper periodically deletes vault entries that are rarely
// used and old enough to no longer be worth keeping.
type PasswordSweeper struct {
	Store *store.Store

	mu     sync.Mutex
	cfg    config.PasswordCleanup
	cron   *cron.Cron
	entryID cron.EntryID
}

// NewPasswordSweeper builds a sweeper bound to its store and config section.
func NewPasswordSweeper(st *store.Store, cfg config.PasswordCleanup) *PasswordSweeper {
	return &PasswordSweeper{Store: st, cfg: cfg}
}

// Start schedules the sweeper's cron job. A no-op if disabled or
// already running.
func (s *PasswordSweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return nil
	}
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	id, err := c.AddFunc(s.cfg.CronExpression, func() {
		if _, err := s.RunNow(false); err != nil {
			_ = err // best-effort; a failed run writes no cleanup_logs row
		}
	})
	if err != nil {
		return fmt.Errorf("cleanup: schedule password sweeper: %w", err)
	}
	s.cron = c
	s.entryID = id
	c.Start()
	return nil
}

// Stop cancels the scheduled job, if running.
func (s *PasswordSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return
	}
	s.cron.Stop()
	s.cron = nil
}

// Restart swaps in cfg and restarts the job.
func (s *PasswordSweeper) Restart(cfg config.PasswordCleanup) error {
	s.Stop()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return s.Start()
}

// Preview runs the sweep in dry-run mode: it reports what would be
// deleted without touching the vault.
func (s *PasswordSweeper) Preview() (*PasswordResult, error) {
	return s.RunNow(true)
}

// RunNow evaluates the victim predicate (use_count <= max, created_at
// older than preserve_days, source not excluded) and, unless dryRun,
// deletes the matches and appends a cleanup_logs row.
func (s *PasswordSweeper) RunNow(dryRun bool) (*PasswordResult, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.PreserveDays)
	excluded := make([]store.PasswordSource, 0, len(cfg.ExcludeSources))
	for _, src := range cfg.ExcludeSources {
		excluded = append(excluded, store.PasswordSource(src))
	}

	if dryRun {
		victims, err := s.previewVictims(cfg.MaxUseCount, cutoff, excluded)
		if err != nil {
			return nil, fmt.Errorf("cleanup: preview password sweep: %w", err)
		}
		return &PasswordResult{DeletedCount: len(victims), Deleted: victims, DryRun: true}, nil
	}

	victims, err := s.Store.DeleteStalePasswords(cfg.MaxUseCount, cutoff, excluded)
	if err != nil {
		return nil, fmt.Errorf("cleanup: run password sweep: %w", err)
	}

	summary := make([]string, 0, len(victims))
	for _, v := range victims {
		summary = append(summary, fmt.Sprintf("%s (%s, used %dx)", v.WorkCode, v.ID, v.UseCount))
	}
	if err := s.Store.InsertCleanupLog(&store.CleanupLog{
		ID:           cronRunID(),
		Sweeper:      "password_vault",
		CountDeleted: len(victims),
		ConfigSnapshot: map[string]any{
			"max_use_count": cfg.MaxUseCount, "preserve_days": cfg.PreserveDays,
			"exclude_sources": cfg.ExcludeSources,
		},
		Summary: summary,
	}); err != nil {
		return nil, fmt.Errorf("cleanup: log password sweep: %w", err)
	}

	return &PasswordResult{DeletedCount: len(victims), Deleted: victims}, nil
}

// History returns the most recent sweep runs, newest first.
func (s *PasswordSweeper) History(limit int) ([]store.CleanupLog, error) {
	return s.Store.ListCleanupLogs("password_vault", limit)
}

// previewVictims mirrors DeleteStalePasswords's predicate without
// deleting anything.
func (s *PasswordSweeper) previewVictims(maxUseCount int, cutoff time.Time, excluded []store.PasswordSource) ([]store.PasswordEntry, error) {
	all, err := s.Store.ListPasswordCandidates()
	if err != nil {
		return nil, err
	}
	excludedSet := make(map[store.PasswordSource]bool, len(excluded))
	for _, src := range excluded {
		excludedSet[src] = true
	}
	var victims []store.PasswordEntry
	for _, p := range all {
		if p.UseCount > maxUseCount {
			continue
		}
		if !p.CreatedAt.Before(cutoff) && !p.CreatedAt.Equal(cutoff) {
			continue
		}
		if excludedSet[p.Source] {
			continue
		}
		victims = append(victims, p)
	}
	return victims, nil
}
