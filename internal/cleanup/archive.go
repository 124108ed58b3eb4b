package cleanup

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"github.com/ppiankov/kohai/internal/config"
	"github.com/ppiankov/kohai/internal/store"
)

// ArchiveResult summarizes one run of the archived-source sweeper.
type ArchiveResult struct {
	DeletedCount   int
	FreedBytes     int64
	Deleted        []store.ArchivedSource
	DryRun         bool
}

// ArchiveSweeper periodically deletes processed source archives
// according to the configured retention strategy (age, count, or size).
type ArchiveSweeper struct {
	Store *store.Store

	mu   sync.Mutex
	cfg  config.ArchiveCleanup
	cron *cron.Cron
}

// NewArchiveSweeper builds a sweeper bound to its store and config section.
func NewArchiveSweeper(st *store.Store, cfg config.ArchiveCleanup) *ArchiveSweeper {
	return &ArchiveSweeper{Store: st, cfg: cfg}
}

// Start schedules the sweeper's cron job. A no-op if disabled or already running.
func (s *ArchiveSweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return nil
	}
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.cfg.CronExpression, func() {
		_, _ = s.RunNow(false)
	}); err != nil {
		return fmt.Errorf("cleanup: schedule archive sweeper: %w", err)
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop cancels the scheduled job, if running.
func (s *ArchiveSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return
	}
	s.cron.Stop()
	s.cron = nil
}

// Restart swaps in cfg and restarts the job.
func (s *ArchiveSweeper) Restart(cfg config.ArchiveCleanup) error {
	s.Stop()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return s.Start()
}

// Preview runs the sweep in dry-run mode: reports what would be
// deleted without touching the filesystem or the archived_sources table.
func (s *ArchiveSweeper) Preview() (*ArchiveResult, error) {
	return s.RunNow(true)
}

// RunNow selects victims per the configured strategy and, unless
// dryRun, removes the underlying file plus its archived_sources row,
// then appends a cleanup_logs entry.
func (s *ArchiveSweeper) RunNow(dryRun bool) (*ArchiveResult, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	all, err := s.Store.ListArchivedSources()
	if err != nil {
		return nil, fmt.Errorf("cleanup: list archived sources: %w", err)
	}
	if cfg.ExcludeReprocessing {
		kept := all[:0]
		for _, a := range all {
			if a.Status != store.ArchivedReprocessing {
				kept = append(kept, a)
			}
		}
		all = kept
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ProcessedAt.Before(all[j].ProcessedAt) })

	victims := selectVictims(cfg, all)

	result := &ArchiveResult{DeletedCount: len(victims), Deleted: victims, DryRun: dryRun}
	for _, v := range victims {
		result.FreedBytes += v.Size
	}
	if dryRun {
		return result, nil
	}

	var deleted []store.ArchivedSource
	var freed int64
	for _, v := range victims {
		if v.CurrentPath != "" {
			if _, statErr := os.Stat(v.CurrentPath); statErr == nil {
				if rmErr := os.Remove(v.CurrentPath); rmErr != nil {
					continue
				}
			}
		}
		if err := s.Store.DeleteArchivedSource(v.ID); err != nil {
			continue
		}
		deleted = append(deleted, v)
		freed += v.Size
	}

	summary := make([]string, 0, len(deleted))
	for _, d := range deleted {
		summary = append(summary, fmt.Sprintf("%s (%s)", d.Filename, humanize.Bytes(uint64(d.Size))))
	}
	if err := s.Store.InsertCleanupLog(&store.CleanupLog{
		ID:           cronRunID(),
		Sweeper:      "archived_source",
		CountDeleted: len(deleted),
		FreedBytes:   freed,
		ConfigSnapshot: map[string]any{
			"strategy": cfg.Strategy, "preserve_days": cfg.PreserveDays,
			"max_count": cfg.MaxCount, "max_size_gb": cfg.MaxSizeGB,
		},
		Summary: summary,
	}); err != nil {
		return nil, fmt.Errorf("cleanup: log archive sweep: %w", err)
	}

	result.DeletedCount = len(deleted)
	result.FreedBytes = freed
	result.Deleted = deleted
	return result, nil
}

// History returns the most recent sweep runs, newest first.
func (s *ArchiveSweeper) History(limit int) ([]store.CleanupLog, error) {
	return s.Store.ListCleanupLogs("archived_source", limit)
}

// selectVictims applies the configured retention strategy to an
// already oldest-first-sorted list (spec.md §4.11 "Retention strategies").
func selectVictims(cfg config.ArchiveCleanup, all []store.ArchivedSource) []store.ArchivedSource {
	switch cfg.Strategy {
	case "age":
		cutoff := time.Now().UTC().AddDate(0, 0, -cfg.PreserveDays)
		var victims []store.ArchivedSource
		for _, a := range all {
			if !a.ProcessedAt.IsZero() && !a.ProcessedAt.After(cutoff) {
				victims = append(victims, a)
			}
		}
		return victims

	case "count":
		if len(all) <= cfg.MaxCount {
			return nil
		}
		return append([]store.ArchivedSource(nil), all[:len(all)-cfg.MaxCount]...)

	case "size":
		var total int64
		for _, a := range all {
			total += a.Size
		}
		maxBytes := int64(cfg.MaxSizeGB * 1024 * 1024 * 1024)
		if total <= maxBytes {
			return nil
		}
		var victims []store.ArchivedSource
		current := total
		for _, a := range all {
			if current <= maxBytes {
				break
			}
			victims = append(victims, a)
			current -= a.Size
		}
		return victims
	}
	return nil
}
