// Package engine is the composition root: it wires the catalog,
// archive tool, extractor, metadata resolver, duplicate detector,
// transform stage, and classifier into the task.Handler the C11
// dispatcher runs for each task kind (spec.md §4 "Pipeline overview").
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/kohai/internal/archivetool"
	"github.com/ppiankov/kohai/internal/catalog"
	"github.com/ppiankov/kohai/internal/classify"
	"github.com/ppiankov/kohai/internal/companion"
	"github.com/ppiankov/kohai/internal/config"
	"github.com/ppiankov/kohai/internal/dup"
	"github.com/ppiankov/kohai/internal/extract"
	"github.com/ppiankov/kohai/internal/metadata"
	"github.com/ppiankov/kohai/internal/store"
	"github.com/ppiankov/kohai/internal/task"
	"github.com/ppiankov/kohai/internal/taskid"
	"github.com/ppiankov/kohai/internal/transform"
)

// Pipeline holds every stage a task's handler can call into.
type Pipeline struct {
	Cfg        *config.Config
	Store      *store.Store
	Extract    *extract.Engine
	Metadata   *metadata.Resolver
	Dup        *dup.Detector
	Classifier *classify.Classifier
	Renamer    *transform.Renamer
}

// NewPipeline builds every stage from the loaded configuration.
func NewPipeline(cfg *config.Config, st *store.Store) *Pipeline {
	tool := archivetool.New(cfg.Extract.SevenZipPath)
	cat := catalog.New(cfg.Catalog.BaseURL, cfg.Metadata.Locale,
		time.Duration(cfg.Metadata.ConnectTimeout)*time.Second,
		time.Duration(cfg.Metadata.ReadTimeout)*time.Second)
	comp := companion.New(cfg.CompanionServer.Enabled, cfg.CompanionServer.ServerURL, cfg.CompanionServer.APIToken,
		time.Duration(cfg.CompanionServer.TimeoutS)*time.Second,
		time.Duration(cfg.CompanionServer.CacheTTLS)*time.Second)

	return &Pipeline{
		Cfg:        cfg,
		Store:      st,
		Extract:    extract.New(tool, st, &cfg.Extract, &cfg.Processing, cfg.Storage.TempPath),
		Metadata:   metadata.New(cat, st, 24*time.Hour),
		Dup:        dup.New(st, cat, comp, cfg.Storage.LibraryPath, 24*time.Hour),
		Classifier: classify.New(cfg, st, cfg.Storage.LibraryPath),
		Renamer:    transform.New(&cfg.Rename),
	}
}

// Handler returns the task.Handler the engine's worker pool runs for
// every task (spec.md §4.9 "Task engine").
func (p *Pipeline) Handler() task.Handler {
	return func(t *task.Task) error {
		switch t.Kind {
		case task.KindAutoProcess, task.KindExtract:
			return p.runAutoProcess(t)
		case task.KindProcessExistingFolder:
			return p.runExistingFolder(t)
		case task.KindFilter:
			return p.runFilterOnly(t)
		case task.KindMetadata:
			return p.runMetadataOnly(t)
		case task.KindRename:
			return p.runRenameOnly(t)
		default:
			return fmt.Errorf("engine: unknown task kind %q", t.Kind)
		}
	}
}

// runAutoProcess is the full archive → library pipeline driven by the
// watcher and by manual submissions (spec.md §4 steps 1-7).
func (p *Pipeline) runAutoProcess(t *task.Task) error {
	ctx := context.Background()

	if code, err := metadata.ExtractWorkCode(filepath.Base(t.SourcePath)); err == nil {
		t.SetRJCode(code)
		if dupResult, quarantined, err := p.precheckDuplicate(t, code); err != nil {
			return err
		} else if quarantined {
			_ = dupResult
			return nil
		}
	}

	result, err := p.Extract.Extract(ctx, t.SourcePath, t)
	if err != nil {
		return fmt.Errorf("engine: extract %s: %w", t.SourcePath, err)
	}
	if result == nil {
		return nil // cancelled mid-flight
	}
	t.OutputPath = result.OutputPath

	if err := p.fileExtractedFolder(t, result.OutputPath); err != nil {
		return err
	}

	if err := p.archiveSource(t, result); err != nil {
		fmt.Fprintf(os.Stderr, "engine: archive source %s: %v\n", t.SourcePath, err)
	}
	return nil
}

// runExistingFolder reprocesses a folder that is already extracted,
// used for reruns and for bulk import of a pre-existing library
// staging area (spec.md §4.10 "Process existing folder").
func (p *Pipeline) runExistingFolder(t *task.Task) error {
	if code, err := metadata.ExtractWorkCode(filepath.Base(t.SourcePath)); err == nil {
		t.SetRJCode(code)
	}
	return p.fileExtractedFolder(t, t.SourcePath)
}

// fileExtractedFolder runs metadata resolution, duplicate detection,
// filtering, flattening, renaming, and classification against an
// already-extracted folder, then moves it into the library.
func (p *Pipeline) fileExtractedFolder(t *task.Task, folder string) error {
	if err := t.WaitIfPaused(context.Background()); err != nil {
		return err
	}
	if t.IsCancelled() {
		return nil
	}

	t.UpdateProgress(70, "resolving metadata")
	m, err := p.Metadata.Resolve(filepath.Base(folder))
	if err != nil && err != metadata.ErrNoWorkCode {
		fmt.Fprintf(os.Stderr, "engine: metadata resolve %s: %v\n", folder, err)
	}
	if m == nil {
		m = &store.WorkMetadata{WorkCode: t.RJCode}
	}
	if m.WorkCode != "" {
		t.SetRJCode(m.WorkCode)
	}

	t.UpdateProgress(80, "checking for duplicates")
	if m.WorkCode != "" {
		if result, err := p.Dup.Check(m.WorkCode); err != nil {
			fmt.Fprintf(os.Stderr, "engine: duplicate check %s: %v\n", m.WorkCode, err)
		} else if result.IsDuplicate {
			quarantined, err := p.Classifier.Quarantine(folder)
			if err != nil {
				return fmt.Errorf("engine: quarantine %s: %w", folder, err)
			}
			// Record against the quarantined path, not the pre-move
			// folder: that's where resolution will find it later. The
			// post-check always records a plain duplicate.
			result.Kind = store.ConflictDuplicate
			if _, err := p.Dup.RecordConflict(t.ID, m.WorkCode, quarantined, result, m); err != nil {
				return fmt.Errorf("engine: record conflict %s: %w", m.WorkCode, err)
			}
			t.OutputPath = quarantined
			t.WaitManual()
			return nil
		}
	}

	if !t.AutoClassify {
		return nil
	}

	t.UpdateProgress(85, "filtering")
	transform.Filter(folder, &p.Cfg.Filter)

	t.UpdateProgress(87, "flattening")
	if err := transform.FlattenSingleSubfolder(folder, &p.Cfg.Rename); err != nil {
		fmt.Fprintf(os.Stderr, "engine: flatten %s: %v\n", folder, err)
	}
	if p.Cfg.Rename.RemoveEmptyFolders {
		transform.RemoveEmptyFolders(folder, false)
	}

	t.UpdateProgress(90, "renaming")
	renamed, err := p.Renamer.Rename(folder, m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: rename %s: %v\n", folder, err)
		renamed = folder
	}

	t.UpdateProgress(92, "applying classification rules")
	targetDir := p.Classifier.TargetDir(m)

	t.UpdateProgress(95, "filing to library")
	final, err := p.Classifier.MoveToLibrary(renamed, targetDir, m.WorkCode)
	if err != nil {
		return fmt.Errorf("engine: classify %s: %w", renamed, err)
	}
	t.OutputPath = final
	return nil
}

// precheckDuplicate mirrors the original's pre-extraction short-circuit:
// if the work code is already in the library, the source archive is
// recorded as a pending conflict without ever being extracted (spec.md
// §4.6 "Pre-extraction check"). Codes in flight under another task are
// not checked.
func (p *Pipeline) precheckDuplicate(t *task.Task, code string) (*dup.Result, bool, error) {
	result, err := p.Dup.Check(code)
	if err != nil {
		return nil, false, fmt.Errorf("engine: precheck duplicate %s: %w", code, err)
	}
	if !result.IsDuplicate {
		return result, false, nil
	}
	if _, err := p.Dup.RecordConflict(t.ID, code, t.SourcePath, result, nil); err != nil {
		return nil, false, fmt.Errorf("engine: record precheck conflict %s: %w", code, err)
	}
	t.WaitManual()
	return result, true, nil
}

// archiveSource relocates the original archive file into the
// processed-archives pool and records it for the C13 sweeper (spec.md
// §4.11 "Archived source tracking").
func (p *Pipeline) archiveSource(t *task.Task, result *extract.Result) error {
	if t.SkipArchive {
		return nil
	}
	if _, err := os.Stat(t.SourcePath); err != nil {
		return nil // already moved or deleted
	}

	dir := p.Cfg.Storage.ProcessedArchivesDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	name := filepath.Base(t.SourcePath)
	dest := filepath.Join(dir, name)
	if err := os.Rename(t.SourcePath, dest); err != nil {
		return fmt.Errorf("move %s -> %s: %w", t.SourcePath, dest, err)
	}

	info, _ := os.Stat(dest)
	var size int64
	if info != nil {
		size = info.Size()
	}
	return p.Store.PutArchivedSource(&store.ArchivedSource{
		ID:            taskid.New(),
		OriginalPath:  t.SourcePath,
		CurrentPath:   dest,
		Filename:      name,
		WorkCode:      t.RJCode,
		Size:          size,
		ProcessedAt:   time.Now().UTC(),
		ProcessCount:  1,
		LinkingTaskID: t.ID,
		Status:        store.ArchivedCompleted,
	})
}

// runFilterOnly applies the adaptive filter stage to an existing
// folder without moving it, used for a manual re-run from the UI.
func (p *Pipeline) runFilterOnly(t *task.Task) error {
	transform.Filter(t.SourcePath, &p.Cfg.Filter)
	return nil
}

// runMetadataOnly re-resolves metadata for a folder already in the
// library, refreshing the persisted cache entry.
func (p *Pipeline) runMetadataOnly(t *task.Task) error {
	_, err := p.Metadata.Resolve(filepath.Base(t.SourcePath))
	if err != nil && err != metadata.ErrNoWorkCode {
		return fmt.Errorf("engine: metadata %s: %w", t.SourcePath, err)
	}
	return nil
}

// runRenameOnly recompiles and applies the rename template against an
// existing folder's already-resolved metadata.
func (p *Pipeline) runRenameOnly(t *task.Task) error {
	m, err := p.Metadata.Resolve(filepath.Base(t.SourcePath))
	if err != nil {
		return fmt.Errorf("engine: rename %s: %w", t.SourcePath, err)
	}
	_, err = p.Renamer.Rename(t.SourcePath, m)
	return err
}
