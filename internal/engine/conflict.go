package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/kohai/internal/metadata"
	"github.com/ppiankov/kohai/internal/store"
	"github.com/ppiankov/kohai/internal/taskid"
	"github.com/ppiankov/kohai/internal/transform"
)

// resolutionHonour drives extract.Engine.Extract on behalf of a
// conflict resolution, which runs in a one-shot CLI process with no
// live task.Task backing it (spec.md §4.8): there is nothing to pause
// or cancel, so it only needs to supply the work-code hint the
// extractor uses for password lookup.
type resolutionHonour struct {
	rjCode string
}

func (h *resolutionHonour) WaitIfPaused(ctx context.Context) error   { return nil }
func (h *resolutionHonour) IsCancelled() bool                       { return false }
func (h *resolutionHonour) UpdateProgress(progress int, step string) {}
func (h *resolutionHonour) RJCodeHint() string                       { return h.rjCode }

// ResolveConflict carries out an operator's decision for a pending
// conflict (spec.md §4.8 "Resolution actions"):
//
//   - KeepNew discards the existing library copy and files the new
//     side in its place (extracting it first if it is still an
//     archive).
//   - KeepOld discards the new side entirely.
//   - Merge files the new side alongside the existing copy under a
//     disambiguated name rather than discarding either.
//   - Skip discards the new side without filing anything.
//
// KeepBoth and MergeLang stay store-only no-ops, matching dup.Resolve's
// existing behavior: both copies are left exactly where they are.
func (p *Pipeline) ResolveConflict(conflictID string, resolution store.Resolution) error {
	rec, err := p.Store.GetConflict(conflictID)
	if err != nil {
		return fmt.Errorf("engine: resolve conflict %s: %w", conflictID, err)
	}

	if err := p.Dup.Resolve(conflictID, resolution); err != nil {
		return err
	}

	var finalPath string
	switch resolution {
	case store.ResolutionKeepNew:
		finalPath, err = p.applyKeepNew(rec)
	case store.ResolutionKeepOld:
		err = p.applyKeepOld(rec)
	case store.ResolutionMerge:
		finalPath, err = p.applyMerge(rec)
	case store.ResolutionSkip:
		err = p.applySkip(rec)
	}
	if err != nil {
		return fmt.Errorf("engine: apply resolution %s for %s: %w", resolution, conflictID, err)
	}

	if rec.TaskID != "" {
		message := fmt.Sprintf("resolved as %s", strings.ToLower(string(resolution)))
		if finalPath != "" {
			message = fmt.Sprintf("%s: filed to %s", message, finalPath)
		}
		if err := p.Store.UpdateTaskStatus(rec.TaskID, "completed", message); err != nil {
			fmt.Fprintf(os.Stderr, "engine: update task status %s: %v\n", rec.TaskID, err)
		}
	}
	return nil
}

// extractIfArchive returns path unchanged if it already names a
// folder, otherwise extracts it and returns the extraction's output
// folder.
func (p *Pipeline) extractIfArchive(path, rjCode string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return path, nil
	}
	result, err := p.Extract.Extract(context.Background(), path, &resolutionHonour{rjCode: rjCode})
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", path, err)
	}
	if result == nil {
		return "", fmt.Errorf("extraction of %s did not complete", path)
	}
	return result.OutputPath, nil
}

// resolveFolderPipeline runs metadata resolution, filtering,
// flattening, renaming, and classification against an already-
// extracted folder, same as fileExtractedFolder's auto-classify tail
// but driven from a conflict resolution rather than a task. nameSuffix,
// when non-empty, is appended to the resolved work name so a Merge's
// second copy doesn't collide with the first (spec.md §4.8 "Merge").
func (p *Pipeline) resolveFolderPipeline(folder, nameSuffix string) (string, error) {
	m, err := p.Metadata.Resolve(filepath.Base(folder))
	if err != nil && err != metadata.ErrNoWorkCode {
		fmt.Fprintf(os.Stderr, "engine: metadata resolve %s: %v\n", folder, err)
	}
	if m == nil {
		m = &store.WorkMetadata{}
		if code, err := metadata.ExtractWorkCode(filepath.Base(folder)); err == nil {
			m.WorkCode = code
		}
	}
	if nameSuffix != "" {
		m.WorkName = strings.TrimSpace(m.WorkName + " " + nameSuffix)
	}

	transform.Filter(folder, &p.Cfg.Filter)
	if err := transform.FlattenSingleSubfolder(folder, &p.Cfg.Rename); err != nil {
		fmt.Fprintf(os.Stderr, "engine: flatten %s: %v\n", folder, err)
	}
	if p.Cfg.Rename.RemoveEmptyFolders {
		transform.RemoveEmptyFolders(folder, false)
	}

	renamed, err := p.Renamer.Rename(folder, m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: rename %s: %v\n", folder, err)
		renamed = folder
	}

	targetDir := p.Classifier.TargetDir(m)
	final, err := p.Classifier.MoveToLibrary(renamed, targetDir, m.WorkCode)
	if err != nil {
		return "", fmt.Errorf("classify %s: %w", renamed, err)
	}
	return final, nil
}

// applyKeepNew removes the existing library copy and files the new
// side in its place: a still-extracted folder is moved straight to the
// library root under its own basename, an archive is run through the
// full extract→classify pipeline first.
func (p *Pipeline) applyKeepNew(rec *store.ConflictRecord) (string, error) {
	if err := os.RemoveAll(rec.ExistingPath); err != nil {
		return "", fmt.Errorf("remove existing %s: %w", rec.ExistingPath, err)
	}

	info, err := os.Stat(rec.NewPath)
	if err != nil {
		return "", fmt.Errorf("stat new path %s: %w", rec.NewPath, err)
	}
	if info.IsDir() {
		final, err := p.Classifier.MoveToLibrary(rec.NewPath, p.Classifier.LibraryPath, rec.WorkCode)
		if err != nil {
			return "", fmt.Errorf("classify %s: %w", rec.NewPath, err)
		}
		return final, nil
	}

	folder, err := p.extractIfArchive(rec.NewPath, rec.WorkCode)
	if err != nil {
		return "", err
	}
	final, err := p.resolveFolderPipeline(folder, "")
	if err != nil {
		return "", err
	}
	if err := p.archiveConflictSource(rec); err != nil {
		fmt.Fprintf(os.Stderr, "engine: archive conflict source %s: %v\n", rec.NewPath, err)
	}
	return final, nil
}

// applyKeepOld discards the new side entirely, keeping the library
// copy untouched.
func (p *Pipeline) applyKeepOld(rec *store.ConflictRecord) error {
	if err := os.RemoveAll(rec.NewPath); err != nil {
		return fmt.Errorf("remove new path %s: %w", rec.NewPath, err)
	}
	return p.Store.SetArchivedSourceStatus(filepath.Base(rec.NewPath), store.ArchivedCompleted)
}

// applyMerge files the new side as a second copy alongside the
// existing one, extracting it first if needed. The suffixed work name
// keeps classify's own collision handling from being the only thing
// standing between the two copies.
func (p *Pipeline) applyMerge(rec *store.ConflictRecord) (string, error) {
	folder, err := p.extractIfArchive(rec.NewPath, rec.WorkCode)
	if err != nil {
		return "", err
	}
	final, err := p.resolveFolderPipeline(folder, "(2)")
	if err != nil {
		return "", err
	}
	if info, statErr := os.Stat(rec.NewPath); statErr == nil && !info.IsDir() {
		os.Remove(rec.NewPath)
	}
	if err := p.Store.SetArchivedSourceStatus(filepath.Base(rec.NewPath), store.ArchivedCompleted); err != nil {
		fmt.Fprintf(os.Stderr, "engine: mark archived source %s: %v\n", rec.NewPath, err)
	}
	return final, nil
}

// applySkip discards the new side without filing anything.
func (p *Pipeline) applySkip(rec *store.ConflictRecord) error {
	if err := os.RemoveAll(rec.NewPath); err != nil {
		return fmt.Errorf("remove new path %s: %w", rec.NewPath, err)
	}
	return p.Store.SetArchivedSourceStatus(filepath.Base(rec.NewPath), store.ArchivedCompleted)
}

// archiveConflictSource relocates a conflict's new-side archive file
// into the processed-archives pool, mirroring archiveSource's handling
// for a regular task (spec.md §4.11 "Archived source tracking").
func (p *Pipeline) archiveConflictSource(rec *store.ConflictRecord) error {
	if strings.HasPrefix(rec.NewPath, p.Cfg.Storage.ProcessedArchivesDir) {
		return nil
	}
	if _, err := os.Stat(rec.NewPath); err != nil {
		return nil // already moved or deleted
	}

	dir := p.Cfg.Storage.ProcessedArchivesDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	name := filepath.Base(rec.NewPath)
	dest := filepath.Join(dir, name)
	if err := os.Rename(rec.NewPath, dest); err != nil {
		return fmt.Errorf("move %s -> %s: %w", rec.NewPath, dest, err)
	}

	info, _ := os.Stat(dest)
	var size int64
	if info != nil {
		size = info.Size()
	}
	return p.Store.PutArchivedSource(&store.ArchivedSource{
		ID:            taskid.New(),
		OriginalPath:  rec.NewPath,
		CurrentPath:   dest,
		Filename:      name,
		WorkCode:      rec.WorkCode,
		Size:          size,
		ProcessedAt:   time.Now().UTC(),
		ProcessCount:  1,
		LinkingTaskID: rec.TaskID,
		Status:        store.ArchivedCompleted,
	})
}
