package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/kohai/internal/store"
	"github.com/ppiankov/kohai/internal/task"
)

// recordQuarantinedConflict drives the same path TestRunExistingFolder-
// QuarantinesDuplicate exercises (an existing library copy plus a
// duplicate folder run through the pipeline) and returns the resulting
// pending conflict, ready for a resolution test to act on.
func recordQuarantinedConflict(t *testing.T, p *Pipeline, libraryPath, code string) store.ConflictRecord {
	t.Helper()

	existing := filepath.Join(libraryPath, code+" Already Here")
	if err := os.MkdirAll(existing, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(existing, "old.mp3"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p.Store.PutLibrarySnapshot(&store.LibrarySnapshotRow{
		WorkCode: code, FolderPath: existing,
	}); err != nil {
		t.Fatal(err)
	}

	srcRoot := t.TempDir()
	dup := filepath.Join(srcRoot, code+" Again")
	if err := os.MkdirAll(dup, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dup, "new.mp3"), []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}

	tk := task.New(task.KindProcessExistingFolder, dup, true, true)
	tk.Start()
	if err := p.Handler()(tk); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if tk.Status() != task.StatusWaitingManual {
		t.Fatalf("status = %s, want waiting_manual", tk.Status())
	}

	snap := tk.Snapshot()
	if err := p.Store.PutTaskRecord(&store.TaskRecord{
		ID: snap.ID, Kind: string(snap.Kind), Status: string(snap.Status),
		SourcePath: snap.SourcePath, OutputPath: snap.OutputPath,
		AutoClassify: snap.AutoClassify, SkipArchive: snap.SkipArchive,
		RJCode: snap.RJCode, CreatedAt: snap.CreatedAt, StartedAt: snap.StartedAt,
	}); err != nil {
		t.Fatal(err)
	}

	pending, err := p.Store.ListPendingConflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending conflict, got %d", len(pending))
	}
	return pending[0]
}

func TestResolveConflictKeepNewFilesQuarantinedCopyToLibrary(t *testing.T) {
	libraryPath := t.TempDir()
	p := newTestPipeline(t, libraryPath)
	rec := recordQuarantinedConflict(t, p, libraryPath, "RJ100001")

	if err := p.ResolveConflict(rec.ID, store.ResolutionKeepNew); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}

	if _, err := os.Stat(rec.ExistingPath); !os.IsNotExist(err) {
		t.Errorf("expected existing copy %s to be removed, stat err = %v", rec.ExistingPath, err)
	}

	snap, err := p.Store.GetLibrarySnapshot("RJ100001")
	if err != nil {
		t.Fatalf("GetLibrarySnapshot: %v", err)
	}
	if _, err := os.Stat(filepath.Join(snap.FolderPath, "new.mp3")); err != nil {
		t.Errorf("expected new.mp3 to have moved with the folder: %v", err)
	}
}

func TestResolveConflictKeepOldRemovesNewCopy(t *testing.T) {
	libraryPath := t.TempDir()
	p := newTestPipeline(t, libraryPath)
	rec := recordQuarantinedConflict(t, p, libraryPath, "RJ100002")

	if err := p.ResolveConflict(rec.ID, store.ResolutionKeepOld); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}

	if _, err := os.Stat(rec.NewPath); !os.IsNotExist(err) {
		t.Errorf("expected new copy %s to be removed, stat err = %v", rec.NewPath, err)
	}
	if _, err := os.Stat(rec.ExistingPath); err != nil {
		t.Errorf("expected existing copy %s to remain: %v", rec.ExistingPath, err)
	}
}

func TestResolveConflictSkipRemovesNewCopy(t *testing.T) {
	libraryPath := t.TempDir()
	p := newTestPipeline(t, libraryPath)
	rec := recordQuarantinedConflict(t, p, libraryPath, "RJ100003")

	if err := p.ResolveConflict(rec.ID, store.ResolutionSkip); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}

	if _, err := os.Stat(rec.NewPath); !os.IsNotExist(err) {
		t.Errorf("expected new copy %s to be removed, stat err = %v", rec.NewPath, err)
	}
	if _, err := os.Stat(rec.ExistingPath); err != nil {
		t.Errorf("expected existing copy %s to remain: %v", rec.ExistingPath, err)
	}
}

func TestResolveConflictMergeKeepsBothCopies(t *testing.T) {
	libraryPath := t.TempDir()
	p := newTestPipeline(t, libraryPath)
	rec := recordQuarantinedConflict(t, p, libraryPath, "RJ100004")

	if err := p.ResolveConflict(rec.ID, store.ResolutionMerge); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}

	if _, err := os.Stat(filepath.Join(rec.ExistingPath, "old.mp3")); err != nil {
		t.Errorf("expected existing copy to remain untouched: %v", err)
	}
	if _, err := os.Stat(rec.NewPath); !os.IsNotExist(err) {
		t.Errorf("expected quarantined source folder %s to have been moved, stat err = %v", rec.NewPath, err)
	}

	entries, err := os.ReadDir(libraryPath)
	if err != nil {
		t.Fatal(err)
	}
	filed := 0
	for _, e := range entries {
		if e.Name() != "_conflicts" {
			filed++
		}
	}
	if filed != 2 {
		t.Fatalf("expected two folders filed under the library root, got %d: %v", filed, entries)
	}
}

func TestResolveConflictUpdatesBoundTaskStatus(t *testing.T) {
	libraryPath := t.TempDir()
	p := newTestPipeline(t, libraryPath)
	rec := recordQuarantinedConflict(t, p, libraryPath, "RJ100005")

	if rec.TaskID == "" {
		t.Fatal("expected conflict to be bound to a task id")
	}

	if err := p.ResolveConflict(rec.ID, store.ResolutionSkip); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}

	row, err := p.Store.GetTaskRecord(rec.TaskID)
	if err != nil {
		t.Fatalf("GetTaskRecord: %v", err)
	}
	if row.Status != "completed" {
		t.Errorf("task status = %s, want completed", row.Status)
	}
}
