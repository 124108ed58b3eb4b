package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/kohai/internal/config"
	"github.com/ppiankov/kohai/internal/store"
	"github.com/ppiankov/kohai/internal/task"
)

func newTestPipeline(t *testing.T, libraryPath string) *Pipeline {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Storage.LibraryPath = libraryPath
	cfg.Classification = []config.ClassificationRule{{Type: "none", Enabled: true}}
	cfg.Filter.Enabled = false
	cfg.Rename.FlattenSingleSubfolder = false
	cfg.Rename.RemoveEmptyFolders = false

	return NewPipeline(cfg, st)
}

func TestRunExistingFolderFilesIntoLibrary(t *testing.T) {
	libraryPath := t.TempDir()
	p := newTestPipeline(t, libraryPath)

	srcRoot := t.TempDir()
	work := filepath.Join(srcRoot, "RJ345678 A Sample Work")
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(work, "track01.mp3"), []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	tk := task.New(task.KindProcessExistingFolder, work, true, true)
	tk.Start()
	if err := p.Handler()(tk); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if tk.Status() != task.StatusProcessing {
		t.Fatalf("status = %s, want still-processing (caller completes)", tk.Status())
	}

	if tk.OutputPath == "" {
		t.Fatal("expected output path to be set")
	}
	if filepath.Dir(tk.OutputPath) != libraryPath {
		t.Errorf("output %s not filed directly under library root %s", tk.OutputPath, libraryPath)
	}
	if _, err := os.Stat(filepath.Join(tk.OutputPath, "track01.mp3")); err != nil {
		t.Errorf("expected track01.mp3 to have moved with the folder: %v", err)
	}

	snap, err := p.Store.GetLibrarySnapshot("RJ345678")
	if err != nil {
		t.Fatalf("GetLibrarySnapshot: %v", err)
	}
	if snap.FolderPath != tk.OutputPath {
		t.Errorf("snapshot path = %s, want %s", snap.FolderPath, tk.OutputPath)
	}
}

func TestRunExistingFolderQuarantinesDuplicate(t *testing.T) {
	libraryPath := t.TempDir()
	p := newTestPipeline(t, libraryPath)

	existing := filepath.Join(libraryPath, "RJ999999 Already Here")
	if err := os.MkdirAll(existing, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := p.Store.PutLibrarySnapshot(&store.LibrarySnapshotRow{
		WorkCode: "RJ999999", FolderPath: existing,
	}); err != nil {
		t.Fatal(err)
	}

	srcRoot := t.TempDir()
	dup := filepath.Join(srcRoot, "RJ999999 Already Here Again")
	if err := os.MkdirAll(dup, 0o755); err != nil {
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

	pending, err := p.Store.ListPendingConflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].WorkCode != "RJ999999" {
		t.Errorf("expected one pending conflict for RJ999999, got %+v", pending)
	}
}
