package cleanup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/kohai/internal/config"
	"github.com/ppiankov/kohai/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPasswordSweeperPreviewDoesNotDelete(t *testing.T) {
	st := openTestStore(t)
	old := time.Now().UTC().AddDate(0, 0, -90)
	if err := st.PutPassword(&store.PasswordEntry{
		ID: "p1", Password: "secret", Source: store.PasswordManual,
		UseCount: 0, CreatedAt: old, UpdatedAt: old,
	}); err != nil {
		t.Fatal(err)
	}

	sweeper := NewPasswordSweeper(st, config.PasswordCleanup{
		Enabled: true, MaxUseCount: 1, PreserveDays: 30,
	})

	preview, err := sweeper.Preview()
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if preview.DeletedCount != 1 {
		t.Fatalf("expected 1 preview victim, got %d", preview.DeletedCount)
	}

	remaining, err := st.ListPasswordCandidates()
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 {
		t.Errorf("preview should not delete; remaining = %d, want 1", len(remaining))
	}
}

func TestPasswordSweeperRunNowDeletesAndLogs(t *testing.T) {
	st := openTestStore(t)
	old := time.Now().UTC().AddDate(0, 0, -90)
	recent := time.Now().UTC()

	if err := st.PutPassword(&store.PasswordEntry{
		ID: "stale", Password: "x", Source: store.PasswordManual,
		UseCount: 0, CreatedAt: old, UpdatedAt: old,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutPassword(&store.PasswordEntry{
		ID: "fresh", Password: "y", Source: store.PasswordManual,
		UseCount: 0, CreatedAt: recent, UpdatedAt: recent,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutPassword(&store.PasswordEntry{
		ID: "excluded-source", Password: "z", Source: store.PasswordBatch,
		UseCount: 0, CreatedAt: old, UpdatedAt: old,
	}); err != nil {
		t.Fatal(err)
	}

	sweeper := NewPasswordSweeper(st, config.PasswordCleanup{
		Enabled: true, MaxUseCount: 1, PreserveDays: 30,
		ExcludeSources: []string{"batch"},
	})

	result, err := sweeper.RunNow(false)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if result.DeletedCount != 1 {
		t.Fatalf("expected 1 deletion, got %d", result.DeletedCount)
	}

	remaining, err := st.ListPasswordCandidates()
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 2 {
		t.Errorf("expected 2 remaining passwords, got %d", len(remaining))
	}

	history, err := sweeper.History(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].CountDeleted != 1 {
		t.Errorf("expected one history row with count 1, got %+v", history)
	}
}

func TestArchiveSweeperAgeStrategy(t *testing.T) {
	st := openTestStore(t)
	old := time.Now().UTC().AddDate(0, 0, -60)
	recent := time.Now().UTC()

	if err := st.PutArchivedSource(&store.ArchivedSource{
		ID: "a1", Filename: "old.zip", CurrentPath: "",
		Size: 100, ProcessedAt: old, Status: store.ArchivedCompleted,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutArchivedSource(&store.ArchivedSource{
		ID: "a2", Filename: "new.zip", CurrentPath: "",
		Size: 200, ProcessedAt: recent, Status: store.ArchivedCompleted,
	}); err != nil {
		t.Fatal(err)
	}

	sweeper := NewArchiveSweeper(st, config.ArchiveCleanup{
		Enabled: true, Strategy: "age", PreserveDays: 30,
	})

	result, err := sweeper.RunNow(false)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if result.DeletedCount != 1 {
		t.Fatalf("expected 1 deletion, got %d", result.DeletedCount)
	}
	if result.FreedBytes != 100 {
		t.Errorf("freed bytes = %d, want 100", result.FreedBytes)
	}

	remaining, err := st.ListArchivedSources()
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].ID != "a2" {
		t.Errorf("expected only a2 to remain, got %+v", remaining)
	}
}

func TestArchiveSweeperCountStrategy(t *testing.T) {
	st := openTestStore(t)
	base := time.Now().UTC().AddDate(0, 0, -10)

	for i := 0; i < 3; i++ {
		if err := st.PutArchivedSource(&store.ArchivedSource{
			ID:          string(rune('a' + i)),
			Filename:    string(rune('a'+i)) + ".zip",
			Size:        10,
			ProcessedAt: base.Add(time.Duration(i) * time.Hour),
			Status:      store.ArchivedCompleted,
		}); err != nil {
			t.Fatal(err)
		}
	}

	sweeper := NewArchiveSweeper(st, config.ArchiveCleanup{
		Enabled: true, Strategy: "count", MaxCount: 1,
	})

	result, err := sweeper.RunNow(false)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if result.DeletedCount != 2 {
		t.Fatalf("expected 2 deletions keeping max_count=1, got %d", result.DeletedCount)
	}

	remaining, err := st.ListArchivedSources()
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 {
		t.Errorf("expected 1 remaining, got %d", len(remaining))
	}
}
