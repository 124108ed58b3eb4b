package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/kohai/internal/config"
	"github.com/ppiankov/kohai/internal/store"
)

func TestTargetDirRuleChain(t *testing.T) {
	cases := []struct {
		name  string
		rules []config.ClassificationRule
		meta  *store.WorkMetadata
		want  string // relative to library root, "" means root
	}{
		{
			name:  "none rule returns root",
			rules: []config.ClassificationRule{{Type: "none", Enabled: true}},
			meta:  &store.WorkMetadata{WorkCode: "RJ01234567"},
			want:  "",
		},
		{
			name:  "maker rule uses maker name",
			rules: []config.ClassificationRule{{Type: "maker", Enabled: true}},
			meta:  &store.WorkMetadata{MakerName: "Circle Name"},
			want:  "Circle Name",
		},
		{
			name: "maker rule falls through when empty",
			rules: []config.ClassificationRule{
				{Type: "maker", Enabled: true},
				{Type: "none", Enabled: true},
			},
			meta: &store.WorkMetadata{},
			want: "",
		},
		{
			name: "series falls back to maker",
			rules: []config.ClassificationRule{
				{Type: "series", Enabled: true, Fallback: "maker"},
				{Type: "maker", Enabled: true},
			},
			meta: &store.WorkMetadata{MakerName: "FallbackCircle"},
			want: "FallbackCircle",
		},
		{
			name:  "rjcode default prefix",
			rules: []config.ClassificationRule{{Type: "rjcode", Enabled: true}},
			meta:  &store.WorkMetadata{WorkCode: "RJ01234567"},
			want:  "RJ012系列",
		},
		{
			name: "rjcode range excludes out-of-range code",
			rules: []config.ClassificationRule{
				{Type: "rjcode", Enabled: true, RJCodeRange: "RJ01400000-RJ01499999"},
				{Type: "none", Enabled: true},
			},
			meta: &store.WorkMetadata{WorkCode: "RJ01234567"},
			want: "",
		},
		{
			name:  "date rule uses year/month template",
			rules: []config.ClassificationRule{{Type: "date", Enabled: true}},
			meta:  &store.WorkMetadata{ReleaseDate: "2023-07-15"},
			want:  filepath.Join("2023", "07"),
		},
		{
			name:  "disabled rule skipped",
			rules: []config.ClassificationRule{{Type: "maker", Enabled: false}},
			meta:  &store.WorkMetadata{MakerName: "Ignored"},
			want:  "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &Classifier{
				Cfg:         &config.Config{Classification: tc.rules},
				LibraryPath: "/library",
			}
			got := c.TargetDir(tc.meta)
			want := "/library"
			if tc.want != "" {
				want = filepath.Join("/library", tc.want)
			}
			if got != want {
				t.Errorf("TargetDir() = %q, want %q", got, want)
			}
		})
	}
}

func TestMoveToLibraryResolvesCollision(t *testing.T) {
	root := t.TempDir()
	src1 := filepath.Join(root, "work")
	if err := os.MkdirAll(src1, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src1, "track.wav"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(root, "lib")
	st := openTestStore(t)
	c := New(&config.Config{}, st, target)

	final1, err := c.MoveToLibrary(src1, target, "RJ01234567")
	if err != nil {
		t.Fatalf("MoveToLibrary: %v", err)
	}
	if filepath.Base(final1) != "work" {
		t.Errorf("expected first move to keep name, got %s", final1)
	}

	snap, err := st.GetLibrarySnapshot("RJ01234567")
	if err != nil {
		t.Fatalf("GetLibrarySnapshot: %v", err)
	}
	if snap.FolderPath != final1 {
		t.Errorf("snapshot path = %s, want %s", snap.FolderPath, final1)
	}
	if snap.FileCount != 1 {
		t.Errorf("snapshot file count = %d, want 1", snap.FileCount)
	}

	// A second source directory sharing the same base name "work"
	// exercises the "(1)" collision suffix.
	src2 := filepath.Join(root, "other", "work")
	if err := os.MkdirAll(src2, 0o755); err != nil {
		t.Fatal(err)
	}
	final2, err := c.MoveToLibrary(src2, target, "RJ07654321")
	if err != nil {
		t.Fatalf("MoveToLibrary second: %v", err)
	}
	if filepath.Base(final2) != "work(1)" {
		t.Errorf("expected collision suffix, got %s", filepath.Base(final2))
	}
}

func TestQuarantinePlacesUnderConflictsDir(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "staged")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}

	c := New(&config.Config{}, nil, filepath.Join(root, "lib"))
	final, err := c.Quarantine(src)
	if err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	want := filepath.Join(root, "lib", "_conflicts", "staged")
	if final != want {
		t.Errorf("Quarantine() = %s, want %s", final, want)
	}
}

func TestInRJCodeRange(t *testing.T) {
	if !inRJCodeRange("RJ01234567", "RJ01000000-RJ01999999") {
		t.Error("expected code to be within range")
	}
	if inRJCodeRange("RJ02000000", "RJ01000000-RJ01999999") {
		t.Error("expected code to be outside range")
	}
	if !inRJCodeRange("RJ01234567", "not a range") {
		t.Error("expected malformed range to fail open")
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
