package watcher

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestIsArchive(t *testing.T) {
	root := t.TempDir()

	write := func(name string, data []byte) string {
		p := filepath.Join(root, name)
		if err := os.WriteFile(p, data, 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	cases := []struct {
		name string
		path string
		want bool
	}{
		{"plain zip", write("a.zip", []byte("x")), true},
		{"first rar volume", write("b.part1.rar", []byte("x")), true},
		{"first rar volume zero-padded", write("b2.part01.rar", []byte("x")), true},
		{"second rar volume skipped", write("c.part2.rar", []byte("x")), false},
		{"zip volume skipped", write("d.z01", []byte("x")), false},
		{"plain exe without keyword", write("e.exe", []byte("x")), false},
		{"self-extracting exe", write("setup_archive.exe", []byte("x")), true},
		{"unrelated text file", write("f.txt", []byte("x")), false},
		{"extensionless zip magic", write("g_noext", []byte("PK\x03\x04rest")), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsArchive(tc.path); got != tc.want {
				t.Errorf("IsArchive(%s) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}
}

// withFastStability shrinks the stability-prefilter timing for the
// duration of a test so dispatch's background poll settles quickly.
func withFastStability(t *testing.T) {
	t.Helper()
	origSize, origInterval, origReadings, origWait := minArchiveSize, stabilityPollInterval, stabilityRequiredReadings, stabilityMaxWait
	minArchiveSize = 8
	stabilityPollInterval = time.Millisecond
	stabilityRequiredReadings = 2
	stabilityMaxWait = time.Second
	t.Cleanup(func() {
		minArchiveSize, stabilityPollInterval, stabilityRequiredReadings, stabilityMaxWait = origSize, origInterval, origReadings, origWait
	})
}

func awaitCalls(t *testing.T, get func() int, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if get() >= want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d dispatch(es), got %d", want, get())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestWatcherDispatchesOnce(t *testing.T) {
	withFastStability(t)
	root := t.TempDir()
	archive := filepath.Join(root, "w.zip")
	if err := os.WriteFile(archive, bytes.Repeat([]byte("x"), 64), 0o644); err != nil {
		t.Fatal(err)
	}

	var calls []string
	var mu sync.Mutex
	w := New(root, time.Hour, func(path string) {
		mu.Lock()
		calls = append(calls, path)
		mu.Unlock()
	})

	w.ScanExisting()
	w.ScanExisting()

	awaitCalls(t, func() int { mu.Lock(); defer mu.Unlock(); return len(calls) }, 1)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one dispatch, got %d: %v", len(calls), calls)
	}
	if calls[0] != archive {
		t.Errorf("dispatched %s, want %s", calls[0], archive)
	}
}

func TestWatcherUnmarkAllowsReprocessing(t *testing.T) {
	withFastStability(t)
	root := t.TempDir()
	archive := filepath.Join(root, "w.zip")
	if err := os.WriteFile(archive, bytes.Repeat([]byte("x"), 64), 0o644); err != nil {
		t.Fatal(err)
	}

	var count int
	var mu sync.Mutex
	w := New(root, time.Hour, func(path string) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	w.ScanExisting()
	awaitCalls(t, func() int { mu.Lock(); defer mu.Unlock(); return count }, 1)

	w.Unmark(archive)
	w.ScanExisting()
	awaitCalls(t, func() int { mu.Lock(); defer mu.Unlock(); return count }, 2)
}

func TestWatcherDispatchSkipsUndersizedFile(t *testing.T) {
	withFastStability(t)
	root := t.TempDir()
	archive := filepath.Join(root, "w.zip")
	if err := os.WriteFile(archive, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	called := false
	w := New(root, time.Hour, func(path string) { called = true })

	w.ScanExisting()
	// Give the background goroutine a chance to run; it must not call
	// Handler for a file under minArchiveSize, and must release the
	// claim so a later, larger write of the same path can dispatch.
	time.Sleep(50 * time.Millisecond)
	if called {
		t.Fatal("handler called for a file below the minimum size gate")
	}
}
