// Package watcher implements the C12 folder watcher: a recursive
// fsnotify watch over the inbox directory plus a periodic sweep
// fallback, debounced and deduplicated against in-flight and already
// handled archives (spec.md §4.2 "Detection").
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/kohai/internal/archivetool"
)

const debounceDefault = 500 * time.Millisecond

// Stability prefilter tuning (spec.md §4.2 point 3-4): require a
// minimum size, then poll until the size holds steady across
// consecutive readings or the max wait elapses. Vars, not consts, so
// tests can shrink the timing without changing behavior.
var (
	minArchiveSize            int64 = 1024
	stabilityPollInterval           = 2 * time.Second
	stabilityRequiredReadings       = 3
	stabilityMaxWait                = 5 * time.Minute
)

var archiveExtensions = map[string]bool{
	".zip": true, ".rar": true, ".7z": true, ".tar": true,
	".gz": true, ".bz2": true, ".xz": true, ".exe": true,
}

var (
	partPattern = regexp.MustCompile(`(?i)\.part(\d+)\.`)
	zVolPattern = regexp.MustCompile(`(?i)\.z\d{2}$`)
)

var selfExtractKeywords = []string{"rar", "zip", "7z", "archive", "setup", "install", "self-extract"}

// IsArchive reports whether path names a file the watcher should hand
// off for extraction: a known archive extension (skipping non-first
// volume parts), a self-extracting .exe, or — absent a recognized
// extension — a file whose header matches a known archive magic
// number (spec.md §4.2 "Archive recognition").
func IsArchive(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	ext := strings.ToLower(filepath.Ext(path))

	if archiveExtensions[ext] {
		if m := partPattern.FindStringSubmatch(name); m != nil {
			return m[1] == "1" || m[1] == "01"
		}
		if zVolPattern.MatchString(name) {
			return false
		}
		if ext == ".exe" {
			for _, kw := range selfExtractKeywords {
				if strings.Contains(name, kw) {
					return true
				}
			}
			return false
		}
		return true
	}

	if magic, err := archivetool.DetectMagic(path); err == nil && magic != "" {
		return true
	}
	return false
}

// Watcher watches InputPath for new archives, handing each to Handler
// at most once.
type Watcher struct {
	InputPath    string
	ScanInterval time.Duration
	Handler      func(path string)

	mu        sync.Mutex
	pending   map[string]bool
	processed map[string]bool
}

// New builds a watcher bound to an input directory and handler.
func New(inputPath string, scanInterval time.Duration, handler func(path string)) *Watcher {
	return &Watcher{
		InputPath:    inputPath,
		ScanInterval: scanInterval,
		Handler:      handler,
		pending:      make(map[string]bool),
		processed:    make(map[string]bool),
	}
}

// MarkProcessed records path as handled, preventing a later sweep from
// resubmitting it. Nothing in this module calls it; a dispatched path
// stays pending, which blocks resubmission the same way.
func (w *Watcher) MarkProcessed(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, path)
	w.processed[path] = true
}

// Unmark clears path's pending/processed state, used when a task fails
// in a way that should allow reprocessing.
func (w *Watcher) Unmark(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, path)
	delete(w.processed, path)
}

func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending[path] || w.processed[path] {
		return false
	}
	w.pending[path] = true
	return true
}

// Run watches the inbox recursively with fsnotify, falling back to the
// periodic sweep for files fsnotify misses (network filesystems, races
// at startup) until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.InputPath, 0o755); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := w.watchTree(fsw, w.InputPath); err != nil {
		return err
	}

	w.sweep()

	interval := w.ScanInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var mu sync.Mutex
	ready := make(map[string]bool)
	debounceTimer := time.NewTimer(debounceDefault)
	debounceTimer.Stop()

	flush := func() {
		mu.Lock()
		batch := make([]string, 0, len(ready))
		for p := range ready {
			batch = append(batch, p)
		}
		ready = make(map[string]bool)
		mu.Unlock()
		for _, p := range batch {
			w.dispatch(p)
		}
	}

	for {
		select {
		case <-ctx.Done():
			debounceTimer.Stop()
			flush()
			return nil

		case <-ticker.C:
			w.sweep()

		case <-debounceTimer.C:
			flush()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.watchTree(fsw, event.Name)
					continue
				}
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !IsArchive(event.Name) {
				continue
			}
			mu.Lock()
			ready[event.Name] = true
			mu.Unlock()
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(debounceDefault)

		case _, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
		}
	}
}

func (w *Watcher) watchTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			fsw.Add(path)
		}
		return nil
	})
}

// sweep walks InputPath and dispatches any archive not already pending
// or processed, covering files that arrived while the watcher was down
// or that fsnotify missed (spec.md §4.2 "Periodic sweep").
func (w *Watcher) sweep() {
	filepath.WalkDir(w.InputPath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if IsArchive(path) {
			w.dispatch(path)
		}
		return nil
	})
}

// dispatch claims path and, once it passes the size gate and the
// lightweight stability prefilter, hands it to Handler (spec.md §4.2
// points 3-4). The prefilter runs in its own goroutine so a slow copy
// never blocks the watch loop or the periodic sweep.
func (w *Watcher) dispatch(path string) {
	if !w.claim(path) {
		return
	}
	go w.awaitStableThenHandle(path)
}

func (w *Watcher) awaitStableThenHandle(path string) {
	if !w.waitStableSize(path) {
		w.Unmark(path)
		return
	}
	w.Handler(path)
}

// waitStableSize polls path's size every stabilityPollInterval and
// requires stabilityRequiredReadings consecutive equal readings, each
// at least minArchiveSize, within stabilityMaxWait. This is the
// watcher-side prefilter only — a stricter check runs again inside the
// extraction engine for files that bypass the watcher entirely.
func (w *Watcher) waitStableSize(path string) bool {
	deadline := time.Now().Add(stabilityMaxWait)
	var lastSize int64 = -1
	streak := 0
	for {
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		size := info.Size()
		if size >= minArchiveSize && size == lastSize {
			streak++
		} else {
			streak = 1
		}
		lastSize = size
		if size >= minArchiveSize && streak >= stabilityRequiredReadings {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(stabilityPollInterval)
	}
}

// ScanExisting processes archives already present at startup, before
// the watch loop begins (spec.md §4.2 "Startup recovery").
func (w *Watcher) ScanExisting() {
	w.sweep()
}
