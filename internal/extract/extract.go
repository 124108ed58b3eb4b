// Package extract implements the C6 extraction engine: the
// WaitStable → RepairExt → DetectVolume → WaitVolumeSet → ReadContents
// → TryExtract → Verify → Nested → Done state machine driven by an
// external 7z-compatible binary (spec.md §4.3 "Extraction").
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/kohai/internal/archivetool"
	"github.com/ppiankov/kohai/internal/config"
	"github.com/ppiankov/kohai/internal/store"
)

// Honourable is the subset of task.Task the extractor needs for its
// cooperative-cancellation honour points, kept as an interface so
// this package never imports internal/task (extraction is a leaf
// dependency of the engine, not the reverse).
type Honourable interface {
	WaitIfPaused(ctx context.Context) error
	IsCancelled() bool
	UpdateProgress(progress int, step string)
	RJCodeHint() string
}

// Engine drives archive extraction for one task at a time.
type Engine struct {
	Tool  *archivetool.Tool
	Store *store.Store
	Cfg   *config.Extract
	Proc  *config.Processing
	TempDir string
}

// New builds an extraction engine.
func New(tool *archivetool.Tool, st *store.Store, extractCfg *config.Extract, procCfg *config.Processing, tempDir string) *Engine {
	return &Engine{Tool: tool, Store: st, Cfg: extractCfg, Proc: procCfg, TempDir: tempDir}
}

// Result is the outcome of a successful extraction.
type Result struct {
	OutputPath     string
	SuccessPassword string
	NestedCount    int
}

// Extract runs the full state machine against archivePath.
func (e *Engine) Extract(ctx context.Context, archivePath string, h Honourable) (*Result, error) {
	if !e.Tool.Available() {
		return nil, fmt.Errorf("extract: 7z binary not available at %s", e.Tool.Path)
	}
	if h.IsCancelled() {
		return nil, nil
	}

	// 1. WaitStable
	h.UpdateProgress(5, "waiting for file to stabilize")
	if err := e.waitStable(ctx, archivePath, h); err != nil {
		return nil, err
	}
	if err := h.WaitIfPaused(ctx); err != nil {
		return nil, err
	}
	if h.IsCancelled() {
		return nil, nil
	}

	// 2. RepairExt
	h.UpdateProgress(10, "detecting file type")
	archivePath = e.repairExtension(archivePath)

	// 3. DetectVolume / WaitVolumeSet
	if vs := detectVolumeSet(archivePath); vs != nil {
		h.UpdateProgress(15, "waiting for volume set to complete")
		if !e.waitForCompleteSet(ctx, vs, h) {
			return nil, fmt.Errorf("extract: volume set incomplete or timed out: %s", vs.BaseName)
		}
		archivePath = vs.Volumes[0]
	}
	if err := h.WaitIfPaused(ctx); err != nil {
		return nil, err
	}
	if h.IsCancelled() {
		return nil, nil
	}

	// 4. ReadContents
	h.UpdateProgress(20, "reading archive contents")
	info, err := e.readContents(archivePath, h.RJCodeHint())
	if err != nil {
		return nil, fmt.Errorf("extract: cannot read archive contents: %w", err)
	}

	// 5. Determine output path
	outputName := sanitizeOutputName(strings.TrimSpace(stem(archivePath)))
	outputPath := filepath.Join(e.TempDir, outputName)
	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		return nil, fmt.Errorf("extract: mkdir %s: %w", outputPath, err)
	}

	// 6. TryExtract
	h.UpdateProgress(30, "extracting")
	password, err := e.tryExtract(ctx, info, outputPath, h)
	if err != nil {
		e.cleanup(outputPath)
		return nil, err
	}

	if err := h.WaitIfPaused(ctx); err != nil {
		return nil, err
	}
	if h.IsCancelled() {
		os.RemoveAll(outputPath)
		return nil, nil
	}

	// 7. Verify
	h.UpdateProgress(90, "verifying extraction")
	if e.Cfg.VerifyAfterExtract {
		if !e.verify(info, outputPath) {
			return nil, fmt.Errorf("extract: verification failed, output incomplete: %s", outputPath)
		}
	}

	// 8. Nested extraction
	nestedCount := 0
	if e.Cfg.ExtractNestedArchives {
		h.UpdateProgress(95, "checking nested archives")
		nestedCount, err = e.extractNested(ctx, outputPath, h, e.Cfg.MaxNestedDepth, 0, make(map[string]bool), password)
		if err != nil {
			return nil, err
		}
	}

	return &Result{OutputPath: outputPath, SuccessPassword: password, NestedCount: nestedCount}, nil
}

func (e *Engine) cleanup(outputPath string) {
	if _, err := os.Stat(outputPath); err != nil {
		return
	}
	for attempt := 0; attempt < 3; attempt++ {
		if err := os.RemoveAll(outputPath); err == nil {
			return
		}
		time.Sleep(time.Second)
	}
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var illegalOutputChars = regexp.MustCompile(`[<>:"|?*]`)

func sanitizeOutputName(name string) string {
	return illegalOutputChars.ReplaceAllString(name, "")
}

// waitStable blocks until archivePath's size holds steady across
// FileStableChecks polls, honouring pause/cancel (spec.md §4.3 "Stability wait").
func (e *Engine) waitStable(ctx context.Context, path string, h Honourable) error {
	interval := time.Duration(e.Proc.FileStableInterval) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxWait := time.Duration(e.Proc.MaxWaitTimeSeconds) * time.Second
	if maxWait <= 0 {
		maxWait = time.Hour
	}

	deadline := time.Now().Add(maxWait)
	previousSize := int64(-1)
	stableCount := 0

	for stableCount < e.Proc.FileStableChecks {
		if time.Now().After(deadline) {
			return fmt.Errorf("extract: timed out waiting for %s to stabilize", path)
		}
		if h.IsCancelled() {
			return nil
		}
		if err := h.WaitIfPaused(ctx); err != nil {
			return err
		}

		info, err := os.Stat(path)
		if err != nil {
			sleepOrDone(ctx, interval)
			continue
		}
		size := info.Size()
		if size < 1024 {
			sleepOrDone(ctx, interval)
			continue
		}
		if size == previousSize {
			stableCount++
		} else {
			stableCount = 0
		}
		previousSize = size
		if stableCount < e.Proc.FileStableChecks {
			sleepOrDone(ctx, interval)
		}
	}
	return nil
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// repairExtension renames archivePath to match its detected real
// format, skipping self-extracting and volume files (spec.md §4.3
// "Extension repair").
func (e *Engine) repairExtension(path string) string {
	if !e.Cfg.AutoRepairExtension {
		return path
	}
	name := filepath.Base(path)
	if strings.HasSuffix(strings.ToLower(name), ".exe") {
		return path
	}
	if volumePartPattern.MatchString(name) {
		return path
	}

	realType, err := archivetool.DetectMagic(path)
	if err != nil {
		realType, err = e.Tool.ProbeFormat(path)
		if err != nil {
			return path
		}
	}

	currentExt := strings.ToLower(filepath.Ext(path))
	wantExt := "." + realType
	if currentExt == wantExt {
		return path
	}
	return renameWithExtension(path, realType)
}

func renameWithExtension(path, newExt string) string {
	dir := filepath.Dir(path)
	base := stem(path)
	newPath := filepath.Join(dir, base+"."+newExt)
	counter := 1
	for {
		if _, err := os.Stat(newPath); os.IsNotExist(err) {
			break
		}
		newPath = filepath.Join(dir, fmt.Sprintf("%s(%d).%s", base, counter, newExt))
		counter++
	}
	if err := os.Rename(path, newPath); err != nil {
		return path
	}
	return newPath
}
