package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ppiankov/kohai/internal/archivetool"
)

// extractNested walks dir recursively looking for archives inside the
// freshly-extracted tree, extracting each with the usual password
// waterfall: vault entries for the work code come first, then the
// parent password, then none, the defaults and the generic vault
// entries (spec.md §4.3 "Nested extraction"). processedPaths guards against
// revisiting a file via a symlink cycle.
func (e *Engine) extractNested(ctx context.Context, dir string, h Honourable, maxDepth, depth int, processedPaths map[string]bool, parentPassword string) (int, error) {
	if depth >= maxDepth {
		return 0, nil
	}
	if h.IsCancelled() {
		return 0, nil
	}
	if err := h.WaitIfPaused(ctx); err != nil {
		return 0, err
	}

	extracted := 0
	err := filepath.Walk(dir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil || fi.IsDir() {
			return nil
		}
		if h.IsCancelled() {
			return filepath.SkipAll
		}

		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			real = path
		}
		if processedPaths[real] {
			return nil
		}

		name := fi.Name()
		ext := strings.ToLower(filepath.Ext(name))
		isArchive := archiveExtensions[ext]
		if !isArchive {
			if _, err := archivetool.DetectMagic(path); err == nil {
				isArchive = true
			}
		}
		if !isArchive {
			return nil
		}
		if m := nestedPartPattern.FindStringSubmatch(name); m != nil {
			if n, _ := strconv.Atoi(m[1]); n > 1 {
				return nil
			}
		}
		if nestedVolumePattern.MatchString(name) {
			return nil
		}

		nestedDir := uniqueSiblingDir(filepath.Dir(path), stem(name))
		if err := os.MkdirAll(nestedDir, 0o755); err != nil {
			return nil
		}

		info, err := e.readNestedContents(path, h.RJCodeHint(), parentPassword)
		if err != nil || info == nil {
			os.RemoveAll(nestedDir)
			return nil
		}

		password, err := e.tryExtractNested(info, nestedDir, h, parentPassword)
		if err != nil {
			os.RemoveAll(nestedDir)
			return nil
		}

		os.Remove(path)
		processedPaths[real] = true
		extracted++

		sub, err := e.extractNested(ctx, nestedDir, h, maxDepth, depth+1, processedPaths, password)
		if err == nil {
			extracted += sub
		}
		return nil
	})
	if err != nil {
		return extracted, fmt.Errorf("extract: nested scan of %s: %w", dir, err)
	}
	return extracted, nil
}

func uniqueSiblingDir(parent, name string) string {
	candidate := filepath.Join(parent, name)
	counter := 1
	for {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(parent, fmt.Sprintf("%s_%d", name, counter))
		counter++
	}
}

// readNestedContents lists a nested archive's manifest with the usual
// waterfall, the parent password taking the place of the already-known
// password (after any vault entries for the work code).
func (e *Engine) readNestedContents(path, rjcode, parentPassword string) (*archiveInfo, error) {
	candidates := e.candidatePasswords(rjcode, parentPassword)
	for _, pwd := range candidates {
		entries, err := e.Tool.List(path, pwd)
		if err == nil {
			return &archiveInfo{Path: path, Files: entries, Password: pwd}, nil
		}
	}
	return nil, errNoPasswordWorked(path)
}

func (e *Engine) tryExtractNested(info *archiveInfo, outputPath string, h Honourable, parentPassword string) (string, error) {
	vaultPasswords, _ := e.vaultPasswords(h.RJCodeHint())
	candidates := e.candidatePasswords(h.RJCodeHint(), info.Password, parentPassword)

	for _, pwd := range candidates {
		if err := e.Tool.Extract(info.Path, outputPath, pwd); err == nil {
			e.recordUsage(pwd, vaultPasswords)
			return pwd, nil
		}
	}
	return "", fmt.Errorf("extract: nested extraction failed, no password worked: %s", info.Path)
}

