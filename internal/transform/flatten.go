package transform

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/ppiankov/kohai/internal/config"
)

// FlattenSingleSubfolder collapses chains of single-child directories
// up to the configured depth, independently per branch (spec.md §4.5
// "Flatten single subfolder").
func FlattenSingleSubfolder(root string, cfg *config.Rename) error {
	if !cfg.FlattenSingleSubfolder {
		return nil
	}
	return flattenRecursive(root, cfg.FlattenDepth)
}

func flattenRecursive(path string, maxDepth int) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil
	}

	if err := flattenChain(path, maxDepth, 0); err != nil {
		return err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := flattenRecursive(filepath.Join(path, e.Name()), maxDepth); err != nil {
				return err
			}
		}
	}
	return nil
}

func flattenChain(path string, maxDepth, depth int) error {
	if depth >= maxDepth {
		return nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	subfolder := filepath.Join(path, entries[0].Name())
	tempPath := filepath.Join(filepath.Dir(path), fmt.Sprintf("%s_temp_%x", filepath.Base(path), rand.Uint32()))

	if err := os.Rename(subfolder, tempPath); err != nil {
		return fmt.Errorf("transform: flatten move %s: %w", subfolder, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("transform: flatten rmdir %s: %w", path, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("transform: flatten restore %s: %w", path, err)
	}

	return flattenChain(path, maxDepth, depth+1)
}

// RemoveEmptyFolders recursively deletes directories left empty by
// filtering or flattening. removeRoot controls whether path itself is
// removed if it ends up empty (spec.md §4.5 "Prune empty folders").
func RemoveEmptyFolders(path string, removeRoot bool) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			RemoveEmptyFolders(filepath.Join(path, e.Name()), true)
		}
	}

	entries, err = os.ReadDir(path)
	if err != nil {
		return
	}
	if len(entries) == 0 && removeRoot {
		os.Remove(path)
	}
}
