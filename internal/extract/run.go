package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// tryExtract attempts extraction with each candidate password in
// waterfall order, returning the one that worked (spec.md §4.3 "Try extract").
func (e *Engine) tryExtract(ctx context.Context, info *archiveInfo, outputPath string, h Honourable) (string, error) {
	vaultPasswords, _ := e.vaultPasswords(h.RJCodeHint())
	candidates := e.candidatePasswords(h.RJCodeHint(), info.Password)

	for _, pwd := range candidates {
		if err := h.WaitIfPaused(ctx); err != nil {
			return "", err
		}
		if h.IsCancelled() {
			return "", nil
		}
		h.UpdateProgress(40, "trying extraction")
		if err := e.Tool.Extract(info.Path, outputPath, pwd); err == nil {
			e.recordUsage(pwd, vaultPasswords)
			return pwd, nil
		}
	}
	return "", fmt.Errorf("extract: extraction failed, no password worked: %s", info.Path)
}

// verify compares the extracted tree against the archive's manifest,
// tolerating missing entries (which are usually an encoding mismatch
// between the archive's listing and the filesystem) but failing on
// any real size mismatch (spec.md §4.3 "Verify").
func (e *Engine) verify(info *archiveInfo, outputPath string) bool {
	mismatch := false
	for _, entry := range info.Files {
		if entry.IsDir {
			continue
		}
		actualPath := filepath.Join(outputPath, entry.Name)
		stat, err := os.Stat(actualPath)
		if err != nil {
			continue // likely an encoding mismatch in the listing, not a real failure
		}
		if stat.Size() != entry.Size {
			mismatch = true
		}
	}
	return !mismatch
}

var nestedPartPattern = regexp.MustCompile(`(?i)\.part(\d+)\.`)
var nestedVolumePattern = regexp.MustCompile(`(?i)\.z\d{2}$`)

var archiveExtensions = map[string]bool{
	".zip": true, ".rar": true, ".7z": true, ".tar": true,
	".gz": true, ".bz2": true, ".xz": true,
}
