package extract

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// VolumeSet is a detected multi-volume archive (spec.md §4.3 "Volume detection").
type VolumeSet struct {
	BaseName string
	Volumes  []string
	Kind     string // part, zip_volume, 7z_volume, generic
}

var volumePartPattern = regexp.MustCompile(`(?i)\.part\d+\.(rar|zip|7z)$`)

var volumePatterns = []struct {
	re   *regexp.Regexp
	kind string
}{
	{regexp.MustCompile(`(?i)\.part(\d+)\.(rar|zip|7z)$`), "part"},
	{regexp.MustCompile(`(?i)\.z(\d{2})$`), "zip_volume"},
	{regexp.MustCompile(`(?i)\.(\d{3})$`), "7z_volume"},
	{regexp.MustCompile(`(?i)\.(\d{2})$`), "generic"},
}

// detectVolumeSet checks whether path is one volume of a multi-part
// archive and, if so, returns all sibling volumes sorted by name.
func detectVolumeSet(path string) *VolumeSet {
	dir := filepath.Dir(path)
	name := filepath.Base(path)

	for _, p := range volumePatterns {
		if !p.re.MatchString(name) {
			continue
		}
		baseName := p.re.ReplaceAllString(name, "")
		volumes := findAllVolumes(dir, baseName, p.re)
		if len(volumes) > 1 {
			return &VolumeSet{BaseName: baseName, Volumes: volumes, Kind: p.kind}
		}
	}
	return nil
}

func findAllVolumes(dir, baseName string, re *regexp.Regexp) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var volumes []string
	for _, ent := range entries {
		name := ent.Name()
		if len(name) >= len(baseName) && name[:len(baseName)] == baseName && re.MatchString(name) {
			volumes = append(volumes, filepath.Join(dir, name))
		}
	}
	sort.Strings(volumes)
	return volumes
}

// waitForCompleteSet blocks until every volume in vs exists and is
// size-stable, honouring pause/cancel (spec.md §4.3 "Volume wait").
func (e *Engine) waitForCompleteSet(ctx context.Context, vs *VolumeSet, h Honourable) bool {
	maxWait := time.Duration(e.Proc.MaxWaitTimeSeconds) * time.Second
	if maxWait <= 0 {
		maxWait = time.Hour
	}
	deadline := time.Now().Add(maxWait)
	checkInterval := 5 * time.Second

	for time.Now().Before(deadline) {
		if h.IsCancelled() {
			return false
		}
		if err := h.WaitIfPaused(ctx); err != nil {
			return false
		}

		allStable := true
		for _, v := range vs.Volumes {
			if !isFileStableQuick(v) {
				allStable = false
				break
			}
		}
		if allStable {
			return true
		}
		sleepOrDone(ctx, checkInterval)
	}
	return false
}

func isFileStableQuick(path string) bool {
	info1, err := os.Stat(path)
	if err != nil {
		return false
	}
	time.Sleep(2 * time.Second)
	info2, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info1.Size() == info2.Size()
}
