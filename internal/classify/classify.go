// Package classify implements the C10 classifier: evaluating the
// configured rule chain against resolved metadata to produce a target
// library path, then moving the staged folder there and updating the
// library snapshot (spec.md §4.7 "Classification and filing").
package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/kohai/internal/config"
	"github.com/ppiankov/kohai/internal/store"
)

// Classifier applies the ordered classification rule chain and files
// the result into the library.
type Classifier struct {
	Cfg         *config.Config
	Store       *store.Store
	LibraryPath string
}

// New builds a classifier bound to its configuration and store.
func New(cfg *config.Config, st *store.Store, libraryPath string) *Classifier {
	return &Classifier{Cfg: cfg, Store: st, LibraryPath: libraryPath}
}

var reservedPathChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// TargetDir walks the configured rule chain in order and returns the
// first rule's resolved classification directory (absolute, under
// LibraryPath). A rule returning "" means "root of the library" — not
// "no match" — and short-circuits the chain same as a non-empty path
// (spec.md §4.7 "Rule chain evaluation").
func (c *Classifier) TargetDir(m *store.WorkMetadata) string {
	for _, rule := range c.Cfg.Classification {
		if !rule.Enabled {
			continue
		}
		sub, matched := c.applyRule(rule, m)
		if !matched {
			continue
		}
		if sub == "" {
			return c.LibraryPath
		}
		return filepath.Join(c.LibraryPath, sub)
	}
	return c.LibraryPath
}

// applyRule evaluates a single rule, returning (subdirectory, true) on
// a match, or ("", false) when the rule doesn't apply and the chain
// should fall through to the next rule.
func (c *Classifier) applyRule(rule config.ClassificationRule, m *store.WorkMetadata) (string, bool) {
	switch rule.Type {
	case "none":
		return "", true

	case "maker":
		if m.MakerName == "" {
			return "", false
		}
		tpl := rule.PathTemplate
		if tpl == "" {
			tpl = "{maker_name}"
		}
		return strings.ReplaceAll(tpl, "{maker_name}", sanitizePathSegment(m.MakerName)), true

	case "series":
		if m.SeriesName == "" {
			if rule.Fallback != "" {
				if fb, ok := c.findRule(rule.Fallback); ok {
					return c.applyRule(fb, m)
				}
			}
			return "", false
		}
		tpl := rule.PathTemplate
		if tpl == "" {
			tpl = "{series_name}"
		}
		return strings.ReplaceAll(tpl, "{series_name}", sanitizePathSegment(m.SeriesName)), true

	case "rjcode":
		if m.WorkCode == "" {
			return "", false
		}
		if rule.RJCodeRange != "" && !inRJCodeRange(m.WorkCode, rule.RJCodeRange) {
			return "", false
		}
		if rule.CustomName != "" {
			return rule.CustomName, true
		}
		prefix := m.WorkCode
		if len(prefix) >= 5 {
			prefix = prefix[:5]
		}
		return prefix + "系列", true

	case "date":
		if m.ReleaseDate == "" {
			return "", false
		}
		t, err := time.Parse("2006-01-02", m.ReleaseDate)
		if err != nil {
			return "", false
		}
		tpl := rule.PathTemplate
		if tpl == "" {
			tpl = "{year}/{month}"
		}
		path := strings.ReplaceAll(tpl, "{year}", fmt.Sprintf("%04d", t.Year()))
		path = strings.ReplaceAll(path, "{month}", fmt.Sprintf("%02d", int(t.Month())))
		return path, true
	}
	return "", false
}

func (c *Classifier) findRule(ruleType string) (config.ClassificationRule, bool) {
	for _, r := range c.Cfg.Classification {
		if r.Type == ruleType {
			return r, true
		}
	}
	return config.ClassificationRule{}, false
}

// inRJCodeRange parses a "RJ01400000-RJ01499999"-style range and
// compares the numeric portion of code against it.
func inRJCodeRange(code, rangeExpr string) bool {
	parts := strings.Split(strings.ToUpper(strings.ReplaceAll(rangeExpr, " ", "")), "-")
	if len(parts) != 2 {
		return true
	}
	rjNum, ok1 := digitsOf(code)
	startNum, ok2 := digitsOf(parts[0])
	endNum, ok3 := digitsOf(parts[1])
	if !ok1 || !ok2 || !ok3 {
		return true
	}
	return rjNum >= startNum && rjNum <= endNum
}

func digitsOf(s string) (int, bool) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(b.String())
	return n, err == nil
}

func sanitizePathSegment(name string) string {
	name = reservedPathChars.ReplaceAllString(name, "")
	if len(name) > 100 {
		name = name[:100]
	}
	return strings.TrimSpace(name)
}

// MoveToLibrary moves source into targetDir, resolving name collisions
// with a "(N)" suffix, then records a library snapshot for workCode
// (spec.md §4.7 "Move and snapshot update").
func (c *Classifier) MoveToLibrary(source, targetDir, workCode string) (string, error) {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", fmt.Errorf("classify: mkdir %s: %w", targetDir, err)
	}

	final := uniqueTarget(targetDir, filepath.Base(source))
	if err := os.Rename(source, final); err != nil {
		return "", fmt.Errorf("classify: move %s -> %s: %w", source, final, err)
	}

	size, count := folderStats(final)
	if err := c.Store.PutLibrarySnapshot(&store.LibrarySnapshotRow{
		WorkCode:   workCode,
		FolderPath: final,
		FolderSize: size,
		FileCount:  count,
		ScannedAt:  time.Now().UTC(),
	}); err != nil {
		return final, fmt.Errorf("classify: update snapshot %s: %w", workCode, err)
	}
	return final, nil
}

// Quarantine moves source into the library's "_conflicts" directory
// without updating the snapshot table, used when a duplicate is found
// post-extraction (spec.md §4.7 "Quarantine fallback").
func (c *Classifier) Quarantine(source string) (string, error) {
	dir := filepath.Join(c.LibraryPath, "_conflicts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("classify: mkdir quarantine %s: %w", dir, err)
	}
	final := uniqueTarget(dir, filepath.Base(source))
	if err := os.Rename(source, final); err != nil {
		return "", fmt.Errorf("classify: quarantine move %s -> %s: %w", source, final, err)
	}
	return final, nil
}

func uniqueTarget(dir, name string) string {
	final := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	counter := 1
	for {
		if _, err := os.Stat(final); os.IsNotExist(err) {
			return final
		}
		final = filepath.Join(dir, fmt.Sprintf("%s(%d)%s", stem, counter, ext))
		counter++
	}
}

func folderStats(path string) (size int64, count int) {
	filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		size += info.Size()
		count++
		return nil
	})
	return size, count
}
