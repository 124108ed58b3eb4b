// Package transform implements the C7 transform stage: compiling the
// rename template against resolved metadata, sanitizing the result,
// flattening single-child subfolder chains, and pruning empty
// directories (spec.md §4.5 "Rename/flatten/prune").
package transform

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/kohai/internal/config"
	"github.com/ppiankov/kohai/internal/store"
)

// Renamer compiles and applies the folder-naming template.
type Renamer struct {
	Cfg *config.Rename
}

// New builds a renamer bound to its configuration section.
func New(cfg *config.Rename) *Renamer {
	return &Renamer{Cfg: cfg}
}

var squareBracketGroup = regexp.MustCompile(`【.*?】`)

// CompileName expands the configured template against a work's
// metadata (spec.md §4.5 "Template variables").
func (r *Renamer) CompileName(m *store.WorkMetadata) string {
	name := r.Cfg.Template
	name = strings.ReplaceAll(name, "{rjcode}", m.WorkCode)
	name = strings.ReplaceAll(name, "{work_name}", m.WorkName)
	name = strings.ReplaceAll(name, "{maker_id}", m.MakerID)
	name = strings.ReplaceAll(name, "{maker_name}", m.MakerName)

	if strings.Contains(name, "{release_date}") {
		formatted := ""
		if m.ReleaseDate != "" {
			if t, err := time.Parse("2006-01-02", m.ReleaseDate); err == nil {
				formatted = t.Format(goDateFormat(r.Cfg.DateFormat))
			}
		}
		name = strings.ReplaceAll(name, "{release_date}", formatted)
	}

	if strings.Contains(name, "{cvs}") {
		cvStr := ""
		if len(m.CVs) > 0 {
			cvStr = r.Cfg.CVListLeft + strings.Join(m.CVs, r.Cfg.Delimiter) + r.Cfg.CVListRight
		}
		name = strings.ReplaceAll(name, "{cvs}", cvStr)
	}

	if strings.Contains(name, "{tags}") {
		tagStr := ""
		if len(m.Tags) > 0 {
			tags := m.Tags
			if r.Cfg.TagsMaxNumber > 0 && len(tags) > r.Cfg.TagsMaxNumber {
				tags = tags[:r.Cfg.TagsMaxNumber]
			}
			tagStr = strings.Join(tags, r.Cfg.Delimiter)
		}
		name = strings.ReplaceAll(name, "{tags}", tagStr)
	}

	if r.Cfg.ExcludeSquareBrackets {
		name = squareBracketGroup.ReplaceAllString(name, "")
	}

	return strings.TrimSpace(name)
}

// goDateFormat translates the strftime-flavored date_format the
// config carries (e.g. "060102" is already Go reference-time layout
// compatible; this is a passthrough kept as a named hook in case a
// future config value needs strftime translation).
func goDateFormat(layout string) string {
	if layout == "" {
		return "060102"
	}
	return layout
}

var reservedChars = regexp.MustCompile(`[<>"/\\|?*]`)

var fullWidthReplacements = map[rune]rune{
	'<': '＜', '>': '＞', ':': '：', '"': '＂',
	'/': '／', '\\': '＼', '|': '｜', '?': '？', '*': '＊',
}

// Sanitize strips or full-width-substitutes filesystem-reserved
// characters and trims to a safe length (spec.md §4.5 "Sanitization").
func (r *Renamer) Sanitize(name string) string {
	if r.Cfg.IllegalCharToFullWidth {
		var b strings.Builder
		for _, ch := range name {
			if repl, ok := fullWidthReplacements[ch]; ok {
				b.WriteRune(repl)
			} else {
				b.WriteRune(ch)
			}
		}
		name = b.String()
	} else {
		name = reservedChars.ReplaceAllString(name, "")
	}
	name = strings.Trim(name, " .")
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}

// Rename moves path to a sibling directory named after the compiled,
// sanitized template, resolving collisions with a "(N)" suffix
// (spec.md §4.5 "Collision resolution").
func (r *Renamer) Rename(path string, m *store.WorkMetadata) (string, error) {
	newName := r.Sanitize(r.CompileName(m))
	dir := filepath.Dir(path)

	if filepath.Base(path) == newName {
		return path, nil
	}

	newPath := filepath.Join(dir, newName)
	counter := 1
	for {
		if _, err := os.Stat(newPath); os.IsNotExist(err) {
			break
		}
		newPath = filepath.Join(dir, fmt.Sprintf("%s(%d)", newName, counter))
		counter++
	}

	if err := os.Rename(path, newPath); err != nil {
		return "", fmt.Errorf("transform: rename %s -> %s: %w", path, newPath, err)
	}
	return newPath, nil
}
