package transform

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ppiankov/kohai/internal/config"
)

// defaultFilterRules mirrors the built-in rules used when no config
// rules are set (spec.md §4.5 "Default filter rules").
func defaultFilterRules() []config.FilterRule {
	return []config.FilterRule{
		{Name: "drop SE-less WAV files", Pattern: `(?:SE|音|音效)(?:[な無]し|CUT).*\.WAV$`, Target: "file", Action: "exclude", Enabled: true},
		{Name: "drop MP3 files", Pattern: `\.mp3$`, Target: "file", Action: "exclude", Enabled: false},
	}
}

var audioExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".m4a": true,
	".ogg": true, ".wma": true, ".aac": true,
}

// Filter deletes files and (optionally) directories under root that
// match an enabled rule. Before applying MP3-matching rules, it
// checks whether MP3 is the directory's only audio format and, if so,
// disables those rules for this run — otherwise a release shipped
// only as MP3 would be filtered down to an empty folder (spec.md §4.5
// "Adaptive filter").
func Filter(root string, cfg *config.Filter) (filteredFiles, filteredDirs int) {
	if !cfg.Enabled {
		return 0, 0
	}

	rules := cfg.Rules
	if len(rules) == 0 {
		rules = defaultFilterRules()
	}

	formats := detectAudioFormats(root)
	if formats["mp3"] > 0 && len(formats) == 1 {
		rules = disableMP3Rules(rules)
	}

	compiled := compileRules(rules)

	var files, dirs []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || path == root {
			return nil
		}
		if info.IsDir() {
			if cfg.FilterDir && shouldFilter(info.Name(), compiled, "folder") {
				dirs = append(dirs, path)
			}
			return nil
		}
		if shouldFilter(info.Name(), compiled, "file") {
			files = append(files, path)
		}
		return nil
	})

	for _, f := range files {
		if os.Remove(f) == nil {
			filteredFiles++
		}
	}
	for _, d := range dirs {
		if _, err := os.Stat(d); err == nil {
			if os.RemoveAll(d) == nil {
				filteredDirs++
			}
		}
	}
	return filteredFiles, filteredDirs
}

type compiledRule struct {
	re     *regexp.Regexp
	target string
}

func compileRules(rules []config.FilterRule) []compiledRule {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			continue
		}
		out = append(out, compiledRule{re: re, target: r.Target})
	}
	return out
}

func shouldFilter(name string, rules []compiledRule, kind string) bool {
	for _, r := range rules {
		if r.target != kind && r.target != "all" {
			continue
		}
		if r.re.MatchString(name) {
			return true
		}
	}
	return false
}

func detectAudioFormats(root string) map[string]int {
	formats := make(map[string]int)
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if audioExtensions[ext] {
			formats[strings.TrimPrefix(ext, ".")]++
		}
		return nil
	})
	return formats
}

func disableMP3Rules(rules []config.FilterRule) []config.FilterRule {
	out := make([]config.FilterRule, len(rules))
	copy(out, rules)
	for i, r := range out {
		if r.Enabled && (r.Target == "file" || r.Target == "all") && strings.Contains(strings.ToLower(r.Pattern), "mp3") {
			out[i].Enabled = false
		}
	}
	return out
}
