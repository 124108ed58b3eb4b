package extract

import (
	"time"

	"github.com/ppiankov/kohai/internal/archivetool"
	"github.com/ppiankov/kohai/internal/store"
)

// archiveInfo is the result of a successful content listing: the file
// manifest and the password that was able to read it (not necessarily
// the password that will extract it — spec.md §4.3 "Read contents").
type archiveInfo struct {
	Path     string
	Files    []archivetool.Entry
	Password string
}

// candidatePasswords builds the deduplicated, priority-ordered
// password list: vault matches for this work code, then the archive's
// already-known password, then none, then the configured defaults,
// then generic vault entries with neither work code nor filename
// (spec.md §4.3 "Password waterfall"). Vault entries that match only
// by filename are not tried.
func (e *Engine) candidatePasswords(rjcode string, known ...string) []string {
	var ordered []string
	seen := make(map[string]bool)
	add := func(pwd string) {
		if seen[pwd] {
			return
		}
		seen[pwd] = true
		ordered = append(ordered, pwd)
	}

	var generic []string
	if entries, err := e.Store.ListPasswordCandidates(); err == nil {
		for _, p := range entries {
			if rjcode != "" && p.WorkCode == rjcode {
				add(p.Password)
			} else if p.WorkCode == "" && p.Filename == "" {
				generic = append(generic, p.Password)
			}
		}
	}
	for _, k := range known {
		add(k)
	}
	add("")
	for _, p := range e.Cfg.PasswordList {
		add(p)
	}
	for _, p := range generic {
		add(p)
	}
	return ordered
}

// vaultPasswords returns candidates from the persisted vault ordered
// by specificity: work-code match, then generic entries with neither
// work code nor filename. Entries that match only by filename are not
// returned.
func (e *Engine) vaultPasswords(rjcode string) ([]string, error) {
	all, err := e.Store.ListPasswordCandidates()
	if err != nil {
		return nil, err
	}

	var byCode, byGeneric []string
	seen := make(map[string]bool)
	addUnique := func(dst *[]string, pwd string) {
		if seen[pwd] {
			return
		}
		seen[pwd] = true
		*dst = append(*dst, pwd)
	}

	for _, p := range all {
		if rjcode != "" && p.WorkCode == rjcode {
			addUnique(&byCode, p.Password)
		}
	}
	for _, p := range all {
		if p.WorkCode == "" && p.Filename == "" {
			addUnique(&byGeneric, p.Password)
		}
	}

	return append(byCode, byGeneric...), nil
}

// readContents lists an archive's manifest, trying passwords in
// waterfall order until one succeeds (spec.md §4.3 "Read contents").
func (e *Engine) readContents(path, rjcode string) (*archiveInfo, error) {
	for _, pwd := range e.candidatePasswords(rjcode) {
		entries, err := e.Tool.List(path, pwd)
		if err == nil {
			return &archiveInfo{Path: path, Files: entries, Password: pwd}, nil
		}
	}
	return nil, errNoPasswordWorked(path)
}

func errNoPasswordWorked(path string) error {
	return &noPasswordError{path: path}
}

type noPasswordError struct{ path string }

func (e *noPasswordError) Error() string {
	return "extract: no candidate password could read archive contents: " + e.path
}

// recordUsage bumps the vault's use counter when a vault password
// succeeded, matching the original's per-success audit trail.
func (e *Engine) recordUsage(password string, vaultPasswords []string) {
	if password == "" {
		return
	}
	inVault := false
	for _, p := range vaultPasswords {
		if p == password {
			inVault = true
			break
		}
	}
	if !inVault {
		return
	}
	all, err := e.Store.ListPasswordCandidates()
	if err != nil {
		return
	}
	for _, entry := range all {
		if entry.Password == password {
			_ = e.Store.RecordPasswordUse(entry.ID, time.Now().UTC())
			return
		}
	}
}
