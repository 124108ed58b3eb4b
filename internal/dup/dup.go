// Package dup implements the C9 duplicate detector: direct snapshot
// matches, the translation-linkage graph walk, and the companion-
// server check, synthesized into a ConflictRecord when a collision is
// found (spec.md §4.6 "Duplicate detection").
package dup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/kohai/internal/catalog"
	"github.com/ppiankov/kohai/internal/companion"
	"github.com/ppiankov/kohai/internal/store"
)

// Detector runs the full duplicate-detection pipeline for one work code.
type Detector struct {
	Store     *store.Store
	Catalog   *catalog.Client
	Companion *companion.Client
	LibraryPath string
	LinkageTTL  time.Duration
}

// New builds a duplicate detector.
func New(st *store.Store, cat *catalog.Client, comp *companion.Client, libraryPath string, linkageTTL time.Duration) *Detector {
	return &Detector{Store: st, Catalog: cat, Companion: comp, LibraryPath: libraryPath, LinkageTTL: linkageTTL}
}

// Result is the outcome of a Check call.
type Result struct {
	IsDuplicate    bool
	Kind           store.ConflictKind
	ExistingPath   string
	LinkedWorks    []store.LinkedWorkInfo
	RelatedCodes   []string
	AnalysisInfo   map[string]any
	CompanionFound bool
}

var cueLanguages = []string{"CHI_HANS", "CHI_HANT", "ENG"}

// Check runs the direct, linked-translation, and companion-server
// checks in sequence, short-circuiting on the first hit (spec.md §4.6).
func (d *Detector) Check(workCode string) (*Result, error) {
	if direct, err := d.checkDirect(workCode); err != nil {
		return nil, err
	} else if direct != nil {
		return direct, nil
	}

	linked, err := d.checkLinked(workCode)
	if err != nil {
		return nil, fmt.Errorf("dup: linked check %s: %w", workCode, err)
	}
	if linked != nil {
		return linked, nil
	}

	result := &Result{RelatedCodes: []string{workCode}}
	if d.Companion.Enabled {
		cr, err := d.Companion.CheckDuplicate(workCode)
		if err == nil && cr.Found {
			result.CompanionFound = true
			result.AnalysisInfo = map[string]any{
				"in_companion_server": map[string]any{
					"title":  cr.Title,
					"circle": cr.CircleName,
					"tags":   cr.Tags,
				},
			}
		}
	}
	return result, nil
}

// checkDirect looks for an existing snapshot row for workCode, or a
// library-folder substring match when no row exists (spec.md §4.6
// "Direct duplicate").
func (d *Detector) checkDirect(workCode string) (*Result, error) {
	snapshot, err := d.Store.GetLibrarySnapshot(workCode)
	if err == nil {
		return &Result{
			IsDuplicate:  true,
			Kind:         store.ConflictDuplicate,
			ExistingPath: snapshot.FolderPath,
			RelatedCodes: []string{workCode},
		}, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	row, err := d.Store.FindLibraryByCodeSubstring(workCode)
	if err == nil {
		return &Result{
			IsDuplicate:  true,
			Kind:         store.ConflictDuplicate,
			ExistingPath: row.FolderPath,
			RelatedCodes: []string{workCode},
		}, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	path, err := d.ScanLibraryForCode(workCode)
	if err == nil {
		return &Result{
			IsDuplicate:  true,
			Kind:         store.ConflictDuplicate,
			ExistingPath: path,
			RelatedCodes: []string{workCode},
		}, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}
	return nil, nil
}

// checkLinked expands the translation-linkage graph for workCode and
// looks for any linked code already present in the library, fanning
// the lookups out in parallel (spec.md §4.6 "Linked-work detection";
// supplemented feature grounded on dlsite_service.py's asyncio.gather
// fan-out for linked-work resolution).
func (d *Detector) checkLinked(workCode string) (*Result, error) {
	linked, err := d.linkageGraph(workCode)
	if err != nil {
		return nil, err
	}
	if len(linked) <= 1 {
		return nil, nil
	}

	type hit struct {
		info store.LinkedWorkInfo
		row  *store.LibrarySnapshotRow
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		hits []hit
	)
	for code, edge := range linked {
		if code == workCode {
			continue
		}
		wg.Add(1)
		go func(code string, edge store.LinkageEdge) {
			defer wg.Done()
			row, err := d.Store.GetLibrarySnapshot(code)
			if err != nil {
				row, err = d.Store.FindLibraryByCodeSubstring(code)
				if err != nil {
					return
				}
			}
			mu.Lock()
			hits = append(hits, hit{
				info: store.LinkedWorkInfo{WorkCode: code, Relation: string(edge.Relation), Language: edge.Language, Path: row.FolderPath},
				row:  row,
			})
			mu.Unlock()
		}(code, edge)
	}
	wg.Wait()

	if len(hits) == 0 {
		return nil, nil
	}

	related := make([]string, 0, len(linked))
	for code := range linked {
		related = append(related, code)
	}

	linkedInfos := make([]store.LinkedWorkInfo, 0, len(hits))
	kind := store.ConflictLanguageVariant
	hasOriginal, hasParent, hasChild := false, false, false
	for _, h := range hits {
		linkedInfos = append(linkedInfos, h.info)
		switch h.info.Relation {
		case string(store.RelationOriginal):
			hasOriginal = true
		case string(store.RelationParent):
			hasParent = true
		case string(store.RelationChild):
			hasChild = true
		}
	}
	switch {
	case len(hits) == 1 && hasOriginal:
		kind = store.ConflictLinkedOriginal
	case hasParent:
		kind = store.ConflictLinkedTranslation
	case hasChild:
		kind = store.ConflictLinkedChild
	}

	return &Result{
		IsDuplicate:  true,
		Kind:         kind,
		ExistingPath: hits[0].row.FolderPath,
		LinkedWorks:  linkedInfos,
		RelatedCodes: related,
		AnalysisInfo: map[string]any{
			"has_original": hasOriginal,
			"has_parent":   hasParent,
			"has_child":    hasChild,
		},
	}, nil
}

// linkageGraph returns the full set of codes linked to workCode
// (including itself), consulting the persisted 24h cache before
// calling the catalog (spec.md §4.6 "Linkage graph").
func (d *Detector) linkageGraph(workCode string) (map[string]store.LinkageEdge, error) {
	now := time.Now()
	graph := map[string]store.LinkageEdge{workCode: {OriginalCode: workCode, LinkedCode: workCode}}

	cached, err := d.Store.GetLinkageEdges(workCode, now)
	if err != nil {
		return nil, err
	}
	if len(cached) > 0 {
		for _, e := range cached {
			graph[e.LinkedCode] = e
		}
		return graph, nil
	}

	rec, err := d.Catalog.Fetch(workCode)
	if err != nil {
		if err == catalog.ErrNotFound {
			return graph, nil
		}
		return nil, err
	}
	if rec.TranslationInfo == nil {
		return graph, nil
	}
	info := rec.TranslationInfo

	edges := d.expandLinkage(workCode, info)
	for _, e := range edges {
		e.CachedAt = now
		e.ExpiresAt = now.Add(d.LinkageTTL)
		if err := d.Store.PutLinkageEdge(e); err != nil {
			return nil, err
		}
		graph[e.LinkedCode] = e
	}

	// Recurse into each discovered language edition's own linkage set:
	// a work's siblings are not always symmetric (one edition may list
	// a parent/child the seed's own record never mentions), so every
	// child edge found above gets its own catalog fetch and expansion,
	// merging only codes not already known (ground truth:
	// dlsite_service.py get_full_linkage's per-language-edition
	// recursive get_linked_works call).
	for _, e := range edges {
		if e.Relation != store.RelationChild {
			continue
		}
		edRec, err := d.Catalog.Fetch(e.LinkedCode)
		if err != nil || edRec.TranslationInfo == nil {
			continue
		}
		for _, nested := range d.expandLinkage(e.LinkedCode, edRec.TranslationInfo) {
			if _, exists := graph[nested.LinkedCode]; exists {
				continue
			}
			nested.CachedAt = now
			nested.ExpiresAt = now.Add(d.LinkageTTL)
			if err := d.Store.PutLinkageEdge(nested); err != nil {
				return nil, err
			}
			graph[nested.LinkedCode] = nested
		}
	}
	return graph, nil
}

// expandLinkage walks the translation_info branches the same way
// dlsite_service.py's get_linked_works does: an original looks at its
// language editions, a parent/child looks at its siblings.
func (d *Detector) expandLinkage(workCode string, info *catalog.TranslationInfo) []store.LinkageEdge {
	var edges []store.LinkageEdge

	if info.IsOriginal {
		for _, ed := range info.LanguageEditions {
			if !containsLanguage(cueLanguages, ed.Lang) {
				continue
			}
			edges = append(edges, store.LinkageEdge{
				OriginalCode: workCode, LinkedCode: ed.Workno,
				Relation: store.RelationChild, Language: ed.Lang,
			})
		}
	}
	if info.IsParent || info.IsChild {
		if info.OriginalWorkno != "" {
			edges = append(edges, store.LinkageEdge{
				OriginalCode: workCode, LinkedCode: info.OriginalWorkno,
				Relation: store.RelationOriginal, Language: info.Lang,
			})
		}
		if info.ParentWorkno != "" && info.ParentWorkno != info.OriginalWorkno {
			edges = append(edges, store.LinkageEdge{
				OriginalCode: workCode, LinkedCode: info.ParentWorkno,
				Relation: store.RelationParent, Language: info.Lang,
			})
		}
		for _, child := range info.ChildWorknos {
			edges = append(edges, store.LinkageEdge{
				OriginalCode: workCode, LinkedCode: child,
				Relation: store.RelationChild, Language: info.Lang,
			})
		}
	}
	return edges
}

func containsLanguage(list []string, lang string) bool {
	for _, l := range list {
		if l == lang {
			return true
		}
	}
	return false
}

// ScanLibraryForCode walks the library tree looking for a folder
// whose name contains code, used when the snapshot table has no row
// yet (spec.md §4.6 "Direct duplicate", fallback path).
func (d *Detector) ScanLibraryForCode(code string) (string, error) {
	var found string
	err := filepath.WalkDir(d.LibraryPath, func(path string, entry os.DirEntry, err error) error {
		if err != nil || !entry.IsDir() {
			return nil
		}
		if strings.Contains(entry.Name(), code) {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", store.ErrNotFound
	}
	return found, nil
}
