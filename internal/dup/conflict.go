package dup

import (
	"fmt"

	"github.com/ppiankov/kohai/internal/store"
	"github.com/ppiankov/kohai/internal/taskid"
)

// RecordConflict persists a Result as a ConflictRecord awaiting
// operator resolution. The store enforces the idempotence rule (at
// most one pending record per work code) and the new-side path
// existence check; both return (nil, nil) here rather than an error
// (spec.md §4.8 "Conflict record lifecycle").
func (d *Detector) RecordConflict(taskID, workCode, newPath string, r *Result, staged *store.WorkMetadata) (*store.ConflictRecord, error) {
	rec := &store.ConflictRecord{
		ID:              taskid.New(),
		TaskID:          taskID,
		WorkCode:        workCode,
		Kind:            r.Kind,
		ExistingPath:    r.ExistingPath,
		NewPath:         newPath,
		StagedMetadata:  staged,
		Resolution:      store.ResolutionPending,
		LinkedWorksInfo: r.LinkedWorks,
		AnalysisInfo:    r.AnalysisInfo,
		RelatedRJCodes:  r.RelatedCodes,
	}
	created, err := d.Store.CreateConflict(rec)
	if err != nil {
		return nil, fmt.Errorf("dup: record conflict %s: %w", workCode, err)
	}
	return created, nil
}

// Resolve persists an operator's resolution decision on the conflict
// record. It is the store-bookkeeping half of resolution only — the
// filesystem side effects (deleting a copy, re-running extract through
// classify, marking the archived source row) live in
// engine.Pipeline.ResolveConflict, which calls this first. KEEP_BOTH
// and MERGE_LANG have no filesystem side effects at all: the original
// implementation's corresponding branches never re-file or merge
// anything either, so retaining both copies in place is correct here
// too, not a gap to fill in.
func (d *Detector) Resolve(conflictID string, resolution store.Resolution) error {
	if err := d.Store.ResolveConflict(conflictID, resolution); err != nil {
		return fmt.Errorf("dup: resolve conflict %s: %w", conflictID, err)
	}
	return nil
}
