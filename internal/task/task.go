// Package task implements the C11 task engine: the live, mutable Task
// object and its lifecycle (start/pause/resume/cancel/fail/complete),
// plus a bounded-concurrency dispatcher (spec.md §4.9 "Task engine");
// tasks sharing a work code are not serialized. The persisted audit row lives in
// store.TaskRecord; this package owns the one authoritative in-memory
// copy while a task is live.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/kohai/internal/taskid"
)

// ErrNotFound is returned by id-addressed engine operations when no
// task with that id is known.
var ErrNotFound = errors.New("task: not found")

// Status enumerates spec.md §3 Task.Status.
type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessing    Status = "processing"
	StatusPaused        Status = "paused"
	StatusWaitingManual Status = "waiting_manual"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// Kind enumerates spec.md §3 Task.Kind.
type Kind string

const (
	KindExtract                Kind = "extract"
	KindFilter                 Kind = "filter"
	KindMetadata               Kind = "metadata"
	KindRename                 Kind = "rename"
	KindAutoProcess            Kind = "auto_process"
	KindProcessExistingFolder  Kind = "process_existing_folder"
)

// Task is the live, mutable unit of work dispatched by the engine.
// The unexported lifecycle fields are only reached through the methods
// below, which hold the mutex for the duration of the mutation. The
// exported fields are plain fields: the pipeline running the task sets
// OutputPath directly.
type Task struct {
	ID           string
	Kind         Kind
	SourcePath   string
	OutputPath   string
	AutoClassify bool
	SkipArchive  bool
	RJCode       string
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time

	mu          sync.Mutex
	status      Status
	progress    int
	currentStep string
	errorMessage string
	cancelled   bool
	pauseCh     chan struct{} // closed while not paused; replaced on pause
}

// New creates a pending task for sourcePath.
func New(kind Kind, sourcePath string, autoClassify, skipArchive bool) *Task {
	t := &Task{
		ID:           taskid.New(),
		Kind:         kind,
		SourcePath:   sourcePath,
		AutoClassify: autoClassify,
		SkipArchive:  skipArchive,
		CreatedAt:    time.Now().UTC(),
		status:       StatusPending,
		currentStep:  "queued",
		pauseCh:      closedChan(),
	}
	return t
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Status returns the current lifecycle status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Progress returns the current percent-complete and step label.
func (t *Task) Progress() (int, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress, t.currentStep
}

// ErrorMessage returns the failure reason, if any.
func (t *Task) ErrorMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errorMessage
}

// Start transitions the task to processing.
func (t *Task) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusProcessing
	t.StartedAt = time.Now().UTC()
	t.currentStep = "processing"
}

// Complete marks the task done at 100%.
func (t *Task) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusCompleted
	t.CompletedAt = time.Now().UTC()
	t.progress = 100
	t.currentStep = "done"
}

// Fail marks the task failed with the given reason.
func (t *Task) Fail(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusFailed
	t.CompletedAt = time.Now().UTC()
	t.errorMessage = reason
	t.currentStep = fmt.Sprintf("failed: %s", reason)
}

// WaitManual moves the task to waiting_manual, used while a duplicate
// conflict record awaits operator resolution (spec.md §4.8).
func (t *Task) WaitManual() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusWaitingManual
	t.currentStep = "awaiting conflict resolution"
}

// Pause blocks future honour-point checks until Resume is called.
func (t *Task) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusProcessing {
		return
	}
	t.status = StatusPaused
	t.pauseCh = make(chan struct{})
}

// Resume releases a paused task.
func (t *Task) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPaused {
		return
	}
	t.status = StatusProcessing
	close(t.pauseCh)
}

// Cancel marks the task cancelled; in-flight honour-point checks will
// observe it on their next poll.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	t.status = StatusFailed
	t.errorMessage = "user cancel"
	t.CompletedAt = time.Now().UTC()
	t.currentStep = "cancelled"
}

// IsCancelled reports whether Cancel has been called.
func (t *Task) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// SetStatus applies an externally-driven status transition, used by
// the updateStatus(id, status, message) operation (spec.md §4.1) —
// chiefly conflict-resolution callbacks marking a task Completed once
// the operator's decision has been carried out.
func (t *Task) SetStatus(status Status, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
	t.currentStep = message
	switch status {
	case StatusCompleted, StatusFailed:
		t.CompletedAt = time.Now().UTC()
		if status == StatusFailed {
			t.errorMessage = message
		}
	}
}

// WaitIfPaused blocks until the task is resumed, or ctx is cancelled.
// Extraction, filtering, and classification call this at every
// honour-point named in spec.md §4.9.
func (t *Task) WaitIfPaused(ctx context.Context) error {
	t.mu.Lock()
	ch := t.pauseCh
	t.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RJCodeHint returns the work code associated with this task, if
// known, for use by the extraction engine's password waterfall.
func (t *Task) RJCodeHint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.RJCode
}

// SetRJCode records the work code once resolved, so that later
// honour-point checks (the password waterfall) can use it.
func (t *Task) SetRJCode(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.RJCode = code
}

// UpdateProgress reports a percent-complete and human-readable step.
func (t *Task) UpdateProgress(progress int, step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	t.progress = progress
	t.currentStep = step
}

// Snapshot is a point-in-time copy of every field, used by the engine
// to build a persisted audit row without racing the task's mutex.
type Snapshot struct {
	ID           string
	Kind         Kind
	SourcePath   string
	OutputPath   string
	AutoClassify bool
	SkipArchive  bool
	RJCode       string
	Status       Status
	Progress     int
	CurrentStep  string
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Snapshot returns a consistent copy of the task's current state.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ID:           t.ID,
		Kind:         t.Kind,
		SourcePath:   t.SourcePath,
		OutputPath:   t.OutputPath,
		AutoClassify: t.AutoClassify,
		SkipArchive:  t.SkipArchive,
		RJCode:       t.RJCode,
		Status:       t.status,
		Progress:     t.progress,
		CurrentStep:  t.currentStep,
		ErrorMessage: t.errorMessage,
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
	}
}
