package task

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/ppiankov/kohai/internal/store"
)

// Handler executes one task to completion. Handlers call the honour
// points (WaitIfPaused/IsCancelled) themselves at the points named in
// spec.md §4.9.
type Handler func(t *Task) error

// Engine dispatches tasks across a fixed worker pool. It keeps a set
// of in-flight work codes (MarkRJCodeProcessing/IsRJCodeProcessing),
// but nothing in this module marks a code, so tasks that share a work
// code are not serialized and can run concurrently.
// Modeled on the teacher's processor.Process loop (internal/daemon/processor.go),
// generalized from a single job kind to the five task kinds above.
type Engine struct {
	maxWorkers int
	handler    Handler
	store      *store.Store

	mu            sync.Mutex
	tasks         map[string]*Task
	inFlightCodes map[string]bool
	queue         chan *Task
	wg            sync.WaitGroup
	started       bool
}

// NewEngine builds a dispatcher with maxWorkers concurrent slots. st
// may be nil (tests exercising the dispatcher in isolation); when
// present every lifecycle transition is mirrored into store.TaskRecord
// so `kohai list` can see task state from a separate process (spec.md
// §3 "Ownership": the engine owns the live copy, the store the audit
// row).
func NewEngine(maxWorkers int, handler Handler, st *store.Store) *Engine {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Engine{
		maxWorkers:    maxWorkers,
		handler:       handler,
		store:         st,
		tasks:         make(map[string]*Task),
		inFlightCodes: make(map[string]bool),
		queue:         make(chan *Task, 256),
	}
}

// persist mirrors a task's current state into the store, best-effort.
func (e *Engine) persist(t *Task) {
	if e.store == nil {
		return
	}
	s := t.Snapshot()
	rec := &store.TaskRecord{
		ID:           s.ID,
		Kind:         string(s.Kind),
		Status:       string(s.Status),
		SourcePath:   s.SourcePath,
		OutputPath:   s.OutputPath,
		AutoClassify: s.AutoClassify,
		SkipArchive:  s.SkipArchive,
		Progress:     s.Progress,
		CurrentStep:  s.CurrentStep,
		ErrorMessage: s.ErrorMessage,
		RJCode:       s.RJCode,
		CreatedAt:    s.CreatedAt,
		StartedAt:    s.StartedAt,
		CompletedAt:  s.CompletedAt,
	}
	if err := e.store.PutTaskRecord(rec); err != nil {
		fmt.Fprintf(os.Stderr, "task: persist %s: %v\n", t.ID, err)
	}
}

// Start launches the fixed worker pool. Safe to call once.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	for i := 0; i < e.maxWorkers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
}

// Stop closes the queue and waits for in-flight tasks to drain.
func (e *Engine) Stop() {
	close(e.queue)
	e.wg.Wait()
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for t := range e.queue {
		e.run(t)
	}
}

func (e *Engine) run(t *Task) {
	defer e.releaseCode(t.RJCode)
	t.Start()
	e.persist(t)
	if err := e.handler(t); err != nil {
		t.Fail(err.Error())
		e.persist(t)
		return
	}
	if t.Status() == StatusProcessing {
		t.Complete()
	}
	e.persist(t)
}

// Submit records a task and enqueues it, returning an error when the
// queue is full. It does not consult the in-flight work-code set.
func (e *Engine) Submit(t *Task) error {
	e.mu.Lock()
	e.tasks[t.ID] = t
	e.mu.Unlock()
	e.persist(t)

	select {
	case e.queue <- t:
		return nil
	default:
		return fmt.Errorf("task: engine queue full, rejecting %s", t.ID)
	}
}

// Get returns a task by id.
func (e *Engine) Get(id string) (*Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	return t, ok
}

// List returns tasks known to the engine matching status, sorted by
// creation time descending (spec.md §4.1 "list(filter)"). An empty
// status matches every task.
func (e *Engine) List(status Status) []*Task {
	e.mu.Lock()
	out := make([]*Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t)
	}
	e.mu.Unlock()

	if status != "" {
		filtered := out[:0:0]
		for _, t := range out {
			if t.Status() == status {
				filtered = append(filtered, t)
			}
		}
		out = filtered
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Pause sets the pause latch on the task with the given id (spec.md
// §4.1 "pause(id)").
func (e *Engine) Pause(id string) error {
	t, ok := e.Get(id)
	if !ok {
		return fmt.Errorf("task: pause %s: %w", id, ErrNotFound)
	}
	t.Pause()
	e.persist(t)
	return nil
}

// Resume releases the pause latch on the task with the given id
// (spec.md §4.1 "resume(id)").
func (e *Engine) Resume(id string) error {
	t, ok := e.Get(id)
	if !ok {
		return fmt.Errorf("task: resume %s: %w", id, ErrNotFound)
	}
	t.Resume()
	e.persist(t)
	return nil
}

// Cancel sets the cancel flag and marks the task Failed with reason
// "user cancel" (spec.md §4.1 "cancel(id)"). Work-in-progress
// honour-points abort at their next poll.
func (e *Engine) Cancel(id string) error {
	t, ok := e.Get(id)
	if !ok {
		return fmt.Errorf("task: cancel %s: %w", id, ErrNotFound)
	}
	t.Cancel()
	e.persist(t)
	return nil
}

// UpdateStatus applies an external status/message update to a task by
// id (spec.md §4.1 "updateStatus(id, status, message)"), used by
// conflict-resolution callbacks once an operator's decision has been
// carried out.
func (e *Engine) UpdateStatus(id string, status Status, message string) error {
	t, ok := e.Get(id)
	if !ok {
		return fmt.Errorf("task: update status %s: %w", id, ErrNotFound)
	}
	t.SetStatus(status, message)
	e.persist(t)
	return nil
}

// IsRJCodeProcessing reports whether a work code currently has a task
// in flight (spec.md §4.9 "Per-work-code serialization").
func (e *Engine) IsRJCodeProcessing(code string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlightCodes[code]
}

// MarkRJCodeProcessing claims a work code for the duration of a task.
func (e *Engine) MarkRJCodeProcessing(code string) {
	if code == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlightCodes[code] = true
}

func (e *Engine) releaseCode(code string) {
	if code == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlightCodes, code)
}
