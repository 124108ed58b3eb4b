package task

import (
	"context"
	"testing"
	"time"
)

func blockingHandler(release chan struct{}) Handler {
	return func(t *Task) error {
		if err := t.WaitIfPaused(context.Background()); err != nil {
			return err
		}
		<-release
		return nil
	}
}

func TestEnginePauseResumeCancelByID(t *testing.T) {
	release := make(chan struct{})
	e := NewEngine(1, blockingHandler(release), nil)
	e.Start()
	defer e.Stop()

	tk := New(KindExtract, "/tmp/work.zip", true, false)
	if err := e.Submit(tk); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.After(time.Second)
	for tk.Status() != StatusProcessing {
		select {
		case <-deadline:
			t.Fatal("task never started")
		case <-time.After(time.Millisecond):
		}
	}

	if err := e.Pause(tk.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if tk.Status() != StatusPaused {
		t.Fatalf("status = %s, want paused", tk.Status())
	}

	if err := e.Resume(tk.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if tk.Status() != StatusProcessing {
		t.Fatalf("status = %s, want processing", tk.Status())
	}

	close(release)

	if err := e.Pause("does-not-exist"); err == nil {
		t.Fatal("expected error pausing unknown task id")
	}
}

func TestEngineCancelByID(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	e := NewEngine(1, blockingHandler(release), nil)
	e.Start()
	defer e.Stop()

	tk := New(KindExtract, "/tmp/work.zip", true, false)
	_ = e.Submit(tk)

	deadline := time.After(time.Second)
	for tk.Status() != StatusProcessing {
		select {
		case <-deadline:
			t.Fatal("task never started")
		case <-time.After(time.Millisecond):
		}
	}

	if err := e.Cancel(tk.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if tk.Status() != StatusFailed || !tk.IsCancelled() {
		t.Fatalf("status = %s, cancelled = %v, want failed+cancelled", tk.Status(), tk.IsCancelled())
	}
}

func TestEngineListFilterAndSort(t *testing.T) {
	e := NewEngine(1, func(t *Task) error { return nil }, nil)

	older := New(KindExtract, "/tmp/a.zip", true, false)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := New(KindExtract, "/tmp/b.zip", true, false)
	newer.CreatedAt = time.Now()
	newer.Fail("boom")

	e.tasks[older.ID] = older
	e.tasks[newer.ID] = newer

	all := e.List("")
	if len(all) != 2 || all[0].ID != newer.ID || all[1].ID != older.ID {
		t.Fatalf("List(\"\") not sorted newest-first: %+v", all)
	}

	failed := e.List(StatusFailed)
	if len(failed) != 1 || failed[0].ID != newer.ID {
		t.Fatalf("List(failed) = %+v, want only %s", failed, newer.ID)
	}
}

func TestEngineUpdateStatus(t *testing.T) {
	e := NewEngine(1, func(t *Task) error { return nil }, nil)
	tk := New(KindExtract, "/tmp/a.zip", true, false)
	e.tasks[tk.ID] = tk

	if err := e.UpdateStatus(tk.ID, StatusCompleted, "resolved as keep-new"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if tk.Status() != StatusCompleted {
		t.Fatalf("status = %s, want completed", tk.Status())
	}
	if _, step := tk.Progress(); step != "resolved as keep-new" {
		t.Fatalf("step = %q", step)
	}
}
