package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/audioscribe/api/internal/model"
)

func newTestSession(id string) model.Session {
	return model.Session{
		ID:               id,
		Total:            100,
		OutputDir:        "/tmp/out/" + id,
		Format:           model.FormatMIDI,
		OriginalFilename: "song.wav",
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Create(ctx, newTestSession("s1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	sess, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if sess.Status != model.StatusStarting {
		t.Errorf("expected status starting, got %s", sess.Status)
	}
	if sess.Progress != 0 {
		t.Errorf("expected progress 0, got %d", sess.Progress)
	}

	store.Update(ctx, "s1", 40, "Separating stems")
	sess, _ = store.Get(ctx, "s1")
	if sess.Status != model.StatusProcessing {
		t.Errorf("expected status processing, got %s", sess.Status)
	}
	if sess.Progress != 40 || sess.CurrentStep != "Separating stems" {
		t.Errorf("unexpected snapshot: %+v", sess)
	}

	store.Complete(ctx, "s1")
	sess, _ = store.Get(ctx, "s1")
	if sess.Status != model.StatusCompleted {
		t.Errorf("expected status completed, got %s", sess.Status)
	}
	if sess.Progress != sess.Total {
		t.Errorf("expected full progress, got %d/%d", sess.Progress, sess.Total)
	}
	if sess.CurrentStep != "Completed" {
		t.Errorf("expected step Completed, got %q", sess.CurrentStep)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreUpdateMissingIsNoop(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Tolerates races with cleanup: all of these must be silent no-ops.
	if err := store.Update(ctx, "gone", 50, "step"); err != nil {
		t.Errorf("update on missing session: %v", err)
	}
	if err := store.Complete(ctx, "gone"); err != nil {
		t.Errorf("complete on missing session: %v", err)
	}
	if err := store.Fail(ctx, "gone", "boom"); err != nil {
		t.Errorf("fail on missing session: %v", err)
	}
}

func TestMemoryStoreProgressClampedAndMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Create(ctx, newTestSession("s1"))

	store.Update(ctx, "s1", 250, "overshoot")
	sess, _ := store.Get(ctx, "s1")
	if sess.Progress != 100 {
		t.Errorf("expected progress clamped to 100, got %d", sess.Progress)
	}

	store.Update(ctx, "s1", 10, "backwards")
	sess, _ = store.Get(ctx, "s1")
	if sess.Progress != 100 {
		t.Errorf("progress decreased: got %d", sess.Progress)
	}
	if sess.CurrentStep != "backwards" {
		t.Errorf("step should still be last-write-wins, got %q", sess.CurrentStep)
	}
}

func TestMemoryStoreTerminalIsImmutable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.Create(ctx, newTestSession("done"))
	store.Complete(ctx, "done")
	store.Update(ctx, "done", 10, "late write")
	store.Fail(ctx, "done", "late failure")

	sess, _ := store.Get(ctx, "done")
	if sess.Status != model.StatusCompleted {
		t.Errorf("terminal status changed to %s", sess.Status)
	}
	if sess.CurrentStep != "Completed" {
		t.Errorf("terminal step changed to %q", sess.CurrentStep)
	}

	store.Create(ctx, newTestSession("failed"))
	store.Update(ctx, "failed", 30, "working")
	store.Fail(ctx, "failed", "separation exploded")
	store.Complete(ctx, "failed")

	sess, _ = store.Get(ctx, "failed")
	if sess.Status != model.StatusError {
		t.Errorf("error state overwritten: %s", sess.Status)
	}
	if sess.CurrentStep != "Error: separation exploded" {
		t.Errorf("unexpected error step %q", sess.CurrentStep)
	}
	if sess.Progress != 30 {
		t.Errorf("fail must not alter progress, got %d", sess.Progress)
	}
}

func TestMemoryStoreTake(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Create(ctx, newTestSession("s1"))

	// Not completed yet: take must refuse and leave the record alone.
	if _, err := store.Take(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("take before completion: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Get(ctx, "s1"); err != nil {
		t.Errorf("refused take must not consume the session: %v", err)
	}

	store.Complete(ctx, "s1")
	sess, err := store.Take(ctx, "s1")
	if err != nil {
		t.Fatalf("take after completion failed: %v", err)
	}
	if sess.OutputDir == "" {
		t.Error("taken session lost its output dir")
	}

	if _, err := store.Take(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second take must fail, got %v", err)
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("taken session must be gone, got %v", err)
	}
}

func TestMemoryStoreTakeSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Create(ctx, newTestSession("s1"))
	store.Complete(ctx, "s1")

	const callers = 16
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Take(ctx, "s1"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winning retrieval, got %d", wins)
	}
}

func TestMemoryStoreRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Create(ctx, newTestSession("s1"))

	store.Remove(ctx, "s1")
	if err := store.Remove(ctx, "s1"); err != nil {
		t.Errorf("second remove: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected session gone, got %v", err)
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.Create(ctx, newTestSession("old-done"))
	store.Complete(ctx, "old-done")
	store.Create(ctx, newTestSession("old-running"))
	store.Update(ctx, "old-running", 50, "still working")

	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(10 * time.Millisecond)

	store.Create(ctx, newTestSession("fresh-done"))
	store.Complete(ctx, "fresh-done")

	removed, err := store.Sweep(ctx, cutoff)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	ids := make(map[string]bool)
	for _, sess := range removed {
		ids[sess.ID] = true
	}
	if !ids["old-done"] {
		t.Error("expected old terminal session swept")
	}
	if ids["old-running"] {
		t.Error("sweep must never touch non-terminal sessions")
	}
	if ids["fresh-done"] {
		t.Error("sweep removed a session newer than the cutoff")
	}
	if _, err := store.Get(ctx, "old-running"); err != nil {
		t.Errorf("running session disappeared: %v", err)
	}
}

func TestMemoryStoreConcurrentSessionsIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const sessions = 8
	const updates = 200

	for i := 0; i < sessions; i++ {
		store.Create(ctx, newTestSession(fmt.Sprintf("s%d", i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for p := 1; p <= updates; p++ {
				store.Update(ctx, id, p/2, fmt.Sprintf("step %d", p))
			}
			store.Complete(ctx, id)
		}(fmt.Sprintf("s%d", i))
	}

	// Concurrent readers checking per-session monotonicity during the run.
	done := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < sessions; i++ {
		readers.Add(1)
		go func(id string) {
			defer readers.Done()
			last := -1
			for {
				select {
				case <-done:
					return
				default:
				}
				sess, err := store.Get(ctx, id)
				if err != nil {
					continue
				}
				if sess.Progress < last {
					t.Errorf("session %s progress went backwards: %d -> %d", id, last, sess.Progress)
					return
				}
				last = sess.Progress
			}
		}(fmt.Sprintf("s%d", i))
	}

	wg.Wait()
	close(done)
	readers.Wait()

	for i := 0; i < sessions; i++ {
		id := fmt.Sprintf("s%d", i)
		sess, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("session %s lost: %v", id, err)
		}
		if sess.Status != model.StatusCompleted {
			t.Errorf("session %s not completed: %s", id, sess.Status)
		}
		if sess.Progress != sess.Total {
			t.Errorf("session %s progress %d != total %d", id, sess.Progress, sess.Total)
		}
	}
}
