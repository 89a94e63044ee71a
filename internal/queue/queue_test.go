package queue

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LeventeLantos/contact-relay/internal/model"
)

func newTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()

	dir := t.TempDir()
	q := New(filepath.Join(dir, "queue.json"), filepath.Join(dir, "dead.json"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := q.Ensure(); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	return q, dir
}

func TestDocument_EnsureCreatesEmptyArray(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "queue.json")
	d := NewDocument[model.QueueEntry](path, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := d.Ensure(); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	if strings.TrimSpace(string(raw)) != "[]" {
		t.Fatalf("expected empty array, got %q", string(raw))
	}
}

func TestDocument_EnsureKeepsExistingContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "queue.json")
	if err := os.WriteFile(path, []byte(`[{"id":"a","name":"x"}]`), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	d := NewDocument[model.QueueEntry](path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := d.Ensure(); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}

	items, err := d.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(items) != 1 || items[0].ID != "a" {
		t.Fatalf("expected seeded entry to survive, got %+v", items)
	}
}

func TestDocument_LoadMissingReturnsEmpty(t *testing.T) {
	t.Parallel()

	d := NewDocument[model.QueueEntry](filepath.Join(t.TempDir(), "missing.json"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	items, err := d.Load()
	if items == nil || len(items) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", items)
	}

	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("expected *ReadError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist in chain, got %v", err)
	}
}

func TestDocument_LoadCorruptReturnsEmptyAndMovesFileAside(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "queue.json")
	if err := os.WriteFile(path, []byte(`[{"name": "half`), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	d := NewDocument[model.QueueEntry](path, slog.New(slog.NewTextHandler(io.Discard, nil)))

	items, err := d.Load()
	if len(items) != 0 {
		t.Fatalf("expected empty slice, got %+v", items)
	}
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}

	// The document is valid again.
	items, err = d.Load()
	if err != nil {
		t.Fatalf("second Load() error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty slice after recovery, got %+v", items)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "queue.json.corrupt-*"))
	if len(matches) != 1 {
		t.Fatalf("expected one quarantined file, got %v", matches)
	}
}

func TestDocument_LoadNullIsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "queue.json")
	if err := os.WriteFile(path, []byte(`null`), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	items, err := NewDocument[model.QueueEntry](path, slog.New(slog.NewTextHandler(io.Discard, nil))).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", items)
	}
}

func TestDocument_SaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	d := NewDocument[model.QueueEntry](filepath.Join(dir, "queue.json"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < 5; i++ {
		if err := d.Save([]model.QueueEntry{{ID: fmt.Sprint(i)}}); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only queue.json, got %v", names)
	}
}

func TestDocument_SaveFailureIsWriteError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Parent is a regular file, so the directory cannot be created.
	d := NewDocument[model.QueueEntry](filepath.Join(blocker, "queue.json"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := d.Save([]model.QueueEntry{{ID: "a"}})
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected *WriteError, got %v", err)
	}
}

func TestDocument_UpdateErrorSkipsWrite(t *testing.T) {
	t.Parallel()

	d := NewDocument[model.QueueEntry](filepath.Join(t.TempDir(), "queue.json"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := d.Save([]model.QueueEntry{{ID: "a"}}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	boom := errors.New("boom")
	err := d.Update(func(items []model.QueueEntry) ([]model.QueueEntry, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	items, _ := d.Load()
	if len(items) != 1 {
		t.Fatalf("expected document untouched, got %+v", items)
	}
}

func TestDocument_UpdateAbortsOnUnreadableDocument(t *testing.T) {
	t.Parallel()

	// A directory at the document path cannot be read as a file.
	path := filepath.Join(t.TempDir(), "queue.json")
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("seed: %v", err)
	}
	d := NewDocument[model.QueueEntry](path, slog.New(slog.NewTextHandler(io.Discard, nil)))

	called := false
	err := d.Update(func(items []model.QueueEntry) ([]model.QueueEntry, error) {
		called = true
		return items, nil
	})
	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("expected *ReadError, got %v", err)
	}
	if called {
		t.Fatalf("expected fn not to run")
	}
	if fi, err := os.Stat(path); err != nil || !fi.IsDir() {
		t.Fatalf("expected path left as is, stat err=%v", err)
	}
}

func TestQueue_EnqueueIsPersistedBeforeReturn(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return fixed }

	entry, err := q.Enqueue(model.Submission{Name: "Ada", Email: "ada@example.com", Message: "hi"})
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if entry.ID == "" {
		t.Fatalf("expected an ID to be assigned")
	}
	if !entry.CreatedAt.Equal(fixed) {
		t.Fatalf("expected CreatedAt %v, got %v", fixed, entry.CreatedAt)
	}

	// A fresh instance over the same files sees the entry.
	reopened := New(q.entries.Path(), q.dead.Path(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	items, err := reopened.Pending()
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(items))
	}
	got := items[0]
	if got.ID != entry.ID || got.Name != "Ada" || got.Email != "ada@example.com" || got.Message != "hi" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if !got.CreatedAt.Equal(fixed) {
		t.Fatalf("expected CreatedAt %v, got %v", fixed, got.CreatedAt)
	}
}

func TestQueue_EnqueueKeepsContentAsIs(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)

	if _, err := q.Enqueue(model.Submission{}); err != nil {
		t.Fatalf("Enqueue() with empty fields error: %v", err)
	}
	if _, err := q.Enqueue(model.Submission{Email: "not an email", Message: strings.Repeat("x", 10000)}); err != nil {
		t.Fatalf("Enqueue() with odd content error: %v", err)
	}

	items, _ := q.Pending()
	if len(items) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(items))
	}
}

func TestQueue_ConcurrentEnqueueLosesNothing(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := q.Enqueue(model.Submission{Name: fmt.Sprintf("n%d", i)}); err != nil {
				t.Errorf("Enqueue() error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	items, err := q.Pending()
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(items) != n {
		t.Fatalf("expected %d entries, got %d", n, len(items))
	}
}

func TestQueue_CommitKeepsEntriesEnqueuedAfterSnapshot(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)

	a, _ := q.Enqueue(model.Submission{Name: "A"})
	b, _ := q.Enqueue(model.Submission{Name: "B"})

	snap, err := q.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("expected snapshot of 2, got %d", len(snap))
	}

	late, _ := q.Enqueue(model.Submission{Name: "late"})

	dead, err := q.Commit(Outcome{
		Delivered: []string{a.ID},
		Failed:    map[string]string{b.ID: "db down"},
	}, 0)
	if err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if len(dead) != 0 {
		t.Fatalf("expected no dead letters, got %+v", dead)
	}

	items, _ := q.Pending()
	if len(items) != 2 {
		t.Fatalf("expected 2 entries, got %+v", items)
	}
	if items[0].ID != b.ID || items[1].ID != late.ID {
		t.Fatalf("expected [B, late], got %+v", items)
	}
	if items[0].Attempts != 1 || items[0].LastError != "db down" {
		t.Fatalf("expected B attempts=1 last_error=db down, got %+v", items[0])
	}
	if items[1].Attempts != 0 {
		t.Fatalf("expected late entry untouched, got %+v", items[1])
	}
}

func TestQueue_CommitMovesExhaustedEntriesToDeadLetters(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	a, _ := q.Enqueue(model.Submission{Name: "A"})
	b, _ := q.Enqueue(model.Submission{Name: "B"})

	failBoth := Outcome{Failed: map[string]string{a.ID: "bad", b.ID: "bad"}}

	if _, err := q.Commit(failBoth, 2); err != nil {
		t.Fatalf("first Commit() error: %v", err)
	}
	if items, _ := q.Pending(); len(items) != 2 {
		t.Fatalf("expected both entries still queued after 1 attempt, got %+v", items)
	}

	dead, err := q.Commit(failBoth, 2)
	if err != nil {
		t.Fatalf("second Commit() error: %v", err)
	}
	if len(dead) != 2 {
		t.Fatalf("expected 2 dead letters, got %+v", dead)
	}

	if items, _ := q.Pending(); len(items) != 0 {
		t.Fatalf("expected queue empty, got %+v", items)
	}

	letters, err := q.DeadLetters()
	if err != nil {
		t.Fatalf("DeadLetters() error: %v", err)
	}
	if len(letters) != 2 {
		t.Fatalf("expected 2 persisted dead letters, got %+v", letters)
	}
	if letters[0].Attempts != 2 || !strings.Contains(letters[0].Reason, "bad") {
		t.Fatalf("unexpected dead letter: %+v", letters[0])
	}
}

func TestQueue_RequeueRestoresDeadLetters(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	a, _ := q.Enqueue(model.Submission{Name: "A"})

	if _, err := q.Commit(Outcome{Failed: map[string]string{a.ID: "bad"}}, 1); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	n, err := q.Requeue()
	if err != nil {
		t.Fatalf("Requeue() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 requeued, got %d", n)
	}

	items, _ := q.Pending()
	if len(items) != 1 || items[0].ID != a.ID || items[0].Attempts != 0 {
		t.Fatalf("expected A back with attempts reset, got %+v", items)
	}
	if letters, _ := q.DeadLetters(); len(letters) != 0 {
		t.Fatalf("expected dead letters cleared, got %+v", letters)
	}

	if n, err := q.Requeue(); err != nil || n != 0 {
		t.Fatalf("expected no-op requeue, got n=%d err=%v", n, err)
	}
}

func TestQueue_SnapshotAssignsMissingIDs(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	legacy := `[{"name":"old","email":"o@example.com","message":"m","created_at":"2025-01-01T00:00:00Z"}]`
	if err := os.WriteFile(q.entries.Path(), []byte(legacy), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	snap, err := q.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if len(snap) != 1 || snap[0].ID == "" {
		t.Fatalf("expected ID assigned, got %+v", snap)
	}

	items, _ := q.Pending()
	if len(items) != 1 || items[0].ID != snap[0].ID {
		t.Fatalf("expected assigned ID persisted, got %+v", items)
	}
}

func TestQueue_SnapshotOfEmptyQueueDoesNotWrite(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)

	before, err := os.Stat(q.entries.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	snap, err := q.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}

	after, err := os.Stat(q.entries.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !os.SameFile(before, after) {
		t.Fatalf("expected queue document not to be rewritten")
	}
}
