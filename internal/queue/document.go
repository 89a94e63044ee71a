package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Document is a JSON array of T persisted as a single file. All access goes
// through one mutex, so a load-modify-save done via Update is never
// interleaved with another writer in this process.
type Document[T any] struct {
	path string
	log  *slog.Logger

	mu sync.Mutex
}

func NewDocument[T any](path string, logger *slog.Logger) *Document[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Document[T]{path: path, log: logger.With("document", path)}
}

func (d *Document[T]) Path() string { return d.path }

// Ensure creates an empty document if none exists yet.
func (d *Document[T]) Ensure() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := os.Stat(d.path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return &WriteError{Path: d.path, Err: err}
	}
	return d.save(nil)
}

// Load returns the stored items. On any read or parse failure it returns an
// empty slice together with a *ReadError.
func (d *Document[T]) Load() ([]T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load()
}

func (d *Document[T]) Save(items []T) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.save(items)
}

// Update runs fn on the current items and saves what it returns. A missing
// or corrupt document is logged and fn sees an empty slice. Any other read
// failure aborts the update so an unreadable file is never overwritten. If
// fn returns an error nothing is written.
func (d *Document[T]) Update(fn func(items []T) ([]T, error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	items, err := d.load()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, ErrCorrupt) {
			return err
		}
		d.log.Warn("document read failed, treating as empty", "error", err)
	}

	next, err := fn(items)
	if err != nil {
		return err
	}
	return d.save(next)
}

func (d *Document[T]) load() ([]T, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return []T{}, &ReadError{Path: d.path, Err: err}
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		d.quarantine()
		return []T{}, &ReadError{Path: d.path, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// quarantine moves an unparsable document aside and replaces it with an
// empty one so the on-disk file stays valid.
func (d *Document[T]) quarantine() {
	aside := fmt.Sprintf("%s.corrupt-%d", d.path, time.Now().UnixNano())
	if err := os.Rename(d.path, aside); err != nil {
		d.log.Error("failed to move corrupt document aside", "error", err)
		return
	}
	d.log.Error("corrupt document moved aside", "moved_to", aside)

	if err := d.save(nil); err != nil {
		d.log.Error("failed to recreate empty document", "error", err)
	}
}

func (d *Document[T]) save(items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return &WriteError{Path: d.path, Err: err}
	}
	if err := writeFileAtomic(d.path, data); err != nil {
		return &WriteError{Path: d.path, Err: err}
	}
	return nil
}

// writeFileAtomic writes to a temp file in the target directory, fsyncs it and
// renames it over path, so readers see either the old or the new document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
