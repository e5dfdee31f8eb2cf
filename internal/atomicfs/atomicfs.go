// Package atomicfs implements write / append / delete / JSON
// read-modify-write against the project tree, each mutation going through
// a temp-file-plus-rename so readers never observe a half-written file.
package atomicfs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/advising-platform/doccache/internal/pathkey"
	"github.com/advising-platform/doccache/pkg/fs"
)

// Error kinds surfaced to callers, per the core's error-handling design.
var (
	ErrNotFound  = errors.New("not found")
	ErrCorrupted = errors.New("corrupted")
	ErrIOError   = errors.New("io error")
)

const dirPerms = 0o750

// CacheUpdater is the capability a Document Cache exposes to receive
// notice of a successful mutation. Ops calls it as soon as each mutation
// succeeds, including mutations made by an internal/txn transaction's
// file ops: those are reported before the transaction commits, not held
// back until commit.
type CacheUpdater interface {
	ScheduleUpdate(key pathkey.Key)
	ScheduleInvalidate(key pathkey.Key)
}

// noopUpdater drops every scheduled update. Used when no cache is wired.
type noopUpdater struct{}

func (noopUpdater) ScheduleUpdate(pathkey.Key)     {}
func (noopUpdater) ScheduleInvalidate(pathkey.Key) {}

// Ops performs atomic file operations rooted at projectRoot, backed by an
// [fs.FS] so callers needing a cross-process guard (the checkpoint
// protocol's lock file, for example) can resolve a key to the same
// absolute path Ops itself writes to.
type Ops struct {
	fsys        fs.FS
	writer      *fs.AtomicWriter
	projectRoot string
	updater     CacheUpdater
}

// New returns an Ops rooted at projectRoot. If updater is nil, successful
// mutations schedule no cache update (useful for standalone repair tools).
func New(fsys fs.FS, projectRoot string, updater CacheUpdater) *Ops {
	if fsys == nil {
		panic("fsys is nil")
	}

	if updater == nil {
		updater = noopUpdater{}
	}

	return &Ops{
		fsys:        fsys,
		writer:      fs.NewAtomicWriter(fsys),
		projectRoot: projectRoot,
		updater:     updater,
	}
}

// WithUpdater returns a copy of o that schedules updates through updater
// instead. internal/txn does not use it: a transaction runs its file ops
// through the Ops it was given, with that Ops' updater.
func (o *Ops) WithUpdater(updater CacheUpdater) *Ops {
	clone := *o
	clone.updater = updater

	return &clone
}

func (o *Ops) absPath(key pathkey.Key) string {
	return filepath.Join(o.projectRoot, filepath.FromSlash(string(key)))
}

// AbsPath resolves key to the absolute path Ops itself reads and writes,
// for callers (the checkpoint lock, in particular) that need to name the
// same file outside of a Write/ReadFile call.
func (o *Ops) AbsPath(key pathkey.Key) string {
	return o.absPath(key)
}

// Write writes data to key's path atomically, creating parent directories
// as needed.
func (o *Ops) Write(key pathkey.Key, data []byte, perm os.FileMode) error {
	abs := o.absPath(key)

	if err := o.fsys.MkdirAll(filepath.Dir(abs), dirPerms); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", ErrIOError, key, err)
	}

	opts := o.writer.DefaultOptions()
	opts.Perm = perm

	if err := o.writer.Write(abs, bytes.NewReader(data), opts); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrIOError, key, err)
	}

	o.updater.ScheduleUpdate(key)

	return nil
}

// Append appends data to key's existing content (or to empty content if
// the key does not yet exist), rewriting the file atomically.
func (o *Ops) Append(key pathkey.Key, data []byte) error {
	existing, err := o.ReadFile(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	combined := append(append([]byte{}, existing...), data...)

	return o.Write(key, combined, 0o644)
}

// Delete removes key's file. Deleting a missing key is a no-op; the
// caller already got what it wanted (the key absent on disk).
func (o *Ops) Delete(key pathkey.Key) error {
	abs := o.absPath(key)

	err := o.fsys.Remove(abs)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: delete %s: %v", ErrIOError, key, err)
	}

	o.updater.ScheduleInvalidate(key)

	return nil
}

// ReadFile reads key's content. read_file is lock-scoped at the caller
// (Lock Manager) level; it never blocks writers of other files on its
// own.
func (o *Ops) ReadFile(key pathkey.Key) ([]byte, error) {
	data, err := o.fsys.ReadFile(o.absPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}

		return nil, fmt.Errorf("%w: read %s: %v", ErrIOError, key, err)
	}

	return data, nil
}

// ReadJSON reads and unmarshals key's content into v.
func (o *Ops) ReadJSON(key pathkey.Key, v any) error {
	data, err := o.ReadFile(key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupted, key, err)
	}

	return nil
}

// WriteJSON marshals v as pretty, non-ASCII-preserving JSON and writes it
// atomically.
func (o *Ops) WriteJSON(key pathkey.Key, v any) error {
	data, err := marshalIndent(v)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", ErrIOError, key, err)
	}

	return o.Write(key, data, 0o644)
}

// UpdateJSON reads key's current content (or treats it as {} if missing
// and createIfMissing), applies a shallow merge with patch, and writes the
// result atomically. A corrupted existing file is surfaced as
// ErrCorrupted; callers that want create_if_missing semantics over a
// corrupted file should catch that and call Write with a fresh object
// themselves, matching the core's "callers choose to treat it as empty"
// policy.
func (o *Ops) UpdateJSON(key pathkey.Key, patch map[string]any, createIfMissing bool) error {
	current := map[string]any{}

	data, err := o.ReadFile(key)
	switch {
	case err == nil:
		if unmarshalErr := json.Unmarshal(data, &current); unmarshalErr != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupted, key, unmarshalErr)
		}
	case errors.Is(err, ErrNotFound):
		if !createIfMissing {
			return err
		}
	default:
		return err
	}

	for k, v := range patch {
		current[k] = v
	}

	return o.WriteJSON(key, current)
}

func marshalIndent(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}

	return data, nil
}
