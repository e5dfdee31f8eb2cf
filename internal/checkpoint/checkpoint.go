// Package checkpoint implements the cleanup-handler registry and the
// quiescence protocol that prepares the cache for an external checkpoint
// and restores it afterward.
package checkpoint

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/advising-platform/doccache/internal/atomicfs"
	"github.com/advising-platform/doccache/internal/doccache"
	"github.com/advising-platform/doccache/internal/pathkey"
	"github.com/advising-platform/doccache/internal/syncverify"
	"github.com/advising-platform/doccache/pkg/fs"
)

// ErrCheckpointAborted is returned when a quiescence prerequisite fails;
// the returned Report's Reason names the failed step. No separate
// diagnostic report file is written.
var ErrCheckpointAborted = errors.New("checkpoint aborted")

// settleSleep is the pause between the first and second GC pass in
// PrepareForCheckpoint, giving the OS a chance to reclaim memory and file
// descriptors from just-closed cache entries before the external
// checkpoint snapshots the process.
const settleSleep = 1500 * time.Millisecond

// lockTimeout bounds how long Backup, Cleanup, PrepareForCheckpoint, and
// RestoreAfterCheckpoint wait for another process already holding the
// checkpoint lock before giving up.
const lockTimeout = 10 * time.Second

// CleanupHandler is a parameterless callback registered to drain an
// external collaborator's observers (filesystem watchers, open
// descriptors) before quiescence.
type CleanupHandler func() error

// Registry is a process-wide ordered list of cleanup handlers.
type Registry struct {
	mu       sync.Mutex
	handlers []CleanupHandler
	warn     func(format string, args ...any)
}

// NewRegistry returns an empty Registry. warn may be nil.
func NewRegistry(warn func(format string, args ...any)) *Registry {
	if warn == nil {
		warn = func(string, ...any) {}
	}

	return &Registry{warn: warn}
}

// Register appends h to the registry.
func (r *Registry) Register(h CleanupHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = append(r.handlers, h)
}

// HandlerResult records one handler's outcome for the cleanup report.
type HandlerResult struct {
	Index int
	Err   error
}

// RunAll calls every registered handler in order. A handler's failure is
// caught and logged; the protocol is best-effort and continues to the
// next handler.
func (r *Registry) RunAll() []HandlerResult {
	r.mu.Lock()
	handlers := append([]CleanupHandler(nil), r.handlers...)
	r.mu.Unlock()

	results := make([]HandlerResult, 0, len(handlers))

	for i, h := range handlers {
		err := runCatching(h)
		if err != nil {
			r.warn("checkpoint: cleanup handler %d failed: %v", i, err)
		}

		results = append(results, HandlerResult{Index: i, Err: err})
	}

	return results
}

func runCatching(h CleanupHandler) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("cleanup handler panicked: %v", rec)
		}
	}()

	return h()
}

// Metadata is the checkpoint_metadata.json record written at the start of
// PrepareForCheckpoint.
type Metadata struct {
	Timestamp        time.Time `json:"timestamp"`
	CheckpointVersion int      `json:"checkpoint_version"`
	ModuleVersion    string    `json:"module_version"`
}

const checkpointVersion = 2

// moduleVersion is reported in checkpoint metadata for diagnostics.
const moduleVersion = "doccache/1"

// BackupEntry is one document's full content plus metadata, as stored in
// the checkpoint backup (content-bearing, unlike DetailedSnapshot).
type BackupEntry struct {
	Content      []byte
	LastModified time.Time
	LastAccessed time.Time
	AccessCount  int64
	Priority     int
	Category     string
}

// Backup is the gob-encoded mapping written to
// checkpoint_backup/cache_backup.bin.
type Backup map[string]BackupEntry

// Report is the outcome written to cleanup_report.json or
// recovery_report.json.
type Report struct {
	Success  bool             `json:"success"`
	Reason   string           `json:"reason,omitempty"`
	Handlers []HandlerResult  `json:"-"`
	At       time.Time        `json:"at"`
}

// Paths names the on-disk locations the protocol reads and writes, all
// project-root relative.
type Paths struct {
	StatePath            pathkey.Key
	DetailedStatePath    pathkey.Key
	BackupDir            pathkey.Key // e.g. "checkpoint_backup"
	MetadataPath         pathkey.Key
	CleanupReportPath    pathkey.Key
	RecoveryReportPath   pathkey.Key
}

func (p Paths) cacheBackupPath() pathkey.Key {
	return pathkey.Key(string(p.BackupDir) + "/cache_backup.bin")
}

func (p Paths) stateBackupPath() pathkey.Key {
	return pathkey.Key(string(p.BackupDir) + "/state_backup.json")
}

// lockPath is the sibling of StatePath used as the flock(2) target guarding
// checkpoint operations across processes.
func (p Paths) lockPath() pathkey.Key {
	return pathkey.Key(string(p.StatePath) + ".lock")
}

// Coordinator drives the quiescence protocol against one cache and one
// atomicfs.Ops.
type Coordinator struct {
	cache    *doccache.Cache
	ops      *atomicfs.Ops
	registry *Registry
	paths    Paths
	locker   *fs.Locker
}

// New returns a Coordinator wiring cache, ops, registry, and locker
// together. locker may be nil, in which case Coordinator methods perform no
// cross-process locking (useful for single-process tests and tools that
// already serialize access some other way).
func New(cache *doccache.Cache, ops *atomicfs.Ops, registry *Registry, paths Paths, locker *fs.Locker) *Coordinator {
	return &Coordinator{cache: cache, ops: ops, registry: registry, paths: paths, locker: locker}
}

// lock acquires the cross-process checkpoint guard, timing out after
// lockTimeout. A nil locker means no guard is configured; the zero *fs.Lock
// it returns is safe to Close unconditionally.
func (c *Coordinator) lock() (*fs.Lock, error) {
	if c.locker == nil {
		return nil, nil
	}

	return c.locker.LockWithTimeout(c.ops.AbsPath(c.paths.lockPath()), lockTimeout)
}

// Backup writes checkpoint metadata and snapshots entries to the backup
// files (content-bearing Backup, StateSnapshot, and DetailedSnapshot)
// without running cleanup handlers or clearing the cache. It is the
// "checkpoint backup" operation: content is made durable while the cache
// stays live and serving.
func (c *Coordinator) Backup(entries []*doccache.Entry) (Report, error) {
	lock, err := c.lock()
	if err != nil {
		return Report{Success: false, Reason: err.Error(), At: time.Now()}, fmt.Errorf("acquire checkpoint lock: %w", err)
	}
	defer lock.Close()

	return c.backupLocked(entries)
}

func (c *Coordinator) backupLocked(entries []*doccache.Entry) (Report, error) {
	meta := Metadata{Timestamp: time.Now(), CheckpointVersion: checkpointVersion, ModuleVersion: moduleVersion}
	if err := c.ops.WriteJSON(c.paths.MetadataPath, meta); err != nil {
		return Report{Success: false, Reason: err.Error(), At: time.Now()}, fmt.Errorf("%w: write metadata: %v", ErrCheckpointAborted, err)
	}

	if err := c.snapshotCache(entries); err != nil {
		report := Report{Success: false, Reason: err.Error(), At: time.Now()}

		return report, fmt.Errorf("%w: snapshot cache: %v", ErrCheckpointAborted, err)
	}

	return Report{Success: true, At: time.Now()}, nil
}

// Cleanup runs every registered cleanup handler without touching the cache
// or backup files. It is the "checkpoint cleanup" operation, useful for
// draining external collaborators (filesystem watchers, open descriptors)
// on its own schedule, independent of a backup or quiescence pass.
func (c *Coordinator) Cleanup() (Report, error) {
	lock, err := c.lock()
	if err != nil {
		return Report{Success: false, Reason: err.Error(), At: time.Now()}, fmt.Errorf("acquire checkpoint lock: %w", err)
	}
	defer lock.Close()

	results := c.registry.RunAll()

	report := Report{Success: true, Handlers: results, At: time.Now()}
	if err := c.ops.WriteJSON(c.paths.CleanupReportPath, report); err != nil {
		return report, fmt.Errorf("write cleanup report: %w", err)
	}

	return report, nil
}

// PrepareForCheckpoint runs the full quiescence protocol: it backs up the
// cache (as Backup does), runs cleanup handlers (as Cleanup does), then
// clears the cache and forces two GC passes so an external checkpoint tool
// can snapshot the process with nothing held live that was already
// persisted. If the backup step fails, the protocol aborts without
// touching the cleanup registry and returns ErrCheckpointAborted.
func (c *Coordinator) PrepareForCheckpoint(entries []*doccache.Entry) (Report, error) {
	lock, err := c.lock()
	if err != nil {
		return Report{Success: false, Reason: err.Error(), At: time.Now()}, fmt.Errorf("acquire checkpoint lock: %w", err)
	}
	defer lock.Close()

	if report, err := c.backupLocked(entries); err != nil {
		return report, err
	}

	results := c.registry.RunAll()

	c.cache.Clear()
	runtime.GC()

	time.Sleep(settleSleep)
	runtime.GC()

	report := Report{Success: true, Handlers: results, At: time.Now()}
	if err := c.ops.WriteJSON(c.paths.CleanupReportPath, report); err != nil {
		return report, fmt.Errorf("write cleanup report: %w", err)
	}

	return report, nil
}

func (c *Coordinator) snapshotCache(entries []*doccache.Entry) error {
	backup := make(Backup, len(entries))
	detailed := make(syncverify.DetailedSnapshot, len(entries))

	var total int64

	files := make(map[string]syncverify.FileRecord, len(entries))

	for _, e := range entries {
		backup[string(e.Key)] = BackupEntry{
			Content:      e.Content,
			LastModified: e.LastModified,
			LastAccessed: e.LastAccessed,
			AccessCount:  e.AccessCount,
			Priority:     e.Priority,
			Category:     string(e.Category),
		}

		detailed[string(e.Key)] = syncverify.DetailedEntry{
			LastAccessed: e.LastAccessed,
			LastModified: e.LastModified,
			AccessCount:  e.AccessCount,
			Size:         int64(e.Size),
			Category:     string(e.Category),
		}

		total += int64(e.Size)
		files[string(e.Key)] = syncverify.FileRecord{
			Size:         int64(e.Size),
			LastModified: e.LastModified,
			ContentHash:  e.ContentHash,
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(backup); err != nil {
		return fmt.Errorf("encode cache backup: %w", err)
	}

	if err := c.ops.Write(c.paths.cacheBackupPath(), buf.Bytes(), 0o644); err != nil {
		return err
	}

	detailedData, err := syncverify.EncodeDetailed(detailed)
	if err != nil {
		return err
	}

	if err := c.ops.Write(c.paths.DetailedStatePath, detailedData, 0o644); err != nil {
		return err
	}

	state := syncverify.StateSnapshot{
		CacheSize:     total,
		DocumentCount: len(entries),
		IsInitialized: true,
		Files:         files,
	}

	if err := c.ops.WriteJSON(c.paths.stateBackupPath(), state); err != nil {
		return err
	}

	return nil
}

// RestoreAfterCheckpoint prefers the backup files; if they are missing, it
// falls back to the live StateSnapshot, re-reading content directly from
// disk for each recorded key. When a DetailedSnapshot is also available at
// Paths.DetailedStatePath, its per-key LastAccessed/AccessCount/Category
// are used to reconstruct entry metadata beyond what a raw re-read can
// recover; otherwise the entry is installed with only the StateSnapshot's
// LastModified. If neither backup nor live state exists, it reports
// failure and leaves the cache empty.
func (c *Coordinator) RestoreAfterCheckpoint(liveStatePath pathkey.Key) (Report, error) {
	lock, err := c.lock()
	if err != nil {
		return Report{Success: false, Reason: err.Error(), At: time.Now()}, fmt.Errorf("acquire checkpoint lock: %w", err)
	}
	defer lock.Close()

	backup, backupErr := c.readBackup()
	if backupErr == nil {
		for key, be := range backup {
			c.cache.RestoreEntry(pathkey.Key(key), be.Content, be.LastModified, be.LastAccessed, be.AccessCount, be.Priority, doccache.Category(be.Category))
		}

		report := Report{Success: true, At: time.Now()}
		_ = c.ops.WriteJSON(c.paths.RecoveryReportPath, report)

		return report, nil
	}

	var state syncverify.StateSnapshot

	liveErr := c.ops.ReadJSON(liveStatePath, &state)
	if liveErr != nil {
		report := Report{Success: false, Reason: "no backup and no live state", At: time.Now()}
		_ = c.ops.WriteJSON(c.paths.RecoveryReportPath, report)

		return report, fmt.Errorf("restore: no backup (%v) and no live state (%v)", backupErr, liveErr)
	}

	detailed, detailedErr := c.readDetailed()

	for rel := range state.Files {
		content, err := c.ops.ReadFile(pathkey.Key(rel))
		if err != nil {
			continue // best-effort restore; the read error is not reported
		}

		if de, ok := detailed[rel]; detailedErr == nil && ok {
			c.cache.RestoreEntry(pathkey.Key(rel), content, de.LastModified, de.LastAccessed, de.AccessCount, 0, doccache.Category(de.Category))

			continue
		}

		c.cache.Put(pathkey.Key(rel), content, state.Files[rel].LastModified)
	}

	report := Report{Success: true, At: time.Now()}
	_ = c.ops.WriteJSON(c.paths.RecoveryReportPath, report)

	return report, nil
}

func (c *Coordinator) readBackup() (Backup, error) {
	data, err := c.ops.ReadFile(c.paths.cacheBackupPath())
	if err != nil {
		return nil, err
	}

	var backup Backup
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&backup); err != nil {
		return nil, fmt.Errorf("decode cache backup: %w", err)
	}

	return backup, nil
}

func (c *Coordinator) readDetailed() (syncverify.DetailedSnapshot, error) {
	data, err := c.ops.ReadFile(c.paths.DetailedStatePath)
	if err != nil {
		return nil, err
	}

	return syncverify.DecodeDetailed(data)
}
