// Package txn composes a set of file mutations and cache updates into one
// transaction with ordered lock acquisition and deferred cache
// publication on commit.
package txn

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/advising-platform/doccache/internal/atomicfs"
	"github.com/advising-platform/doccache/internal/doccache"
	"github.com/advising-platform/doccache/internal/lockmgr"
	"github.com/advising-platform/doccache/internal/pathkey"
)

// FileOpKind distinguishes the file mutation variants a transaction can
// enqueue.
type FileOpKind int

// The FileOp variants.
const (
	OpWrite FileOpKind = iota
	OpAppend
	OpDelete
	OpUpdateJSON
)

// FileOp is one enqueued file mutation.
type FileOp struct {
	Kind            FileOpKind
	Key             pathkey.Key
	Data            []byte
	Perm            os.FileMode
	Patch           map[string]any
	CreateIfMissing bool
}

// CacheOp is a deferred cache publication action, run under the cache
// lock only after every file op has succeeded.
type CacheOp func(cache *doccache.Cache)

// Transaction is constructed with the set of files it needs to lock and a
// flag requesting cache publication; callers enqueue ops, then call
// Execute.
type Transaction struct {
	locks   *lockmgr.Manager
	ops     *atomicfs.Ops
	cache   *doccache.Cache
	read    doccache.LoadFunc
	timeout time.Duration

	filesToLock []pathkey.Key
	updateCache bool

	fileOps  []FileOp
	cacheOps []CacheOp

	committed  bool
	cancelled  bool
}

// New returns a pending Transaction over filesToLock. timeout bounds each
// file-lock acquisition; updateCache requests that the cache lock be
// acquired and cache ops published on commit.
func New(locks *lockmgr.Manager, ops *atomicfs.Ops, cache *doccache.Cache, read doccache.LoadFunc, filesToLock []pathkey.Key, updateCache bool, timeout time.Duration) *Transaction {
	return &Transaction{
		locks:       locks,
		ops:         ops,
		cache:       cache,
		read:        read,
		timeout:     timeout,
		filesToLock: filesToLock,
		updateCache: updateCache,
	}
}

// AddFileOp enqueues a file mutation, run in enqueue order during Execute.
func (t *Transaction) AddFileOp(op FileOp) {
	t.fileOps = append(t.fileOps, op)
}

// AddCacheOp enqueues a deferred cache publication action.
func (t *Transaction) AddCacheOp(op CacheOp) {
	t.cacheOps = append(t.cacheOps, op)
}

// Cancel marks a pending transaction as cancelled. It has no effect once
// Execute has started; there is no mid-flight cancellation.
func (t *Transaction) Cancel() {
	t.cancelled = true
}

// Committed reports whether Execute ran every file op successfully.
func (t *Transaction) Committed() bool { return t.committed }

type acquired struct {
	key    pathkey.Key
	handle lockmgr.Handle
}

// Execute sorts the file set by CanonicalKey, acquires each file lock in
// order (and the cache lock last, if requested), runs every file op, and
// on success publishes cache ops under the cache lock. On any failure the
// already-applied file ops are not rolled back; locks are released and
// cache ops are not published.
func (t *Transaction) Execute(ctx context.Context) error {
	if t.cancelled {
		return nil
	}

	sorted := lockmgr.SortKeys(t.filesToLock)

	var held []acquired

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].handle.Release()
		}
	}

	for _, key := range sorted {
		newCtx, h, err := t.locks.FileLock(ctx, key, t.timeout)
		if err != nil {
			release()

			return fmt.Errorf("acquire lock for %s: %w", key, err)
		}

		ctx = newCtx
		held = append(held, acquired{key: key, handle: h})
	}

	var cacheHandle lockmgr.Handle

	if t.updateCache {
		newCtx, h := t.locks.CacheLock(ctx)
		ctx = newCtx
		cacheHandle = h

		defer cacheHandle.Release()
	}

	defer release()

	for _, op := range t.fileOps {
		if err := t.applyFileOp(op); err != nil {
			return fmt.Errorf("file op on %s: %w", op.Key, err)
		}
	}

	t.committed = true

	if t.updateCache {
		for _, op := range t.cacheOps {
			runCacheOpCatching(op, t.cache)
		}
	}

	return nil
}

func runCacheOpCatching(op CacheOp, cache *doccache.Cache) {
	defer func() {
		// A cache-op failure is logged and does not reverse file effects.
		if rec := recover(); rec != nil {
			log.Printf("txn: cache op failed: %v", rec)
		}
	}()

	op(cache)
}

func (t *Transaction) applyFileOp(op FileOp) error {
	switch op.Kind {
	case OpWrite:
		return t.ops.Write(op.Key, op.Data, permOrDefault(op.Perm))
	case OpAppend:
		return t.ops.Append(op.Key, op.Data)
	case OpDelete:
		return t.ops.Delete(op.Key)
	case OpUpdateJSON:
		return t.ops.UpdateJSON(op.Key, op.Patch, op.CreateIfMissing)
	default:
		return fmt.Errorf("unknown file op kind %d", op.Kind)
	}
}

func permOrDefault(perm os.FileMode) os.FileMode {
	if perm == 0 {
		return 0o644
	}

	return perm
}

// ReloadCacheOp returns a CacheOp that reloads key from disk via read,
// for use after OpWrite/OpAppend/OpUpdateJSON.
func ReloadCacheOp(key pathkey.Key, read doccache.LoadFunc) CacheOp {
	return func(cache *doccache.Cache) {
		cache.ReloadNow(key, read)
	}
}

// InvalidateCacheOp returns a CacheOp that drops key, for use after
// OpDelete.
func InvalidateCacheOp(key pathkey.Key) CacheOp {
	return func(cache *doccache.Cache) {
		cache.Invalidate(key)
	}
}
