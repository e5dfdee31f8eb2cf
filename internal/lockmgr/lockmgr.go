// Package lockmgr provides per-file reentrant locks with timeout, plus one
// reentrant cache-wide lock, with ownership diagnostics for observability.
//
// Go has no native per-thread storage to detect reentrancy the way the
// source language's thread-local owner tracking does. Instead, reentrancy
// is tracked along the call chain: acquiring a lock returns a
// [context.Context] carrying the set of keys already held by that chain.
// Callers that need the common "a handler invoked inside a transaction
// calls back into a locked operation" pattern must thread that context
// through, exactly as they would thread a cancellation context.
package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/advising-platform/doccache/internal/pathkey"
)

// ErrLockTimeout is returned when a lock could not be acquired within the
// caller's deadline.
var ErrLockTimeout = errors.New("lock timeout")

// cacheLockKey is the sentinel key identifying the single cache-wide lock
// in the manager's lock table and in ownership diagnostics.
const cacheLockKey = pathkey.Key("\x00cache-lock")

type heldSetKey struct{}

// heldSet maps a held key to the depth of reentrant acquisition recorded
// on this particular context chain.
type heldSet map[pathkey.Key]int

func heldFrom(ctx context.Context) heldSet {
	if ctx == nil {
		return nil
	}

	if hs, ok := ctx.Value(heldSetKey{}).(heldSet); ok {
		return hs
	}

	return nil
}

func withHeld(ctx context.Context, key pathkey.Key) context.Context {
	prev := heldFrom(ctx)
	next := make(heldSet, len(prev)+1)

	for k, v := range prev {
		next[k] = v
	}

	next[key]++

	return context.WithValue(ctx, heldSetKey{}, next)
}

// owner records diagnostic information about who holds a lock.
type owner struct {
	acquiredAt time.Time
	callSite   string
}

type keyLock struct {
	sem   chan struct{}
	mu    sync.Mutex
	owner owner
}

func newKeyLock() *keyLock {
	kl := &keyLock{sem: make(chan struct{}, 1)}
	kl.sem <- struct{}{}

	return kl
}

// Handle is a held or reentrant-noop lock. Call [Handle.Release] exactly
// once when the caller is done with the lock.
type Handle struct {
	release func()
}

// Release releases the lock if this handle actually acquired it, or is a
// no-op if the handle represents a reentrant hold.
func (h Handle) Release() {
	if h.release != nil {
		h.release()
	}
}

// Manager owns the per-key lock table and the cache-wide lock. The zero
// value is not usable; use [New].
type Manager struct {
	mu    sync.Mutex
	locks map[pathkey.Key]*keyLock
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{locks: make(map[pathkey.Key]*keyLock)}
}

func (m *Manager) lockFor(key pathkey.Key) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	kl, ok := m.locks[key]
	if !ok {
		kl = newKeyLock()
		m.locks[key] = kl
	}

	return kl
}

// FileLock acquires a reentrant lock on key, blocking up to timeout
// (timeout <= 0 means unbounded). If ctx already carries a hold on key
// (acquired earlier in the same call chain), the lock is granted
// immediately without blocking, per the cross-call reentrancy requirement.
//
// The returned context must be passed to any nested call that itself
// acquires a lock, so that reentrancy is visible to it.
func (m *Manager) FileLock(ctx context.Context, key pathkey.Key, timeout time.Duration) (context.Context, Handle, error) {
	return m.acquire(ctx, key, timeout)
}

// CacheLock acquires the single reentrant lock guarding the CacheEntry
// table and the StateSnapshot updater. Acquisition is unbounded.
func (m *Manager) CacheLock(ctx context.Context) (context.Context, Handle) {
	newCtx, h, err := m.acquire(ctx, cacheLockKey, 0)
	if err != nil {
		// Unbounded acquisition (timeout<=0) never returns ErrLockTimeout.
		panic(fmt.Sprintf("lockmgr: unbounded cache lock acquisition failed: %v", err))
	}

	return newCtx, h
}

func (m *Manager) acquire(ctx context.Context, key pathkey.Key, timeout time.Duration) (context.Context, Handle, error) {
	if heldFrom(ctx)[key] > 0 {
		return withHeld(ctx, key), Handle{}, nil
	}

	kl := m.lockFor(key)

	if timeout <= 0 {
		<-kl.sem
	} else {
		select {
		case <-kl.sem:
		case <-time.After(timeout):
			return ctx, Handle{}, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
	}

	kl.mu.Lock()
	kl.owner = owner{acquiredAt: time.Now(), callSite: callSite(3)}
	kl.mu.Unlock()

	var released bool

	release := func() {
		kl.mu.Lock()

		if released {
			kl.mu.Unlock()

			return
		}

		released = true
		kl.owner = owner{}
		kl.mu.Unlock()
		kl.sem <- struct{}{}
	}

	return withHeld(ctx, key), Handle{release: release}, nil
}

func callSite(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}

	return fmt.Sprintf("%s:%d", file, line)
}

// SortKeys returns keys sorted in canonical-key order, the order the
// Transaction Orchestrator must acquire locks in to preclude cycles.
func SortKeys(keys []pathkey.Key) []pathkey.Key {
	sorted := make([]pathkey.Key, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return sorted
}

// OwnerInfo is a snapshot of one held lock's diagnostics.
type OwnerInfo struct {
	Key         string
	AcquiredAt  time.Time
	HeldFor     time.Duration
	AcquireSite string
}

// Statistics is an observability snapshot of the lock table.
type Statistics struct {
	Total  int
	Active int
	Owners []OwnerInfo
}

// Statistics reports the current lock table size and active holders.
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	keys := make([]pathkey.Key, 0, len(m.locks))

	for k := range m.locks {
		keys = append(keys, k)
	}

	m.mu.Unlock()

	stats := Statistics{Total: len(keys)}

	for _, k := range keys {
		kl := m.lockFor(k)

		kl.mu.Lock()
		o := kl.owner
		kl.mu.Unlock()

		if o.acquiredAt.IsZero() {
			continue
		}

		stats.Active++
		stats.Owners = append(stats.Owners, OwnerInfo{
			Key:         string(k),
			AcquiredAt:  o.acquiredAt,
			HeldFor:     time.Since(o.acquiredAt),
			AcquireSite: o.callSite,
		})
	}

	return stats
}

// CleanupLocks discards the entire lock table. It is only safe to call
// when no transactions are in flight; the caller is responsible for that
// invariant (the manager has no visibility into in-flight transactions).
func (m *Manager) CleanupLocks() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.locks = make(map[pathkey.Key]*keyLock)
}
