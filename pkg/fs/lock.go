package fs

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"syscall"
	"time"
)

// ErrWouldBlock is returned by [Lock.TryLock] and [Lock.TryRLock] when the
// lock is already held by another process.
var ErrWouldBlock = errors.New("lock would block")

// ErrInvalidTimeout is returned when a non-positive timeout is passed to a
// timed lock method.
var ErrInvalidTimeout = errors.New("invalid timeout")

type lockType int

const (
	sharedLock lockType = iota
	exclusiveLock
)

// errInodeMismatch signals that the lock file at path was replaced (deleted
// and recreated, for example by a concurrent rename) while flock was being
// acquired. The caller should reopen the path and retry.
var errInodeMismatch = errors.New("lock file inode mismatch")

// Locker creates advisory, cross-process file locks backed by flock(2).
//
// Locker exists because a single project directory may be touched by more
// than one OS process at once (a long-running cache daemon and a one-shot
// CLI invocation, for example). Locks acquired through a [Locker] are only
// meaningful between processes that use the same lock file path; they are
// not a substitute for in-process synchronization.
type Locker struct {
	fs    FS
	flock func(fd int, how int) error
}

// NewLocker returns a Locker that creates lock files through fsys.
func NewLocker(fsys FS) *Locker {
	if fsys == nil {
		panic("fsys is nil")
	}

	return &Locker{fs: fsys, flock: syscall.Flock}
}

// Lock is a held advisory lock on a path. The zero value is not usable;
// obtain one from [Locker.Lock], [Locker.RLock], or their timed/try variants.
type Lock struct {
	path  string
	file  File
	flock func(fd int, how int) error
	mu    lockClosed
}

type lockClosed struct {
	closed bool
}

// Close releases the lock. Close is idempotent; calling it more than once
// is a no-op after the first call.
func (l *Lock) Close() error {
	if l == nil || l.mu.closed {
		return nil
	}

	l.mu.closed = true

	unlockErr := l.flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()

	if unlockErr != nil {
		return fmt.Errorf("unlock %q: %w", l.path, unlockErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close lock file %q: %w", l.path, closeErr)
	}

	return nil
}

// Lock blocks until an exclusive lock on path is acquired.
func (lk *Locker) Lock(path string) (*Lock, error) {
	return lk.lockBlocking(path, exclusiveLock)
}

// RLock blocks until a shared lock on path is acquired.
func (lk *Locker) RLock(path string) (*Lock, error) {
	return lk.lockBlocking(path, sharedLock)
}

// LockWithTimeout attempts to acquire an exclusive lock on path, giving up
// and returning [ErrWouldBlock] if timeout elapses first.
func (lk *Locker) LockWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	return lk.lockPolling(path, exclusiveLock, timeout)
}

// RLockWithTimeout attempts to acquire a shared lock on path, giving up and
// returning [ErrWouldBlock] if timeout elapses first.
func (lk *Locker) RLockWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	return lk.lockPolling(path, sharedLock, timeout)
}

// TryLock attempts to acquire an exclusive lock on path without blocking.
// Returns [ErrWouldBlock] if the lock is already held.
func (lk *Locker) TryLock(path string) (*Lock, error) {
	return lk.acquireOnce(path, exclusiveLock, true)
}

// TryRLock attempts to acquire a shared lock on path without blocking.
// Returns [ErrWouldBlock] if the lock is already held exclusively.
func (lk *Locker) TryRLock(path string) (*Lock, error) {
	return lk.acquireOnce(path, sharedLock, true)
}

func (lk *Locker) lockBlocking(path string, lt lockType) (*Lock, error) {
	for {
		l, err := lk.acquireOnce(path, lt, false)
		if err == nil {
			return l, nil
		}

		if errors.Is(err, errInodeMismatch) {
			continue
		}

		return nil, err
	}
}

func (lk *Locker) lockPolling(path string, lt lockType, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}

	deadline := time.Now().Add(timeout)
	backoff := time.Millisecond

	const maxBackoff = 25 * time.Millisecond

	for {
		l, err := lk.acquireOnce(path, lt, true)
		if err == nil {
			return l, nil
		}

		if errors.Is(err, errInodeMismatch) {
			continue
		}

		if !errors.Is(err, ErrWouldBlock) {
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: timed out acquiring lock on %q", ErrWouldBlock, path)
		}

		time.Sleep(backoff + time.Duration(rand.IntN(1000))*time.Microsecond)

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (lk *Locker) acquireOnce(path string, lt lockType, nonblocking bool) (*Lock, error) {
	flag := os.O_CREATE | os.O_RDWR

	file, err := lk.fs.OpenFile(path, flag, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open lock file %q: %w", path, err)
	}

	how := openFlockOp(lt, nonblocking)

	flockErr := flockRetryEINTR(int(file.Fd()), how)
	if flockErr != nil {
		_ = file.Close()

		if isWouldBlock(flockErr) {
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("flock %q: %w", path, flockErr)
	}

	matched, statErr := inodeMatchesPath(lk.fs, path, file)
	if statErr != nil {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()

		return nil, fmt.Errorf("stat lock file %q: %w", path, statErr)
	}

	if !matched {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()

		return nil, errInodeMismatch
	}

	return &Lock{path: path, file: file, flock: syscall.Flock}, nil
}

func openFlockOp(lt lockType, nonblocking bool) int {
	op := syscall.LOCK_SH
	if lt == exclusiveLock {
		op = syscall.LOCK_EX
	}

	if nonblocking {
		op |= syscall.LOCK_NB
	}

	return op
}

// flockRetryEINTR retries flock(2) on EINTR, which can occur spuriously
// when the calling goroutine's thread receives a signal while blocked.
func flockRetryEINTR(fd int, how int) error {
	const maxRetries = 10000

	for range maxRetries {
		err := syscall.Flock(fd, how)
		if !errors.Is(err, syscall.EINTR) {
			return err
		}
	}

	return fmt.Errorf("flock: exceeded %d EINTR retries", maxRetries)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN)
}

// inodeMatchesPath reports whether the still-open file handle refers to the
// same inode as the file currently at path. A mismatch means the lock file
// was deleted and recreated by another process between open and flock, a
// narrow but real race for any lock implementation built on path-based
// open+flock rather than flock on a pre-opened, never-renamed descriptor.
func inodeMatchesPath(fsys FS, path string, file File) (bool, error) {
	openInfo, err := file.Stat()
	if err != nil {
		return false, err
	}

	pathInfo, err := fsys.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	return os.SameFile(openInfo, pathInfo), nil
}
