package lockmgr_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/advising-platform/doccache/internal/lockmgr"
	"github.com/advising-platform/doccache/internal/pathkey"
)

func TestManager_FileLockExcludesConcurrentAcquirer(t *testing.T) {
	t.Parallel()

	m := lockmgr.New()

	_, h, err := m.FileLock(context.Background(), "a.md", time.Second)
	if err != nil {
		t.Fatalf("FileLock: %v", err)
	}
	defer h.Release()

	_, _, err = m.FileLock(context.Background(), "a.md", 20*time.Millisecond)
	if !errors.Is(err, lockmgr.ErrLockTimeout) {
		t.Fatalf("second FileLock = %v, want ErrLockTimeout", err)
	}
}

func TestManager_FileLockReentrantWithinCallChain(t *testing.T) {
	t.Parallel()

	m := lockmgr.New()

	ctx, h, err := m.FileLock(context.Background(), "a.md", time.Second)
	if err != nil {
		t.Fatalf("outer FileLock: %v", err)
	}
	defer h.Release()

	// A nested call carrying the same ctx must not block, modeling the
	// "handler invoked inside a transaction calls back" pattern.
	done := make(chan error, 1)

	go func() {
		_, inner, err := m.FileLock(ctx, "a.md", 50*time.Millisecond)
		if err == nil {
			inner.Release()
		}

		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("reentrant FileLock: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reentrant FileLock deadlocked")
	}
}

func TestManager_FileLockReleaseAllowsNextAcquirer(t *testing.T) {
	t.Parallel()

	m := lockmgr.New()

	_, h, err := m.FileLock(context.Background(), "a.md", time.Second)
	if err != nil {
		t.Fatalf("FileLock: %v", err)
	}

	h.Release()
	h.Release() // idempotent

	_, h2, err := m.FileLock(context.Background(), "a.md", time.Second)
	if err != nil {
		t.Fatalf("FileLock after release: %v", err)
	}

	h2.Release()
}

func TestManager_SortKeysIsCanonicalOrder(t *testing.T) {
	t.Parallel()

	keys := []pathkey.Key{"b.md", "a.md", "c.md"}
	sorted := lockmgr.SortKeys(keys)

	want := []pathkey.Key{"a.md", "b.md", "c.md"}
	for i := range want {
		if sorted[i] != want[i] {
			t.Fatalf("SortKeys = %v, want %v", sorted, want)
		}
	}

	// Original slice is untouched.
	if keys[0] != "b.md" {
		t.Fatalf("SortKeys mutated its input")
	}
}

func TestManager_StatisticsReportsActiveHolders(t *testing.T) {
	t.Parallel()

	m := lockmgr.New()

	_, h, err := m.FileLock(context.Background(), "a.md", time.Second)
	if err != nil {
		t.Fatalf("FileLock: %v", err)
	}
	defer h.Release()

	stats := m.Statistics()
	if stats.Active != 1 {
		t.Fatalf("Statistics().Active = %d, want 1", stats.Active)
	}

	if len(stats.Owners) != 1 || stats.Owners[0].Key != "a.md" {
		t.Fatalf("Statistics().Owners = %+v", stats.Owners)
	}
}

func TestManager_CacheLockIsUnboundedAndReentrant(t *testing.T) {
	t.Parallel()

	m := lockmgr.New()

	ctx, h := m.CacheLock(context.Background())
	defer h.Release()

	_, h2 := m.CacheLock(ctx)
	h2.Release()
}
