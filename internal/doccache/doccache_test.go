package doccache_test

import (
	"errors"
	"testing"
	"time"

	"github.com/advising-platform/doccache/internal/doccache"
	"github.com/advising-platform/doccache/internal/pathkey"
	"github.com/advising-platform/doccache/internal/testutil"
)

func TestCache_LoadThenGetUpdatesAccessCounters(t *testing.T) {
	t.Parallel()

	c := doccache.New(doccache.Options{MaxCacheSize: 10})

	read := func(key pathkey.Key) ([]byte, time.Time, error) {
		return []byte("hello"), time.Now(), nil
	}

	_, err := c.Load("notes/a.md", read)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	e, ok := c.Get("notes/a.md")
	if !ok {
		t.Fatalf("Get miss after Load")
	}

	if e.Size != 5 || e.AccessCount != 1 {
		t.Fatalf("Get = %+v", e)
	}

	stats := c.Statistics()
	if stats.DocumentCount != 1 {
		t.Fatalf("Statistics().DocumentCount = %d, want 1", stats.DocumentCount)
	}
}

func TestCache_GetMissDoesNotFault(t *testing.T) {
	t.Parallel()

	c := doccache.New(doccache.Options{MaxCacheSize: 10})

	_, ok := c.Get("never-loaded.md")
	if ok {
		t.Fatalf("Get on unloaded key should miss")
	}
}

func TestCache_LoadErrorPropagates(t *testing.T) {
	t.Parallel()

	c := doccache.New(doccache.Options{MaxCacheSize: 10})

	wantErr := errors.New("boom")
	read := func(key pathkey.Key) ([]byte, time.Time, error) {
		return nil, time.Time{}, wantErr
	}

	_, err := c.Load("x.md", read)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Load error = %v, want %v", err, wantErr)
	}
}

func TestCache_EvictionByPriorityThenLRU(t *testing.T) {
	t.Parallel()

	c := doccache.New(doccache.Options{MaxCacheSize: 2})
	clock := testutil.NewClock()

	nextTime := func(t *testing.T) time.Time {
		t.Helper()

		ts, err := time.Parse(time.RFC3339, clock.NextTimestamp())
		if err != nil {
			t.Fatalf("parse clock timestamp: %v", err)
		}

		return ts
	}

	read := func(content string) doccache.LoadFunc {
		ts := nextTime(t)

		return func(key pathkey.Key) ([]byte, time.Time, error) {
			return []byte(content), ts, nil
		}
	}

	if _, err := c.Load("a.md", read("a")); err != nil {
		t.Fatalf("Load a: %v", err)
	}

	if _, err := c.Load("b.md", read("b")); err != nil {
		t.Fatalf("Load b: %v", err)
	}

	c.SetPriority("b.md", 1)

	// Touch a so it is more recently accessed than it was.
	c.Get("a.md")

	if _, err := c.Load("c.md", read("c")); err != nil {
		t.Fatalf("Load c: %v", err)
	}

	stats := c.Statistics()
	if stats.DocumentCount != 2 {
		t.Fatalf("DocumentCount = %d, want 2", stats.DocumentCount)
	}

	if _, ok := c.Get("b.md"); !ok {
		t.Fatalf("b.md (higher priority) should have survived eviction")
	}
}

func TestCache_InvalidateAndClear(t *testing.T) {
	t.Parallel()

	c := doccache.New(doccache.Options{MaxCacheSize: 10})

	c.Put("a.md", []byte("x"), time.Now())
	c.Put("b.md", []byte("y"), time.Now())

	if !c.Invalidate("a.md") {
		t.Fatalf("Invalidate a.md should report removal")
	}

	if c.Invalidate("a.md") {
		t.Fatalf("Invalidate a.md twice should report no removal the second time")
	}

	if n := c.Clear(); n != 1 {
		t.Fatalf("Clear = %d, want 1", n)
	}
}

func TestCache_SearchRanksByOverlap(t *testing.T) {
	t.Parallel()

	c := doccache.New(doccache.Options{MaxCacheSize: 10})

	c.Put("notes/alpha.md", []byte("deploy the service to staging"), time.Now())
	c.Put("notes/beta.md", []byte("unrelated content about cats"), time.Now())

	results := c.Search("deploy staging")
	if len(results) == 0 || results[0].Key != "notes/alpha.md" {
		t.Fatalf("Search = %+v, want alpha.md first", results)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		key  pathkey.Key
		want doccache.Category
	}{
		{"standards/registry standard.md", doccache.CategoryStandard},
		{"todo_backend.md", doccache.CategoryTaskList},
		{"logs/incidents_2024.md", doccache.CategoryIncidentList},
		{"projects/foo/context.md", doccache.CategoryProjectContext},
		{"projects/foo/next_actions.md", doccache.CategoryNextActions},
		{"random/file.md", doccache.CategoryUnknown},
	}

	for _, tc := range cases {
		got := doccache.Classify(tc.key, "standards")
		if got != tc.want {
			t.Errorf("Classify(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestCache_HashSkippedAboveMaxBytes(t *testing.T) {
	t.Parallel()

	c := doccache.New(doccache.Options{MaxCacheSize: 10})

	small := make([]byte, doccache.HashMaxBytes)
	big := make([]byte, doccache.HashMaxBytes+1)

	e := c.Put("small.bin", small, time.Now())
	if e.ContentHash == nil {
		t.Fatalf("entry at exactly HashMaxBytes should have a hash")
	}

	e = c.Put("big.bin", big, time.Now())
	if e.ContentHash != nil {
		t.Fatalf("entry above HashMaxBytes should not have a hash")
	}
}

func TestCache_PutSeedsPriorityFromFrontmatter(t *testing.T) {
	t.Parallel()

	c := doccache.New(doccache.Options{MaxCacheSize: 10})

	withPriority := []byte("---\npriority: 7\n---\n# Title\nBody\n")

	e := c.Put("todo/a.md", withPriority, time.Now())
	if e.Priority != 7 {
		t.Fatalf("Priority = %d, want 7 from frontmatter", e.Priority)
	}

	plain := c.Put("todo/b.md", []byte("no frontmatter here"), time.Now())
	if plain.Priority != 0 {
		t.Fatalf("Priority = %d, want 0 for content without frontmatter", plain.Priority)
	}

	// Re-putting an existing key keeps its current priority rather than
	// re-deriving it, so a manual SetPriority or a prior load isn't clobbered
	// by an update whose frontmatter carries a different priority.
	c.SetPriority("todo/a.md", 9)

	updated := c.Put("todo/a.md", []byte("---\npriority: 1\n---\nnew body\n"), time.Now())
	if updated.Priority != 9 {
		t.Fatalf("Priority = %d, want 9 (existing priority preserved)", updated.Priority)
	}
}
