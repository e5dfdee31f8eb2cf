// Package doccache holds the in-memory mapping from canonical key to
// cache entry: eviction, categorization, search, and statistics. Reads
// take a canonical pathkey.Key; abstract addresses are not resolved here.
package doccache

import (
	"crypto/md5" //nolint:gosec // content fingerprint for drift detection, not security
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/advising-platform/doccache/internal/frontmatter"
	"github.com/advising-platform/doccache/internal/pathkey"
)

// HashMaxBytes is the size above which an entry's content hash is not
// computed or stored.
const HashMaxBytes = 10 * 1024 * 1024

// searchTopK bounds the number of results [Cache.Search] returns.
const searchTopK = 25

// Category classifies a CacheEntry by its key's shape.
type Category string

// The fixed category table. Entries that match nothing classify as
// [CategoryUnknown].
const (
	CategoryStandard         Category = "standard"
	CategoryTaskList         Category = "task_list"
	CategoryIncidentList     Category = "incident_list"
	CategoryProjectContext   Category = "project_context"
	CategoryNextActions      Category = "next_actions"
	CategoryProjectMetadata  Category = "project_metadata"
	CategoryUnknown          Category = "unknown"
)

// Classify derives a key's category from a fixed table of prefix/suffix
// matchers. standardsDir is the project-relative standards directory
// configured for this project (e.g. "standards").
func Classify(key pathkey.Key, standardsDir string) Category {
	s := string(key)
	base := s

	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		base = s[idx+1:]
	}

	switch {
	case standardsDir != "" && strings.HasPrefix(s, standardsDir+"/"):
		return CategoryStandard
	case strings.HasPrefix(base, "todo") && strings.HasSuffix(base, ".md"):
		return CategoryTaskList
	case strings.Contains(s, "incidents") && strings.HasSuffix(base, ".md"):
		return CategoryIncidentList
	case strings.HasPrefix(s, "projects/") && base == "context.md":
		return CategoryProjectContext
	case base == "next_actions.md":
		return CategoryNextActions
	case strings.HasPrefix(s, "\x00metadata:"):
		return CategoryProjectMetadata
	default:
		return CategoryUnknown
	}
}

// Entry is the in-memory record for one document.
type Entry struct {
	Key          pathkey.Key
	Content      []byte
	Size         int
	LastModified time.Time
	LastAccessed time.Time
	AccessCount  int64
	Priority     int
	Category     Category
	ContentHash  []byte // len 16 (md5), nil if Size > HashMaxBytes
}

func newEntry(key pathkey.Key, content []byte, lastModified time.Time, category Category, priority int) *Entry {
	e := &Entry{
		Key:          key,
		Content:      content,
		Size:         len(content),
		LastModified: lastModified,
		LastAccessed: time.Now(),
		Category:     category,
		Priority:     priority,
	}

	if e.Size <= HashMaxBytes {
		sum := md5.Sum(content) //nolint:gosec
		e.ContentHash = sum[:]
	}

	return e
}

// clone returns a shallow copy safe to hand to a caller without exposing
// the cache's internal mutable Entry.
func (e *Entry) clone() *Entry {
	cp := *e
	cp.Content = append([]byte(nil), e.Content...)
	cp.ContentHash = append([]byte(nil), e.ContentHash...)

	return &cp
}

// LoadFunc reads key's current content and filesystem modification time.
// It is the capability contract Load uses to reach the filesystem,
// decoupling the cache from atomicfs.
type LoadFunc func(key pathkey.Key) (content []byte, lastModified time.Time, err error)

// Options configures a Cache's eviction budgets.
type Options struct {
	MaxCacheSize  int // entry count budget
	MaxCacheBytes int64 // aggregate byte budget; 0 disables the byte bound
	StandardsDir  string
}

// Cache holds a bounded collection of CacheEntries under its own lock.
// Per the concurrency model, callers composing a Cache into a transaction
// additionally acquire the Lock Manager's cache lock for cross-component
// diagnostics; Cache is independently safe for concurrent use either way.
type Cache struct {
	opts Options

	mu      sync.RWMutex
	entries map[pathkey.Key]*Entry

	hits   int64
	misses int64
}

// New returns an empty Cache.
func New(opts Options) *Cache {
	if opts.MaxCacheSize <= 0 {
		opts.MaxCacheSize = 500
	}

	return &Cache{opts: opts, entries: make(map[pathkey.Key]*Entry)}
}

// Get returns the entry for key without faulting it from disk. On a hit,
// LastAccessed and AccessCount are updated; no eviction runs. On a miss,
// ok is false.
func (c *Cache) Get(key pathkey.Key) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++

		return nil, false
	}

	c.hits++
	e.LastAccessed = time.Now()
	atomic.AddInt64(&e.AccessCount, 1)

	return e.clone(), true
}

// Load reads key via read, classifies and hashes it, inserts or replaces
// the entry, applies eviction, and returns the entry. Load is idempotent:
// reloading an unchanged key yields an equivalent entry.
func (c *Cache) Load(key pathkey.Key, read LoadFunc) (*Entry, error) {
	content, lastModified, err := read(key)
	if err != nil {
		return nil, err
	}

	category := Classify(key, c.opts.StandardsDir)

	c.mu.Lock()
	defer c.mu.Unlock()

	priority := frontmatterPriority(content)
	if existing, ok := c.entries[key]; ok {
		priority = existing.Priority
	}

	e := newEntry(key, content, lastModified, category, priority)
	c.entries[key] = e
	c.evictLocked()

	return e.clone(), nil
}

// Put inserts or replaces key's entry directly with content, bypassing the
// filesystem.
func (c *Cache) Put(key pathkey.Key, content []byte, lastModified time.Time) *Entry {
	category := Classify(key, c.opts.StandardsDir)

	c.mu.Lock()
	defer c.mu.Unlock()

	priority := frontmatterPriority(content)
	if existing, ok := c.entries[key]; ok {
		priority = existing.Priority
	}

	e := newEntry(key, content, lastModified, category, priority)
	c.entries[key] = e
	c.evictLocked()

	return e.clone()
}

// frontmatterPriority extracts an initial eviction-bias priority from a
// document's YAML frontmatter "priority" field, defaulting to 0 when the
// field is absent or the frontmatter doesn't parse (content is not
// required to carry frontmatter at all).
func frontmatterPriority(content []byte) int {
	fm, _, err := frontmatter.ParseFrontmatter(content)
	if err != nil {
		return 0
	}

	p, ok := fm.GetInt("priority")
	if !ok {
		return 0
	}

	return int(p)
}

// RestoreEntry installs content under key with a fully reconstructed set
// of metadata, bypassing classification and frontmatter-derived priority.
// It is the checkpoint protocol's restore primitive: a checkpoint backup
// or detailed snapshot already carries the metadata a fresh Load/Put would
// otherwise have to rederive.
func (c *Cache) RestoreEntry(key pathkey.Key, content []byte, lastModified, lastAccessed time.Time, accessCount int64, priority int, category Category) *Entry {
	e := newEntry(key, content, lastModified, category, priority)
	e.LastAccessed = lastAccessed
	e.AccessCount = accessCount

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = e
	c.evictLocked()

	return e.clone()
}

// SetPriority sets key's eviction-bias priority. Higher is stickier. A
// missing key is a no-op.
func (c *Cache) SetPriority(key pathkey.Key, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.Priority = priority
	}
}

// Invalidate removes key's entry. Returns whether something was removed.
func (c *Cache) Invalidate(key pathkey.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	delete(c.entries, key)

	return ok
}

// Entries returns a snapshot of every cached entry, cloned so callers
// cannot mutate cache-internal state. Intended for checkpoint
// snapshotting, where the full set of entries must be serialized.
func (c *Cache) Entries() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Entry, 0, len(c.entries))

	for _, e := range c.entries {
		out = append(out, e.clone())
	}

	return out
}

// Clear drops all entries and returns the count dropped.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[pathkey.Key]*Entry)

	return n
}

// Preload calls Load for each of keys, continuing past individual
// failures, and returns the count successfully loaded.
func (c *Cache) Preload(keys []pathkey.Key, read LoadFunc) int {
	loaded := 0

	for _, key := range keys {
		if _, err := c.Load(key, read); err == nil {
			loaded++
		}
	}

	return loaded
}

// evictLocked evicts entries minimizing (Priority, LastAccessed) until
// both the count and byte budgets are respected. c.mu must be held.
func (c *Cache) evictLocked() {
	for c.overBudgetLocked() {
		var victim pathkey.Key

		first := true

		for k, e := range c.entries {
			if first {
				victim = k
				first = false

				continue
			}

			cur := c.entries[victim]
			if e.Priority < cur.Priority || (e.Priority == cur.Priority && e.LastAccessed.Before(cur.LastAccessed)) {
				victim = k
			}
		}

		if first {
			return // nothing to evict
		}

		delete(c.entries, victim)
	}
}

func (c *Cache) overBudgetLocked() bool {
	if len(c.entries) > c.opts.MaxCacheSize {
		return true
	}

	if c.opts.MaxCacheBytes > 0 {
		var total int64

		for _, e := range c.entries {
			total += int64(e.Size)
		}

		if total > c.opts.MaxCacheBytes {
			return true
		}
	}

	return false
}

// SearchResult is one ranked hit from [Cache.Search].
type SearchResult struct {
	Key   pathkey.Key
	Score int
}

// Search ranks entries by token overlap between query and each entry's
// content and key, ties broken by higher AccessCount then more recent
// LastAccessed. Returns at most the top 25 results.
func (c *Cache) Search(query string) []SearchResult {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	type scored struct {
		entry *Entry
		score int
	}

	var results []scored

	for _, e := range c.entries {
		tokens := tokenize(string(e.Key) + " " + string(e.Content))
		score := overlap(queryTokens, tokens)

		if score > 0 {
			results = append(results, scored{entry: e, score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}

		if results[i].entry.AccessCount != results[j].entry.AccessCount {
			return results[i].entry.AccessCount > results[j].entry.AccessCount
		}

		return results[i].entry.LastAccessed.After(results[j].entry.LastAccessed)
	})

	if len(results) > searchTopK {
		results = results[:searchTopK]
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{Key: r.entry.Key, Score: r.score}
	}

	return out
}

func tokenize(s string) map[string]int {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})

	counts := make(map[string]int, len(fields))
	for _, f := range fields {
		counts[f]++
	}

	return counts
}

func overlap(a, b map[string]int) int {
	score := 0

	for tok, countA := range a {
		if countB, ok := b[tok]; ok {
			if countA < countB {
				score += countA
			} else {
				score += countB
			}
		}
	}

	return score
}

// CategoryStats summarizes one category's contribution to the cache.
type CategoryStats struct {
	Count      int
	TotalBytes int64
}

// Statistics is an observability snapshot of the cache's current state.
type Statistics struct {
	CacheSize     int
	DocumentCount int
	MaxCacheSize  int
	HitRate       float64
	ByCategory    map[Category]CategoryStats
}

// Statistics returns the current cache size, hit rate, and per-category
// breakdown. Hit rate is hits divided by total Get calls.
func (c *Cache) Statistics() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Statistics{
		DocumentCount: len(c.entries),
		MaxCacheSize:  c.opts.MaxCacheSize,
		ByCategory:    make(map[Category]CategoryStats),
	}

	for _, e := range c.entries {
		stats.CacheSize += e.Size

		cs := stats.ByCategory[e.Category]
		cs.Count++
		cs.TotalBytes += int64(e.Size)
		stats.ByCategory[e.Category] = cs
	}

	total := c.hits + c.misses
	if total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}

	return stats
}

// ReloadNow re-reads key from disk via read immediately, replacing its
// entry. This is the building block an atomicfs.CacheUpdater adapter uses
// for immediate publication; the adapter is called as each write succeeds,
// including writes made by an internal/txn transaction before it commits.
func (c *Cache) ReloadNow(key pathkey.Key, read LoadFunc) {
	_, _ = c.Load(key, read)
}
