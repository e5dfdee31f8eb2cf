// Package syncverify compares the persisted cache state against the
// filesystem it claims to describe, classifies the differences, and can
// repair the persisted state from filesystem truth.
package syncverify

import (
	"bytes"
	"crypto/md5" //nolint:gosec // drift fingerprint, not security
	"encoding/gob"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/advising-platform/doccache/internal/atomicfs"
	"github.com/advising-platform/doccache/internal/pathkey"
	osfs "github.com/advising-platform/doccache/pkg/fs"
)

// HashMaxBytes mirrors doccache.HashMaxBytes: files larger than this are
// compared by size and mtime only, never by hash.
const HashMaxBytes = 10 * 1024 * 1024

// mtimeTolerance is the slack allowed between a cache record's
// LastModified and the filesystem's mtime before it counts as a mismatch.
const mtimeTolerance = time.Second

// skipExtensions are binary/archive extensions excluded from enumeration
// regardless of include/exclude patterns.
var skipExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".zip": true, ".tar": true, ".gz": true, ".pdf": true, ".exe": true,
	".bin": true, ".pyc": true, ".so": true, ".dylib": true, ".dll": true,
}

// FileRecord is the per-file metadata stored in StateSnapshot.Files.
type FileRecord struct {
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ContentHash  []byte    `json:"content_hash,omitempty"`
}

// StateSnapshot is the JSON document persisted at the cache-state path:
// aggregate cache fields plus the per-file metadata table C5 verifies
// against.
type StateSnapshot struct {
	CacheSize          int64                 `json:"cache_size"`
	DocumentCount      int                   `json:"document_count"`
	MaxCacheSize       int                   `json:"max_cache_size"`
	IsInitialized      bool                  `json:"is_initialized"`
	WatchedDirectories []string              `json:"watched_directories"`
	Files              map[string]FileRecord `json:"files"`
}

// DetailedEntry is the metadata-only projection of a CacheEntry stored in
// a DetailedSnapshot.
type DetailedEntry struct {
	LastAccessed time.Time
	LastModified time.Time
	AccessCount  int64
	Size         int64
	Category     string
}

// DetailedSnapshot is the binary-serialized mapping restore uses to
// rehydrate entry metadata. No suitable third-party serialization library
// appears among this module's dependencies, so it is encoded with the
// standard library's encoding/gob.
type DetailedSnapshot map[string]DetailedEntry

// EncodeDetailed gob-encodes a DetailedSnapshot.
func EncodeDetailed(snap DetailedSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("encode detailed snapshot: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeDetailed gob-decodes a DetailedSnapshot.
func DecodeDetailed(data []byte) (DetailedSnapshot, error) {
	var snap DetailedSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode detailed snapshot: %w", err)
	}

	return snap, nil
}

// Diff is the three-way classification Verify produces.
type Diff struct {
	MissingInCache       []string
	MissingInFilesystem  []string
	MetadataMismatch     []string
}

// Empty reports whether the diff has nothing to repair.
func (d Diff) Empty() bool {
	return len(d.MissingInCache) == 0 && len(d.MissingInFilesystem) == 0 && len(d.MetadataMismatch) == 0
}

// Config parameterizes one verifier instance.
type Config struct {
	BaseDir         string
	IncludePatterns []string // glob patterns, matched against the project-relative path
	ExcludePatterns []string
}

// Verifier walks a base directory and compares it against a cache state.
type Verifier struct {
	fsys osfs.FS
	cfg  Config
}

// New returns a Verifier rooted at cfg.BaseDir.
func New(fsys osfs.FS, cfg Config) *Verifier {
	return &Verifier{fsys: fsys, cfg: cfg}
}

// scan enumerates the filesystem and returns the survivor set's metadata
// keyed by project-relative, forward-slash path.
func (v *Verifier) scan() (map[string]FileRecord, error) {
	found := make(map[string]FileRecord)

	var walk func(relDir string) error

	walk = func(relDir string) error {
		absDir := v.cfg.BaseDir
		if relDir != "" {
			absDir = path.Join(v.cfg.BaseDir, relDir)
		}

		entries, err := v.fsys.ReadDir(absDir)
		if err != nil {
			return fmt.Errorf("read dir %q: %w", absDir, err)
		}

		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}

			rel := name
			if relDir != "" {
				rel = path.Join(relDir, name)
			}

			if v.excluded(rel) {
				continue
			}

			if entry.IsDir() {
				if err := walk(rel); err != nil {
					return err
				}

				continue
			}

			if !v.included(rel) || skipExtensions[strings.ToLower(path.Ext(rel))] {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				continue // skipped; the error is not reported
			}

			rec, err := v.recordFor(absDir+"/"+name, info)
			if err != nil {
				continue
			}

			found[rel] = rec
		}

		return nil
	}

	if err := walk(""); err != nil {
		return nil, err
	}

	return found, nil
}

func (v *Verifier) recordFor(absPath string, info fs.FileInfo) (FileRecord, error) {
	rec := FileRecord{Size: info.Size(), LastModified: info.ModTime()}

	if info.Size() <= HashMaxBytes {
		data, err := v.fsys.ReadFile(absPath)
		if err != nil {
			return FileRecord{}, err
		}

		sum := md5.Sum(data) //nolint:gosec
		rec.ContentHash = sum[:]
	}

	return rec, nil
}

func (v *Verifier) excluded(rel string) bool {
	for _, pat := range v.cfg.ExcludePatterns {
		if matched, _ := path.Match(pat, rel); matched {
			return true
		}
	}

	return false
}

func (v *Verifier) included(rel string) bool {
	if len(v.cfg.IncludePatterns) == 0 {
		return true
	}

	for _, pat := range v.cfg.IncludePatterns {
		if matched, _ := path.Match(pat, rel); matched {
			return true
		}
	}

	return false
}

// Verify produces the three-way classification between the filesystem and
// state.Files.
func (v *Verifier) Verify(state StateSnapshot) (Diff, error) {
	onDisk, err := v.scan()
	if err != nil {
		return Diff{}, err
	}

	var diff Diff

	for rel, rec := range onDisk {
		cached, ok := state.Files[rel]
		if !ok {
			diff.MissingInCache = append(diff.MissingInCache, rel)

			continue
		}

		if metadataMismatch(rec, cached) {
			diff.MetadataMismatch = append(diff.MetadataMismatch, rel)
		}
	}

	for rel := range state.Files {
		if _, ok := onDisk[rel]; !ok {
			diff.MissingInFilesystem = append(diff.MissingInFilesystem, rel)
		}
	}

	sort.Strings(diff.MissingInCache)
	sort.Strings(diff.MissingInFilesystem)
	sort.Strings(diff.MetadataMismatch)

	return diff, nil
}

func metadataMismatch(disk, cached FileRecord) bool {
	if disk.Size != cached.Size {
		return true
	}

	delta := disk.LastModified.Sub(cached.LastModified)
	if delta < 0 {
		delta = -delta
	}

	if delta > mtimeTolerance {
		return true
	}

	if len(disk.ContentHash) > 0 && len(cached.ContentHash) > 0 {
		return !bytes.Equal(disk.ContentHash, cached.ContentHash)
	}

	return false
}

// FixSyncIssues rewrites state from filesystem truth for every
// classification in diff, then persists the corrected state atomically
// via ops at stateKey. It returns the corrected state and succeeds only
// if persistence succeeds; callers should re-run Verify to confirm the
// repair, per the core's "returns success only if the persisted state
// reflects the repairs on re-verify" contract.
func (v *Verifier) FixSyncIssues(ops *atomicfs.Ops, stateKey pathkey.Key, state StateSnapshot, diff Diff) (StateSnapshot, error) {
	if state.Files == nil {
		state.Files = make(map[string]FileRecord)
	}

	onDisk, err := v.scan()
	if err != nil {
		return state, err
	}

	for _, rel := range diff.MissingInCache {
		if rec, ok := onDisk[rel]; ok {
			state.Files[rel] = rec
		}
	}

	for _, rel := range diff.MetadataMismatch {
		if rec, ok := onDisk[rel]; ok {
			state.Files[rel] = rec
		}
	}

	for _, rel := range diff.MissingInFilesystem {
		delete(state.Files, rel)
	}

	state.DocumentCount = len(state.Files)

	var total int64
	for _, rec := range state.Files {
		total += rec.Size
	}

	state.CacheSize = total

	if err := ops.WriteJSON(stateKey, state); err != nil {
		return state, fmt.Errorf("persist repaired state: %w", err)
	}

	return state, nil
}

// InitializeCache clears state and runs a full verify + repair, the
// equivalent of bootstrapping cache state from an empty project.
func (v *Verifier) InitializeCache(ops *atomicfs.Ops, stateKey pathkey.Key, maxCacheSize int) (StateSnapshot, Diff, error) {
	state := StateSnapshot{
		MaxCacheSize:  maxCacheSize,
		IsInitialized: true,
		Files:         make(map[string]FileRecord),
	}

	diff, err := v.Verify(state)
	if err != nil {
		return state, Diff{}, err
	}

	state, err = v.FixSyncIssues(ops, stateKey, state, diff)
	if err != nil {
		return state, diff, err
	}

	return state, diff, nil
}
