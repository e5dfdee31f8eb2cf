// Package pathkey normalizes the many ways a document can be named —
// logical addresses, absolute paths, relative paths, bare filenames — into
// one canonical, project-relative form.
package pathkey

import (
	"path"
	"path/filepath"
	"strings"
)

// Key is a project-relative, forward-slash path. It never contains "..",
// never starts with "/", and never ends with "/". It is the only key form
// stored anywhere in the cache; every other form is an input, normalized on
// the way in.
type Key string

// String returns the key's string form.
func (k Key) String() string { return string(k) }

// Valid reports whether k satisfies the CanonicalKey invariants.
func (k Key) Valid() bool {
	s := string(k)
	if s == "" || s == "." {
		return false
	}

	if strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") {
		return false
	}

	for _, part := range strings.Split(s, "/") {
		if part == ".." || part == "" {
			return false
		}
	}

	return true
}

// Address is a logical alias of the form "abstract://namespace:id" or
// "abstract://project/category/id".
type Address string

const addressScheme = "abstract://"

// Parse splits a into its namespace/category and id components. ok is false
// if a does not use the abstract:// scheme.
func (a Address) Parse() (head, id string, ok bool) {
	s := string(a)
	if !strings.HasPrefix(s, addressScheme) {
		return "", "", false
	}

	rest := strings.TrimPrefix(s, addressScheme)

	if idx := strings.LastIndex(rest, ":"); idx >= 0 && !strings.Contains(rest, "/") {
		return rest[:idx], rest[idx+1:], true
	}

	if idx := strings.LastIndex(rest, "/"); idx >= 0 {
		return rest[:idx], rest[idx+1:], true
	}

	return "", "", false
}

// Resolver owns the mapping from every acceptable key form to exactly one
// CanonicalKey. A Resolver is built once per project root and is safe for
// concurrent reads after construction; [Resolver.Register] may be called
// at any time and takes an internal lock.
type Resolver struct {
	projectRoot      string
	standardsDir     string
	collaboratorDir  string
	logicalToKey     map[string]Key
	keyToLogical     map[Key][]string
}

// archiveMarkers are substrings that mark a standards subfolder as
// historical rather than live; files under such folders are not indexed
// into the logical-address table.
var archiveMarkers = []string{
	"archive", "backup", "deprecated", "old",
	"consolidated", "rename", "template",
}

// stopWords are excluded when extracting a logical id from a filename.
var stopWords = map[string]bool{
	"by": true, "ai": true, "assistant": true, "may": true,
	"cet": true, "the": true, "and": true, "of": true,
}

// NewResolver builds a Resolver rooted at projectRoot, scanning
// standardsDir (project-relative) for logical-address registrations.
// Missing or unreadable files are logged via warn and do not abort
// construction.
func NewResolver(projectRoot, standardsDir, collaboratorDir string, listMarkdown func(dir string) ([]string, error), warn func(format string, args ...any)) (*Resolver, error) {
	r := &Resolver{
		projectRoot:     filepath.Clean(projectRoot),
		standardsDir:    standardsDir,
		collaboratorDir: collaboratorDir,
		logicalToKey:    make(map[string]Key),
		keyToLogical:    make(map[Key][]string),
	}

	if listMarkdown == nil {
		return r, nil
	}

	files, err := listMarkdown(filepath.Join(r.projectRoot, standardsDir))
	if err != nil {
		if warn != nil {
			warn("pathkey: scanning standards dir %q: %v", standardsDir, err)
		}

		return r, nil
	}

	for _, rel := range files {
		if isArchivePath(rel) {
			continue
		}

		id, ok := extractLogicalID(path.Base(rel))
		if !ok {
			continue
		}

		key := Key(path.Join(standardsDir, rel))

		addr := "abstract://standard:" + id
		r.register(addr, key)
	}

	return r, nil
}

func (r *Resolver) register(addr string, key Key) {
	r.logicalToKey[addr] = key
	r.keyToLogical[key] = append(r.keyToLogical[key], addr)
}

// Register adds a manual logical-address -> key mapping, for collaborators
// that address documents outside the standards-directory scan (for
// example "abstract://project/tasks/42").
func (r *Resolver) Register(addr string, key Key) {
	r.register(addr, key)
}

func isArchivePath(rel string) bool {
	lower := strings.ToLower(rel)

	for _, marker := range archiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	// Date-like prefixes: a path segment starting with "20" followed by
	// two more digits (e.g. "2024-03" revision folders).
	for _, seg := range strings.Split(lower, "/") {
		if len(seg) >= 4 && strings.HasPrefix(seg, "20") && isDigits(seg[2:4]) {
			return true
		}
	}

	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return len(s) > 0
}

// extractLogicalID applies the first matching extraction rule to a
// standards-directory filename and returns a normalized logical id.
func extractLogicalID(filename string) (string, bool) {
	name := strings.TrimSuffix(filename, ".md")
	lower := strings.ToLower(name)

	// Rule 1: "<word> standard"
	if idx := strings.Index(lower, " standard"); idx > 0 {
		return firstWord(lower[:idx]), true
	}

	// Rule 2: "<word>-standard" or "<word>_standard"
	for _, sep := range []string{"-standard", "_standard"} {
		if idx := strings.Index(lower, sep); idx > 0 {
			return firstWord(lower[:idx]), true
		}
	}

	// Rule 3: leading token.
	if tok := firstWord(lower); tok != "" && !stopWords[tok] {
		return tok, true
	}

	// Rule 4: trailing token.
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})

	for i := len(fields) - 1; i >= 0; i-- {
		if !stopWords[fields[i]] {
			return fields[i], true
		}
	}

	return "", false
}

func firstWord(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})

	for _, f := range fields {
		if !stopWords[f] {
			return f
		}
	}

	return ""
}

// Normalize accepts any supported key form — logical address, absolute
// path, relative path, already-canonical path, or bare filename — and
// returns its CanonicalKey. Normalize is pure: it never touches disk.
func (r *Resolver) Normalize(anyKey string) Key {
	anyKey = strings.ReplaceAll(anyKey, `\`, "/")

	if addr := Address(anyKey); strings.HasPrefix(anyKey, addressScheme) {
		if key, ok := r.ResolveLogical(addr); ok {
			return key
		}
	}

	if filepath.IsAbs(anyKey) {
		rel, err := filepath.Rel(r.projectRoot, filepath.FromSlash(anyKey))
		if err != nil || strings.HasPrefix(rel, "..") {
			// Outside the project root: keep the canonical absolute form
			// as an escape hatch rather than fabricating a relative path
			// that would collide with in-project keys.
			return Key(path.Clean(anyKey))
		}

		return Key(filepath.ToSlash(rel))
	}

	if strings.HasPrefix(anyKey, "../") {
		joined := path.Join(r.collaboratorDir, anyKey)

		return Key(path.Clean(joined))
	}

	return Key(path.Clean(anyKey))
}

// ResolveLogical looks up a registered LogicalAddress. A missing id
// returns ok=false, never an error.
func (r *Resolver) ResolveLogical(addr Address) (Key, bool) {
	key, ok := r.logicalToKey[string(addr)]

	return key, ok
}

// AllAliases returns every input form the resolver will accept for key:
// its registered logical addresses, its absolute form, and its bare
// filename.
func (r *Resolver) AllAliases(key Key) []string {
	aliases := []string{string(key)}
	aliases = append(aliases, r.keyToLogical[key]...)
	aliases = append(aliases, filepath.Join(r.projectRoot, string(key)))
	aliases = append(aliases, path.Base(string(key)))

	return aliases
}

// FindByAnyKey substitutes search over every candidate's aliases first,
// then falls back to a bare-filename match. Returns ok=false if nothing
// matches.
func (r *Resolver) FindByAnyKey(search string, candidates []Key) (Key, bool) {
	search = strings.ReplaceAll(search, `\`, "/")

	for _, c := range candidates {
		for _, alias := range r.AllAliases(c) {
			if alias == search {
				return c, true
			}
		}
	}

	base := path.Base(search)

	for _, c := range candidates {
		if path.Base(string(c)) == base {
			return c, true
		}
	}

	return "", false
}

// Statistics reports the size of the logical-address table, mirroring the
// diagnostics a resolver's collaborators expect at startup.
type Statistics struct {
	RegisteredAddresses int
	ProjectRoot         string
}

// Statistics returns a snapshot of the resolver's registration table size.
func (r *Resolver) Statistics() Statistics {
	return Statistics{
		RegisteredAddresses: len(r.logicalToKey),
		ProjectRoot:         r.projectRoot,
	}
}
