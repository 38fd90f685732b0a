// Package manifest implements the Artifacts.toml data model: an ordered
// registry of named artifacts, each carrying the tree digest of its content,
// an ordered list of download sources, and arbitrary extra metadata that
// round-trips untouched through load and save.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/meigma/artifact/digest"
)

// Sentinel errors.
var (
	// ErrParse is returned when the manifest file is malformed or an entry
	// is missing a required field.
	ErrParse = errors.New("manifest: malformed manifest")

	// ErrNotFound is returned when an artifact name is not bound.
	ErrNotFound = errors.New("manifest: artifact not found")

	// ErrDuplicate is returned when binding a name that is already bound
	// without force.
	ErrDuplicate = errors.New("manifest: artifact already bound")
)

// Keys interpreted by this package. Everything else on an entry is opaque
// metadata.
const (
	keyTreeDigest = "git-tree-sha1"
	keyLazy       = "lazy"
	keyDownload   = "download"
)

// Download is one mirror for an artifact's archive.
type Download struct {
	// URL is the transport-resolvable address of the archive.
	URL string `toml:"url"`

	// SHA256 is the digest of the raw archive bytes, verified before
	// extraction.
	SHA256 string `toml:"sha256"`
}

// Entry is one named artifact.
type Entry struct {
	// Name is the artifact's key in the manifest.
	Name string

	// TreeDigest identifies the expected extracted content and is the
	// cache key. Always 40 lowercase hex characters.
	TreeDigest string

	// Lazy is advisory: callers decide whether to fetch eagerly. Stored
	// and round-tripped, never enforced here. Defaults to true.
	Lazy bool

	// Downloads are mirrors in priority order. May be empty for
	// metadata-only entries.
	Downloads []Download

	// Metadata holds every entry key this package does not interpret.
	// Values are whatever the TOML decoder produced: strings, bools,
	// numbers, arrays, nested tables.
	Metadata map[string]any
}

// Manifest is an ordered mapping from artifact name to entry, backed by a
// file path.
type Manifest struct {
	path    string
	entries []*Entry
	index   map[string]*Entry
}

// New creates an empty manifest backed by path. Nothing is written until
// Save.
func New(path string) *Manifest {
	return &Manifest{
		path:  path,
		index: make(map[string]*Entry),
	}
}

// Load parses the manifest at path. A missing file yields an empty manifest
// so registries can be built up incrementally; a malformed file or an entry
// without a git-tree-sha1 yields ErrParse.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(path), nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	m := New(path)
	for _, name := range entryOrder(data, raw) {
		table, ok := raw[name].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: top-level key %q is not a table", ErrParse, name)
		}
		entry, err := parseEntry(name, table)
		if err != nil {
			return nil, err
		}
		m.entries = append(m.entries, entry)
		m.index[name] = entry
	}
	return m, nil
}

// parseEntry builds an Entry from a decoded TOML table.
func parseEntry(name string, table map[string]any) (*Entry, error) {
	entry := &Entry{
		Name:      name,
		Lazy:      true,
		Downloads: []Download{},
		Metadata:  make(map[string]any),
	}

	for key, value := range table {
		switch key {
		case keyTreeDigest:
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s: git-tree-sha1 is not a string", ErrParse, name)
			}
			entry.TreeDigest = strings.ToLower(s)

		case keyLazy:
			b, ok := value.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: %s: lazy is not a boolean", ErrParse, name)
			}
			entry.Lazy = b

		case keyDownload:
			list, ok := value.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s: download is not an array of tables", ErrParse, name)
			}
			for i, item := range list {
				dl, err := parseDownload(name, i, item)
				if err != nil {
					return nil, err
				}
				entry.Downloads = append(entry.Downloads, dl)
			}

		default:
			entry.Metadata[key] = value
		}
	}

	if entry.TreeDigest == "" {
		return nil, fmt.Errorf("%w: %s: missing git-tree-sha1", ErrParse, name)
	}
	if !digest.ValidTree(entry.TreeDigest) {
		return nil, fmt.Errorf("%w: %s: git-tree-sha1 %q is not a 40-hex digest", ErrParse, name, entry.TreeDigest)
	}
	return entry, nil
}

func parseDownload(name string, i int, item any) (Download, error) {
	table, ok := item.(map[string]any)
	if !ok {
		return Download{}, fmt.Errorf("%w: %s: download %d is not a table", ErrParse, name, i)
	}
	url, _ := table["url"].(string)
	if url == "" {
		return Download{}, fmt.Errorf("%w: %s: download %d has no url", ErrParse, name, i)
	}
	sha, _ := table["sha256"].(string)
	sha = strings.ToLower(sha)
	if !digest.ValidSHA256(sha) {
		return Download{}, fmt.Errorf("%w: %s: download %d sha256 %q is not a 64-hex digest", ErrParse, name, i, sha)
	}
	return Download{URL: url, SHA256: sha}, nil
}

// entryOrder returns the top-level keys of raw in document order where
// possible. TOML decoding into a map loses ordering, so the order is
// recovered by scanning the document for table headers; artifact names are
// bare keys by contract, which keeps the scan trivial. Keys the scan does
// not find are appended sorted, so the result is always complete.
func entryOrder(data []byte, raw map[string]any) []string {
	order := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[") {
			continue
		}
		name := headerKey(line)
		if name == "" || seen[name] {
			continue
		}
		if _, ok := raw[name]; !ok {
			continue
		}
		seen[name] = true
		order = append(order, name)
	}

	var rest []string
	for name := range raw {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

// headerKey extracts the first key segment from a table header line such as
// `[name]`, `[[name.download]]`, or `["quoted name"]`.
func headerKey(line string) string {
	s := strings.TrimLeft(line, "[")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if s[0] == '"' || s[0] == '\'' {
		quote := s[0]
		end := strings.IndexByte(s[1:], quote)
		if end < 0 {
			return ""
		}
		return s[1 : 1+end]
	}
	end := strings.IndexAny(s, ".] \t")
	if end < 0 {
		return s
	}
	return s[:end]
}

// Path returns the file path backing this manifest.
func (m *Manifest) Path() string {
	return m.path
}

// Get returns the entry for name.
func (m *Manifest) Get(name string) (*Entry, bool) {
	e, ok := m.index[name]
	return e, ok
}

// Names returns artifact names in manifest order.
func (m *Manifest) Names() []string {
	names := make([]string, len(m.entries))
	for i, e := range m.entries {
		names[i] = e.Name
	}
	return names
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Save writes the manifest back to its own path.
func (m *Manifest) Save() error {
	return m.SaveTo(m.path)
}

// SaveTo serializes the manifest to path as a whole-file replacement: the
// document is written to a temporary file and renamed into place, so
// concurrent readers never see a torn file. Entries are emitted in manifest
// order; within an entry, unknown metadata keys are emitted alongside the
// interpreted ones.
func (m *Manifest) SaveTo(path string) error {
	var doc strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			doc.WriteString("\n")
		}
		section, err := toml.Marshal(map[string]any{e.Name: entryTable(e)})
		if err != nil {
			return fmt.Errorf("manifest: encoding %s: %w", e.Name, err)
		}
		doc.Write(section)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(doc.String()); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// entryTable flattens an entry back into its TOML table form.
func entryTable(e *Entry) map[string]any {
	table := make(map[string]any, len(e.Metadata)+3)
	table[keyTreeDigest] = e.TreeDigest
	table[keyLazy] = e.Lazy
	for k, v := range e.Metadata {
		table[k] = v
	}
	if len(e.Downloads) > 0 {
		downloads := make([]map[string]any, len(e.Downloads))
		for i, dl := range e.Downloads {
			downloads[i] = map[string]any{"url": dl.URL, "sha256": dl.SHA256}
		}
		table[keyDownload] = downloads
	}
	return table
}
