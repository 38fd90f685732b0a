package manifest

import (
	"fmt"
	"strings"

	"github.com/meigma/artifact/digest"
)

// BindOption configures a Bind call.
type BindOption func(*bindConfig)

type bindConfig struct {
	lazy     bool
	force    bool
	metadata map[string]any
}

// BindWithForce overwrites an existing entry instead of failing with
// ErrDuplicate.
func BindWithForce() BindOption {
	return func(cfg *bindConfig) {
		cfg.force = true
	}
}

// BindWithLazy sets the entry's lazy flag. Entries are lazy by default.
func BindWithLazy(lazy bool) BindOption {
	return func(cfg *bindConfig) {
		cfg.lazy = lazy
	}
}

// BindWithMetadata attaches extra metadata keys to the entry. Keys that
// collide with interpreted fields (git-tree-sha1, lazy, download) are
// ignored.
func BindWithMetadata(metadata map[string]any) BindOption {
	return func(cfg *bindConfig) {
		cfg.metadata = metadata
	}
}

// Bind inserts an entry for name. Binding an existing name fails with
// ErrDuplicate unless BindWithForce is given, in which case the entry is
// replaced in place, keeping its position.
func (m *Manifest) Bind(name, treeDigest string, downloads []Download, opts ...BindOption) error {
	cfg := bindConfig{lazy: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := validateName(name); err != nil {
		return err
	}
	treeDigest = strings.ToLower(treeDigest)
	if !digest.ValidTree(treeDigest) {
		return fmt.Errorf("manifest: tree digest %q is not a 40-hex digest", treeDigest)
	}

	normalized := make([]Download, len(downloads))
	for i, dl := range downloads {
		if dl.URL == "" {
			return fmt.Errorf("manifest: download %d has no url", i)
		}
		sha := strings.ToLower(dl.SHA256)
		if !digest.ValidSHA256(sha) {
			return fmt.Errorf("manifest: download %d sha256 %q is not a 64-hex digest", i, dl.SHA256)
		}
		normalized[i] = Download{URL: dl.URL, SHA256: sha}
	}

	metadata := make(map[string]any, len(cfg.metadata))
	for k, v := range cfg.metadata {
		switch k {
		case keyTreeDigest, keyLazy, keyDownload:
			continue
		}
		metadata[k] = v
	}

	entry := &Entry{
		Name:       name,
		TreeDigest: treeDigest,
		Lazy:       cfg.lazy,
		Downloads:  normalized,
		Metadata:   metadata,
	}

	if existing, ok := m.index[name]; ok {
		if !cfg.force {
			return fmt.Errorf("%w: %s", ErrDuplicate, name)
		}
		for i, e := range m.entries {
			if e == existing {
				m.entries[i] = entry
				break
			}
		}
		m.index[name] = entry
		return nil
	}

	m.entries = append(m.entries, entry)
	m.index[name] = entry
	return nil
}

// Unbind removes the entry for name. Fails with ErrNotFound if the name is
// not bound.
func (m *Manifest) Unbind(name string) error {
	entry, ok := m.index[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m.index, name)
	for i, e := range m.entries {
		if e == entry {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			break
		}
	}
	return nil
}

// AddDownload appends a mirror to an existing entry. Duplicate URLs are
// tolerated as-is; callers deduplicate if they care. Fails with ErrNotFound
// if the name is not bound.
func (m *Manifest) AddDownload(name, url, sha256 string) error {
	entry, ok := m.index[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if url == "" {
		return fmt.Errorf("manifest: download has no url")
	}
	sha := strings.ToLower(sha256)
	if !digest.ValidSHA256(sha) {
		return fmt.Errorf("manifest: sha256 %q is not a 64-hex digest", sha256)
	}
	entry.Downloads = append(entry.Downloads, Download{URL: url, SHA256: sha})
	return nil
}

// validateName requires a bare TOML key so entries serialize as plain
// [name] tables.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("manifest: artifact name is empty")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return fmt.Errorf("manifest: artifact name %q is not a bare TOML key", name)
		}
	}
	return nil
}
