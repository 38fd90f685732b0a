// Package cache implements the content-addressed artifact cache: a
// directory per tree digest under a configurable root.
//
// Entries are immutable once published. A digest never changes content, so
// the cache needs no invalidation and no eviction policy beyond explicit
// removal.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meigma/artifact/digest"
)

// ErrCacheWrite is returned when the cache cannot be written (permissions,
// disk full, rename failure).
var ErrCacheWrite = errors.New("cache: write failed")

const (
	defaultDirPerm = 0o755

	// tmpDirName holds staging directories inside the cache root so
	// publish renames never cross filesystems.
	tmpDirName = "tmp"
)

// Store maps tree digests to directories under a root. A Store is stateless
// and reentrant; concurrent readers are safe because publication is a single
// rename.
type Store struct {
	root    string
	dirPerm os.FileMode
}

// Option configures a Store.
type Option func(*Store)

// WithDirPerm sets the permissions used when creating cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// New creates a Store rooted at root, creating the directory if needed.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.New("cache: root is empty")
	}
	s := &Store{
		root:    root,
		dirPerm: defaultDirPerm,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(root, s.dirPerm); err != nil {
		return nil, fmt.Errorf("%w: creating root %s: %v", ErrCacheWrite, root, err)
	}
	return s, nil
}

// DefaultRoot returns the per-user cache location used when no root is
// configured: <user cache dir>/artifact, falling back to ~/.artifact when
// the platform cache dir cannot be determined.
func DefaultRoot() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "artifact")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Last resort; a relative path in the working directory.
		return ".artifact"
	}
	return filepath.Join(home, ".artifact")
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the canonical location for a tree digest without checking
// whether it exists.
func (s *Store) Path(treeDigest string) string {
	return filepath.Join(s.root, treeDigest)
}

// Resolve returns the directory for treeDigest if a non-empty directory
// exists there. An empty or absent directory reports false.
func (s *Store) Resolve(treeDigest string) (string, bool) {
	if !digest.ValidTree(treeDigest) {
		return "", false
	}
	path := s.Path(treeDigest)
	entries, err := os.ReadDir(path)
	if err != nil || len(entries) == 0 {
		return "", false
	}
	return path, true
}

// TempDir creates a fresh staging directory inside the cache root. Staging
// under the root keeps the eventual publish rename on one filesystem.
func (s *Store) TempDir() (string, error) {
	parent := filepath.Join(s.root, tmpDirName)
	if err := os.MkdirAll(parent, s.dirPerm); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheWrite, err)
	}
	dir, err := os.MkdirTemp(parent, "staging-")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheWrite, err)
	}
	return dir, nil
}

// Publish moves a fully-materialized staging directory to the canonical
// path for treeDigest. The move is a rename, so a concurrent Resolve sees
// either nothing or the complete directory, never a partial one.
//
// If another publisher wins the race to the final path, the staging
// directory is discarded and Publish succeeds: content is deterministic by
// digest, so the directory already in place is identical.
func (s *Store) Publish(treeDigest, stagingDir string) error {
	if !digest.ValidTree(treeDigest) {
		return fmt.Errorf("%w: invalid tree digest %q", ErrCacheWrite, treeDigest)
	}
	final := s.Path(treeDigest)

	if err := os.Rename(stagingDir, final); err != nil {
		if _, statErr := os.Stat(final); statErr == nil {
			_ = os.RemoveAll(stagingDir)
			return nil
		}
		return fmt.Errorf("%w: publishing %s: %v", ErrCacheWrite, treeDigest, err)
	}
	return nil
}

// Remove deletes the entry for treeDigest. Removing an absent digest is not
// an error.
func (s *Store) Remove(treeDigest string) error {
	if !digest.ValidTree(treeDigest) {
		return nil
	}
	if err := os.RemoveAll(s.Path(treeDigest)); err != nil {
		return fmt.Errorf("%w: removing %s: %v", ErrCacheWrite, treeDigest, err)
	}
	return nil
}

// Clear deletes every entry under the root, including staged temporary
// directories. The root itself is preserved.
func (s *Store) Clear() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrCacheWrite, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("%w: clearing %s: %v", ErrCacheWrite, e.Name(), err)
		}
	}
	return nil
}
