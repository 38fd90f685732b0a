package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meigma/artifact/archive"
	"github.com/meigma/artifact/digest"
	"github.com/meigma/artifact/manifest"
)

// Resolve returns the cache path of the named artifact, downloading and
// verifying it first if it is not already cached. The returned directory
// is immutable and shared; callers must not modify it.
func (c *Client) Resolve(ctx context.Context, name string) (string, error) {
	m, err := manifest.Load(c.manifestPath)
	if err != nil {
		return "", err
	}
	entry, ok := m.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %q in %s", ErrNotFound, name, c.manifestPath)
	}
	return c.resolveEntry(ctx, entry)
}

// ResolveAll resolves every non-lazy artifact in the manifest. Lazy
// entries are skipped; they download on first Resolve instead.
func (c *Client) ResolveAll(ctx context.Context) error {
	m, err := manifest.Load(c.manifestPath)
	if err != nil {
		return err
	}
	for _, name := range m.Names() {
		entry, _ := m.Get(name)
		if entry.Lazy {
			continue
		}
		if _, err := c.resolveEntry(ctx, entry); err != nil {
			return fmt.Errorf("resolving %q: %w", name, err)
		}
	}
	return nil
}

// Path returns the cache path of the named artifact if it is already
// cached. It never touches the network.
func (c *Client) Path(name string) (string, bool) {
	m, err := manifest.Load(c.manifestPath)
	if err != nil {
		return "", false
	}
	entry, ok := m.Get(name)
	if !ok {
		return "", false
	}
	return c.store.Resolve(entry.TreeDigest)
}

// Exists reports whether the named artifact is already cached.
func (c *Client) Exists(name string) bool {
	_, ok := c.Path(name)
	return ok
}

// resolveEntry returns the cached path for an entry, fetching on miss.
// Concurrent fetches of the same digest are coalesced.
func (c *Client) resolveEntry(ctx context.Context, entry *manifest.Entry) (string, error) {
	if path, ok := c.store.Resolve(entry.TreeDigest); ok {
		c.log().Debug("cache hit", "name", entry.Name, "tree", entry.TreeDigest)
		return path, nil
	}

	v, err, _ := c.group.Do(entry.TreeDigest, func() (any, error) {
		// A fetch that completed while we waited satisfies us too.
		if path, ok := c.store.Resolve(entry.TreeDigest); ok {
			return path, nil
		}
		return c.fetch(ctx, entry)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// fetch tries each download source in manifest order until one yields a
// verified tree. Per-source failures accumulate; a tree digest mismatch
// aborts immediately since retrying identical bytes cannot help.
func (c *Client) fetch(ctx context.Context, entry *manifest.Entry) (string, error) {
	if len(entry.Downloads) == 0 {
		return "", fmt.Errorf("%w: %q is metadata-only", ErrNoSources, entry.Name)
	}

	attempts := make([]error, 0, len(entry.Downloads))
	for _, dl := range entry.Downloads {
		c.log().Info("downloading artifact", "name", entry.Name, "url", dl.URL)
		path, err := c.fetchOne(ctx, entry, dl)
		if err == nil {
			return path, nil
		}
		if errors.Is(err, ErrContentMismatch) {
			return "", err
		}
		c.log().Warn("source failed", "name", entry.Name, "url", dl.URL, "error", err)
		attempts = append(attempts, fmt.Errorf("%s: %w", dl.URL, err))
	}
	return "", &AllSourcesFailedError{Name: entry.Name, Attempts: attempts}
}

// fetchOne downloads, verifies, extracts, and publishes a single source.
func (c *Client) fetchOne(ctx context.Context, entry *manifest.Entry, dl manifest.Download) (string, error) {
	c.notify(ProgressEvent{Name: entry.Name, URL: dl.URL, Stage: StageDownloading})
	archivePath, err := c.source.Fetch(ctx, dl.URL)
	if err != nil {
		return "", err
	}
	defer os.Remove(archivePath)

	var size uint64
	if info, err := os.Stat(archivePath); err == nil {
		size = uint64(info.Size())
	}
	c.notify(ProgressEvent{Name: entry.Name, URL: dl.URL, Stage: StageVerifyingBytes, BytesDone: size, BytesTotal: size})
	if err := digest.Verify(archivePath, dl.SHA256); err != nil {
		return "", err
	}

	// Stage on the cache filesystem so publish is a rename.
	staging, err := c.store.TempDir()
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(staging)

	c.notify(ProgressEvent{Name: entry.Name, URL: dl.URL, Stage: StageExtracting, BytesTotal: size})
	if err := archive.Unpack(archivePath, staging); err != nil {
		return "", err
	}

	c.notify(ProgressEvent{Name: entry.Name, URL: dl.URL, Stage: StageVerifyingTree})
	root := unwrapRoot(staging)
	got, err := digest.Tree(root)
	if err != nil {
		return "", err
	}
	if got != entry.TreeDigest {
		return "", fmt.Errorf("%w: %q extracted to %s, manifest pins %s",
			ErrContentMismatch, entry.Name, got, entry.TreeDigest)
	}

	if err := c.store.Publish(entry.TreeDigest, root); err != nil {
		return "", err
	}
	c.log().Info("artifact installed", "name", entry.Name, "tree", entry.TreeDigest)
	c.notify(ProgressEvent{Name: entry.Name, URL: dl.URL, Stage: StagePublished, BytesDone: size, BytesTotal: size})
	return c.store.Path(entry.TreeDigest), nil
}

// unwrapRoot returns the single top-level directory inside staging when
// the archive wraps its content in one, and staging itself otherwise.
func unwrapRoot(staging string) string {
	entries, err := os.ReadDir(staging)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return staging
	}
	return filepath.Join(staging, entries[0].Name())
}
