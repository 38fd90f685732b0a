package artifact

import (
	"fmt"

	"github.com/meigma/artifact/manifest"
)

// ClearCache removes the named artifact's content from the cache. The
// manifest entry stays; the next Resolve downloads again. Clearing an
// artifact that is not cached is a no-op.
func (c *Client) ClearCache(name string) error {
	m, err := manifest.Load(c.manifestPath)
	if err != nil {
		return err
	}
	entry, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q in %s", ErrNotFound, name, c.manifestPath)
	}
	return c.store.Remove(entry.TreeDigest)
}

// ClearAll empties the entire content cache, including artifacts from
// other manifests sharing it.
func (c *Client) ClearAll() error {
	return c.store.Clear()
}
