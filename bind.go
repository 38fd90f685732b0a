package artifact

import (
	"context"
	"fmt"
	"os"

	"github.com/meigma/artifact/archive"
	"github.com/meigma/artifact/digest"
	"github.com/meigma/artifact/manifest"
)

// Bind records an artifact in the manifest under name, pinned to
// treeDigest, and saves the manifest.
func (c *Client) Bind(name, treeDigest string, downloads []manifest.Download, opts ...manifest.BindOption) error {
	m, err := manifest.Load(c.manifestPath)
	if err != nil {
		return err
	}
	if err := m.Bind(name, treeDigest, downloads, opts...); err != nil {
		return err
	}
	return m.Save()
}

// Unbind removes the named artifact from the manifest and saves it. The
// cached content is untouched; use [Client.ClearCache] to drop it.
func (c *Client) Unbind(name string) error {
	m, err := manifest.Load(c.manifestPath)
	if err != nil {
		return err
	}
	if err := m.Unbind(name); err != nil {
		return err
	}
	return m.Save()
}

// AddDownload appends a mirror to the named artifact's source list and
// saves the manifest.
func (c *Client) AddDownload(name, url, sha256 string) error {
	m, err := manifest.Load(c.manifestPath)
	if err != nil {
		return err
	}
	if err := m.AddDownload(name, url, sha256); err != nil {
		return err
	}
	return m.Save()
}

// AddFromURL downloads the archive at url, computes its checksum and tree
// digest, and binds it in the manifest under name. The archive must
// extract cleanly; a payload that is not a readable archive is an error
// rather than something to pin blind.
func (c *Client) AddFromURL(ctx context.Context, name, url string, opts ...manifest.BindOption) error {
	archivePath, err := c.source.Fetch(ctx, url)
	if err != nil {
		return err
	}
	defer os.Remove(archivePath)

	sha, err := digest.File(archivePath)
	if err != nil {
		return err
	}

	staging, err := os.MkdirTemp("", "artifact-add-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if err := archive.Unpack(archivePath, staging); err != nil {
		return fmt.Errorf("inspecting %s: %w", url, err)
	}
	tree, err := digest.Tree(unwrapRoot(staging))
	if err != nil {
		return err
	}

	return c.Bind(name, tree, []manifest.Download{{URL: url, SHA256: sha}}, opts...)
}
