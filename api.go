package artifact

import (
	"context"
	"sync"

	"github.com/meigma/artifact/cache"
	"github.com/meigma/artifact/manifest"
)

// Package-level functions share clients keyed by manifest path, so
// repeated calls against the same manifest reuse one singleflight group.
var (
	defaultMu      sync.Mutex
	defaultRoot    string
	defaultClients = map[string]*Client{}
)

// SetCacheDir overrides the cache root used by the package-level
// functions. Existing shared clients are dropped and rebuilt against the
// new root on next use.
func SetCacheDir(dir string) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRoot = dir
	defaultClients = map[string]*Client{}
}

// CacheDir returns the cache root used by the package-level functions.
func CacheDir() string {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRoot != "" {
		return defaultRoot
	}
	return cache.DefaultRoot()
}

func sharedClient(manifestPath string) (*Client, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if c, ok := defaultClients[manifestPath]; ok {
		return c, nil
	}
	opts := []Option{WithManifestPath(manifestPath)}
	if defaultRoot != "" {
		opts = append(opts, WithCacheDir(defaultRoot))
	}
	c, err := NewClient(opts...)
	if err != nil {
		return nil, err
	}
	defaultClients[manifestPath] = c
	return c, nil
}

// Resolve resolves the named artifact from the given manifest using a
// shared default client. See [Client.Resolve].
func Resolve(ctx context.Context, manifestPath, name string) (string, error) {
	c, err := sharedClient(manifestPath)
	if err != nil {
		return "", err
	}
	return c.Resolve(ctx, name)
}

// Path returns the cached path of the named artifact from the given
// manifest without touching the network. See [Client.Path].
func Path(manifestPath, name string) (string, bool) {
	c, err := sharedClient(manifestPath)
	if err != nil {
		return "", false
	}
	return c.Path(name)
}

// Exists reports whether the named artifact from the given manifest is
// cached. See [Client.Exists].
func Exists(manifestPath, name string) bool {
	c, err := sharedClient(manifestPath)
	if err != nil {
		return false
	}
	return c.Exists(name)
}

// ClearCache removes the named artifact's cached content. See
// [Client.ClearCache].
func ClearCache(manifestPath, name string) error {
	c, err := sharedClient(manifestPath)
	if err != nil {
		return err
	}
	return c.ClearCache(name)
}

// ClearAll empties the process-default content cache entirely.
func ClearAll() error {
	store, err := cache.New(CacheDir())
	if err != nil {
		return err
	}
	return store.Clear()
}

// Bind records an artifact in the given manifest. See [Client.Bind].
func Bind(manifestPath, name, treeDigest string, downloads []manifest.Download, opts ...manifest.BindOption) error {
	c, err := sharedClient(manifestPath)
	if err != nil {
		return err
	}
	return c.Bind(name, treeDigest, downloads, opts...)
}

// Unbind removes an artifact from the given manifest. See [Client.Unbind].
func Unbind(manifestPath, name string) error {
	c, err := sharedClient(manifestPath)
	if err != nil {
		return err
	}
	return c.Unbind(name)
}

// AddDownload appends a mirror to an artifact in the given manifest. See
// [Client.AddDownload].
func AddDownload(manifestPath, name, url, sha256 string) error {
	c, err := sharedClient(manifestPath)
	if err != nil {
		return err
	}
	return c.AddDownload(name, url, sha256)
}

// AddFromURL downloads an archive and binds it in the given manifest. See
// [Client.AddFromURL].
func AddFromURL(ctx context.Context, manifestPath, name, url string, opts ...manifest.BindOption) error {
	c, err := sharedClient(manifestPath)
	if err != nil {
		return err
	}
	return c.AddFromURL(ctx, name, url, opts...)
}
