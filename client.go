package artifact

import (
	"io"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/artifact/cache"
	"github.com/meigma/artifact/download"
)

// DefaultManifestName is the manifest filename looked for when no explicit
// path is configured.
const DefaultManifestName = "Artifacts.toml"

// Client resolves artifacts from a manifest into a local content cache.
//
// A Client is safe for concurrent use. Concurrent resolves of the same
// tree digest are coalesced so the archive is downloaded at most once per
// process.
type Client struct {
	manifestPath string
	cacheRoot    string
	logger       *slog.Logger
	progress     ProgressFunc

	httpOpts []download.HTTPOption
	ociOpts  []download.OCIOption
	source   download.Source

	store *cache.Store
	group singleflight.Group
}

// NewClient creates a client with the given options.
//
// Without options, the manifest is Artifacts.toml in the working directory
// and the cache lives under the user cache directory. Downloads go through
// a scheme-dispatching source covering http(s) and oci URLs.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		manifestPath: DefaultManifestName,
		cacheRoot:    cache.DefaultRoot(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	store, err := cache.New(c.cacheRoot)
	if err != nil {
		return nil, err
	}
	c.store = store

	if c.source == nil {
		c.source = download.NewAuto(c.httpOpts, c.ociOpts)
	}
	return c, nil
}

// ManifestPath returns the path of the manifest this client reads.
func (c *Client) ManifestPath() string {
	return c.manifestPath
}

// CacheDir returns the root of the content cache.
func (c *Client) CacheDir() string {
	return c.store.Root()
}

func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c.logger
}
