package artifact

import (
	"log/slog"
	nethttp "net/http"

	"oras.land/oras-go/v2/registry/remote/credentials"

	"github.com/meigma/artifact/download"
)

// Option configures a Client.
type Option func(*Client) error

// WithManifestPath sets the manifest file the client reads and writes.
func WithManifestPath(path string) Option {
	return func(c *Client) error {
		c.manifestPath = path
		return nil
	}
}

// WithCacheDir sets the root directory of the content cache.
func WithCacheDir(dir string) Option {
	return func(c *Client) error {
		c.cacheRoot = dir
		return nil
	}
}

// WithHTTPClient sets the HTTP client used for downloads.
func WithHTTPClient(client *nethttp.Client) Option {
	return func(c *Client) error {
		c.httpOpts = append(c.httpOpts, download.WithClient(client))
		return nil
	}
}

// WithHeader adds a header to every HTTP download request. Useful for
// mirrors behind token authentication.
func WithHeader(key, value string) Option {
	return func(c *Client) error {
		c.httpOpts = append(c.httpOpts, download.WithHeader(key, value))
		return nil
	}
}

// WithDockerConfig reads registry credentials from ~/.docker/config.json
// for oci:// downloads.
func WithDockerConfig() Option {
	return func(c *Client) error {
		store, err := credentials.NewStoreFromDocker(credentials.StoreOptions{})
		if err != nil {
			return err
		}
		c.ociOpts = append(c.ociOpts, download.WithCredentialStore(store))
		return nil
	}
}

// WithPlainHTTP uses plain HTTP for oci:// downloads. Intended for local
// development registries.
func WithPlainHTTP(enabled bool) Option {
	return func(c *Client) error {
		c.ociOpts = append(c.ociOpts, download.WithPlainHTTP(enabled))
		return nil
	}
}

// WithSource replaces the download source entirely. The source is handed
// every download URL regardless of scheme.
func WithSource(source download.Source) Option {
	return func(c *Client) error {
		c.source = source
		return nil
	}
}

// WithProgress sets a callback receiving fetch progress events.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Client) error {
		c.progress = fn
		return nil
	}
}

// WithLogger sets a logger for the client. If nil, logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}
