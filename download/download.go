// Package download retrieves artifact archives from remote mirrors into
// local temporary files. The HTTP source covers http and https URLs; the
// OCI source covers oci:// references to registry-hosted archives.
package download

import (
	"context"
	"errors"
	"strings"
)

// ErrNetwork is returned when a transfer fails for transport reasons:
// connection failure, non-success status, or a short read.
var ErrNetwork = errors.New("download: network failure")

// SchemeOCI prefixes references resolved through an OCI registry instead of
// plain HTTP, e.g. oci://ghcr.io/org/data:v1.
const SchemeOCI = "oci://"

// Source fetches a URL into a temporary file on local disk and returns its
// path. The caller owns the file and removes it when done.
type Source interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Auto dispatches fetches by URL scheme: oci:// references go to an OCI
// source, everything else to an HTTP source.
type Auto struct {
	http *HTTP
	oci  *OCI
}

// NewAuto creates a dispatching source with default HTTP and OCI backends.
func NewAuto(httpOpts []HTTPOption, ociOpts []OCIOption) *Auto {
	return &Auto{
		http: NewHTTP(httpOpts...),
		oci:  NewOCI(ociOpts...),
	}
}

// Fetch retrieves url via the backend matching its scheme.
func (a *Auto) Fetch(ctx context.Context, url string) (string, error) {
	if strings.HasPrefix(url, SchemeOCI) {
		return a.oci.Fetch(ctx, url)
	}
	return a.http.Fetch(ctx, url)
}
