package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/retry"
)

// OCI fetches archives published as single-layer OCI artifacts. A URL of
// the form oci://registry/repo:tag resolves the manifest at that reference
// and downloads its first layer.
type OCI struct {
	plainHTTP  bool
	anonymous  bool
	userAgent  string
	tempDir    string
	credStore  credentials.Store
	authClient *auth.Client
}

// OCIOption configures an OCI source.
type OCIOption func(*OCI)

// WithPlainHTTP uses HTTP instead of HTTPS for registry requests. Intended
// for local registries and tests.
func WithPlainHTTP(plain bool) OCIOption {
	return func(o *OCI) {
		o.plainHTTP = plain
	}
}

// WithAnonymous skips credential lookup entirely.
func WithAnonymous() OCIOption {
	return func(o *OCI) {
		o.anonymous = true
	}
}

// WithCredentialStore sets the credential store consulted per registry
// host. Without one, requests are anonymous.
func WithCredentialStore(store credentials.Store) OCIOption {
	return func(o *OCI) {
		o.credStore = store
	}
}

// WithOCITempDir sets the directory temporary download files are created
// in. It defaults to the system temporary directory.
func WithOCITempDir(dir string) OCIOption {
	return func(o *OCI) {
		o.tempDir = dir
	}
}

// NewOCI creates an OCI source.
func NewOCI(opts ...OCIOption) *OCI {
	o := &OCI{
		userAgent: "artifact-client/1.0",
	}
	for _, opt := range opts {
		opt(o)
	}

	// Shared auth client so tokens are reused across requests.
	o.authClient = &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
		Credential: func(ctx context.Context, hostport string) (auth.Credential, error) {
			if o.anonymous || o.credStore == nil {
				return auth.EmptyCredential, nil
			}
			return o.credStore.Get(ctx, hostport)
		},
		Header: nethttp.Header{
			"User-Agent": []string{o.userAgent},
		},
	}
	return o
}

// Fetch resolves an oci:// reference and downloads its archive layer into
// a temporary file, returning the file's path.
func (o *OCI) Fetch(ctx context.Context, url string) (string, error) {
	ref := strings.TrimPrefix(url, SchemeOCI)

	repo, err := remote.NewRepository(ref)
	if err != nil {
		return "", fmt.Errorf("parse reference %q: %w", ref, err)
	}
	repo.PlainHTTP = o.plainHTTP
	repo.Client = o.authClient

	layer, err := o.resolveLayer(ctx, repo, ref)
	if err != nil {
		return "", err
	}

	rc, err := repo.Fetch(ctx, layer)
	if err != nil {
		return "", fmt.Errorf("%w: fetching layer from %s: %v", ErrNetwork, ref, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(o.tempDir, "artifact-download-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: reading layer from %s: %v", ErrNetwork, ref, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// resolveLayer fetches the manifest at ref and returns the descriptor of
// the archive layer.
func (o *OCI) resolveLayer(ctx context.Context, repo *remote.Repository, ref string) (ocispec.Descriptor, error) {
	desc, rc, err := repo.FetchReference(ctx, ref)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: resolving %s: %v", ErrNetwork, ref, err)
	}
	defer rc.Close()

	if desc.MediaType != ocispec.MediaTypeImageManifest {
		return ocispec.Descriptor{}, fmt.Errorf("unsupported manifest media type %q for %s", desc.MediaType, ref)
	}

	var manifest ocispec.Manifest
	if err := json.NewDecoder(rc).Decode(&manifest); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("decode manifest for %s: %w", ref, err)
	}
	if len(manifest.Layers) == 0 {
		return ocispec.Descriptor{}, fmt.Errorf("manifest for %s has no layers", ref)
	}
	return manifest.Layers[0], nil
}
