package download

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
)

// HTTP fetches archives over plain HTTP or HTTPS.
type HTTP struct {
	client  *nethttp.Client
	headers nethttp.Header
	tempDir string
}

// HTTPOption configures an HTTP source.
type HTTPOption func(*HTTP)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) HTTPOption {
	return func(h *HTTP) {
		h.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) HTTPOption {
	return func(h *HTTP) {
		if headers == nil {
			return
		}
		h.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTP) {
		if h.headers == nil {
			h.headers = make(nethttp.Header)
		}
		h.headers.Set(key, value)
	}
}

// WithTempDir sets the directory temporary download files are created in.
// It defaults to the system temporary directory.
func WithTempDir(dir string) HTTPOption {
	return func(h *HTTP) {
		h.tempDir = dir
	}
}

// NewHTTP creates an HTTP source.
func NewHTTP(opts ...HTTPOption) *HTTP {
	h := &HTTP{
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.client == nil {
		h.client = nethttp.DefaultClient
	}
	return h
}

// Fetch downloads url into a temporary file and returns its path. The
// caller removes the file when done. Connection errors, non-success
// statuses, and truncated bodies all wrap ErrNetwork.
func (h *HTTP) Fetch(ctx context.Context, url string) (string, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	for key, values := range h.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %s returned status %d", ErrNetwork, url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(h.tempDir, "artifact-download-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: reading %s: %v", ErrNetwork, url, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
