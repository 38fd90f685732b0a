package artifact_test

import (
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/artifact"
	"github.com/meigma/artifact/archive"
	"github.com/meigma/artifact/digest"
	"github.com/meigma/artifact/manifest"
)

// fixture builds a payload directory and returns it with its tree digest.
func fixture(t *testing.T) (string, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "model"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model", "weights.bin"), []byte("weights\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("payload fixture\n"), 0o644))

	tree, err := digest.Tree(dir)
	require.NoError(t, err)
	return dir, tree
}

// pack archives dir and returns the archive bytes with their checksum.
func pack(t *testing.T, dir string) ([]byte, string) {
	t.Helper()
	archivePath := filepath.Join(t.TempDir(), "payload.tar.gz")
	require.NoError(t, archive.Pack(dir, archivePath, archive.CompressionGzip))

	data, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	sha, err := digest.File(archivePath)
	require.NoError(t, err)
	return data, sha
}

// serve exposes body over HTTP and counts requests.
func serve(t *testing.T, body []byte) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		hits.Add(1)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newClient(t *testing.T, manifestPath string) *artifact.Client {
	t.Helper()
	c, err := artifact.NewClient(
		artifact.WithManifestPath(manifestPath),
		artifact.WithCacheDir(t.TempDir()),
	)
	require.NoError(t, err)
	return c
}

func bind(t *testing.T, c *artifact.Client, name, tree string, downloads ...manifest.Download) {
	t.Helper()
	require.NoError(t, c.Bind(name, tree, downloads))
}

func TestResolveDownloadsAndCaches(t *testing.T) {
	dir, tree := fixture(t)
	data, sha := pack(t, dir)
	srv, hits := serve(t, data)

	c := newClient(t, filepath.Join(t.TempDir(), "Artifacts.toml"))
	bind(t, c, "Payload", tree, manifest.Download{URL: srv.URL + "/payload.tar.gz", SHA256: sha})

	path, err := c.Resolve(context.Background(), "Payload")
	require.NoError(t, err)
	assert.True(t, strings.Contains(path, tree), "cache path should be digest-addressed")

	content, err := os.ReadFile(filepath.Join(path, "model", "weights.bin"))
	require.NoError(t, err)
	assert.Equal(t, "weights\n", string(content))

	// Cached: no further network traffic.
	assert.True(t, c.Exists("Payload"))
	again, err := c.Resolve(context.Background(), "Payload")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.EqualValues(t, 1, hits.Load())

	got, ok := c.Path("Payload")
	require.True(t, ok)
	assert.Equal(t, path, got)
}

func TestResolveFallsBackToMirror(t *testing.T) {
	dir, tree := fixture(t)
	data, sha := pack(t, dir)

	bad := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.Error(w, "unavailable", nethttp.StatusServiceUnavailable)
	}))
	defer bad.Close()
	good, hits := serve(t, data)

	c := newClient(t, filepath.Join(t.TempDir(), "Artifacts.toml"))
	bind(t, c, "Payload", tree,
		manifest.Download{URL: bad.URL + "/payload.tar.gz", SHA256: sha},
		manifest.Download{URL: good.URL + "/payload.tar.gz", SHA256: sha},
	)

	_, err := c.Resolve(context.Background(), "Payload")
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestResolveChecksumMismatchFallsThrough(t *testing.T) {
	dir, tree := fixture(t)
	data, sha := pack(t, dir)

	corrupt, _ := serve(t, []byte("not the archive"))
	good, _ := serve(t, data)

	c := newClient(t, filepath.Join(t.TempDir(), "Artifacts.toml"))
	bind(t, c, "Payload", tree,
		manifest.Download{URL: corrupt.URL + "/payload.tar.gz", SHA256: sha},
		manifest.Download{URL: good.URL + "/payload.tar.gz", SHA256: sha},
	)

	_, err := c.Resolve(context.Background(), "Payload")
	require.NoError(t, err)
	assert.True(t, c.Exists("Payload"))
}

func TestResolveContentMismatchIsFatal(t *testing.T) {
	dir, _ := fixture(t)
	data, sha := pack(t, dir)
	srv, hits := serve(t, data)

	// Pin a tree digest the archive cannot produce.
	wrongTree := strings.Repeat("a", 40)

	c := newClient(t, filepath.Join(t.TempDir(), "Artifacts.toml"))
	bind(t, c, "Payload", wrongTree,
		manifest.Download{URL: srv.URL + "/payload.tar.gz", SHA256: sha},
		manifest.Download{URL: srv.URL + "/mirror.tar.gz", SHA256: sha},
	)

	_, err := c.Resolve(context.Background(), "Payload")
	require.ErrorIs(t, err, artifact.ErrContentMismatch)

	// No mirror fallback and nothing published.
	assert.EqualValues(t, 1, hits.Load())
	assert.False(t, c.Exists("Payload"))
}

func TestResolveNoSources(t *testing.T) {
	_, tree := fixture(t)
	c := newClient(t, filepath.Join(t.TempDir(), "Artifacts.toml"))
	bind(t, c, "Pinned", tree)

	_, err := c.Resolve(context.Background(), "Pinned")
	assert.ErrorIs(t, err, artifact.ErrNoSources)
}

func TestResolveAllSourcesFailed(t *testing.T) {
	dir, tree := fixture(t)
	_, sha := pack(t, dir)

	bad := httptest.NewServer(nethttp.NotFoundHandler())
	defer bad.Close()

	c := newClient(t, filepath.Join(t.TempDir(), "Artifacts.toml"))
	bind(t, c, "Payload", tree,
		manifest.Download{URL: bad.URL + "/a.tar.gz", SHA256: sha},
		manifest.Download{URL: bad.URL + "/b.tar.gz", SHA256: sha},
	)

	_, err := c.Resolve(context.Background(), "Payload")
	var all *artifact.AllSourcesFailedError
	require.ErrorAs(t, err, &all)
	assert.Equal(t, "Payload", all.Name)
	assert.Len(t, all.Attempts, 2)
	assert.ErrorIs(t, err, artifact.ErrNetwork)
}

func TestResolveUnknownName(t *testing.T) {
	c := newClient(t, filepath.Join(t.TempDir(), "Artifacts.toml"))
	_, err := c.Resolve(context.Background(), "Ghost")
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestResolveConcurrent(t *testing.T) {
	dir, tree := fixture(t)
	data, sha := pack(t, dir)
	srv, hits := serve(t, data)

	c := newClient(t, filepath.Join(t.TempDir(), "Artifacts.toml"))
	bind(t, c, "Payload", tree, manifest.Download{URL: srv.URL + "/payload.tar.gz", SHA256: sha})

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Resolve(context.Background(), "Payload")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, hits.Load(), "concurrent resolves should share one download")
}

func TestResolveAll(t *testing.T) {
	dir, tree := fixture(t)
	data, sha := pack(t, dir)
	srv, hits := serve(t, data)

	c := newClient(t, filepath.Join(t.TempDir(), "Artifacts.toml"))
	require.NoError(t, c.Bind("Eager", tree,
		[]manifest.Download{{URL: srv.URL + "/payload.tar.gz", SHA256: sha}},
		manifest.BindWithLazy(false),
	))
	require.NoError(t, c.Bind("Lazy", tree,
		[]manifest.Download{{URL: srv.URL + "/payload.tar.gz", SHA256: sha}},
	))

	require.NoError(t, c.ResolveAll(context.Background()))
	assert.EqualValues(t, 1, hits.Load(), "lazy entries should not download")
	assert.True(t, c.Exists("Eager"))
}

func TestClearCache(t *testing.T) {
	dir, tree := fixture(t)
	data, sha := pack(t, dir)
	srv, hits := serve(t, data)

	c := newClient(t, filepath.Join(t.TempDir(), "Artifacts.toml"))
	bind(t, c, "Payload", tree, manifest.Download{URL: srv.URL + "/payload.tar.gz", SHA256: sha})

	_, err := c.Resolve(context.Background(), "Payload")
	require.NoError(t, err)

	require.NoError(t, c.ClearCache("Payload"))
	assert.False(t, c.Exists("Payload"))

	_, err = c.Resolve(context.Background(), "Payload")
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())

	assert.ErrorIs(t, c.ClearCache("Ghost"), artifact.ErrNotFound)
}

func TestAddFromURL(t *testing.T) {
	dir, tree := fixture(t)
	data, sha := pack(t, dir)
	srv, _ := serve(t, data)
	url := srv.URL + "/payload.tar.gz"

	manifestPath := filepath.Join(t.TempDir(), "Artifacts.toml")
	c := newClient(t, manifestPath)
	require.NoError(t, c.AddFromURL(context.Background(), "Payload", url))

	m, err := manifest.Load(manifestPath)
	require.NoError(t, err)
	e, ok := m.Get("Payload")
	require.True(t, ok)
	assert.Equal(t, tree, e.TreeDigest)
	require.Len(t, e.Downloads, 1)
	assert.Equal(t, url, e.Downloads[0].URL)
	assert.Equal(t, sha, e.Downloads[0].SHA256)

	// The recorded digests must be resolvable as-is.
	_, err = c.Resolve(context.Background(), "Payload")
	require.NoError(t, err)
}

func TestAddFromURLRejectsNonArchive(t *testing.T) {
	srv, _ := serve(t, []byte("<html>not found</html>"))

	c := newClient(t, filepath.Join(t.TempDir(), "Artifacts.toml"))
	err := c.AddFromURL(context.Background(), "Payload", srv.URL+"/oops")
	require.Error(t, err)
}

func TestCreate(t *testing.T) {
	dir, tree := fixture(t)

	archivePath := filepath.Join(t.TempDir(), "out.tar.zst")
	info, err := artifact.Create(dir, archivePath, artifact.CompressionZstd)
	require.NoError(t, err)
	assert.Equal(t, tree, info.TreeDigest)
	assert.Equal(t, archivePath, info.ArchivePath)

	sha, err := digest.File(archivePath)
	require.NoError(t, err)
	assert.Equal(t, sha, info.SHA256)

	// The archive round-trips to the pinned tree.
	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, archive.Unpack(archivePath, out))
	got, err := digest.Tree(filepath.Join(out, "payload"))
	require.NoError(t, err)
	assert.Equal(t, tree, got)
}

func TestResolveReportsProgress(t *testing.T) {
	dir, tree := fixture(t)
	data, sha := pack(t, dir)
	srv, _ := serve(t, data)

	var mu sync.Mutex
	var stages []artifact.ProgressStage
	c, err := artifact.NewClient(
		artifact.WithManifestPath(filepath.Join(t.TempDir(), "Artifacts.toml")),
		artifact.WithCacheDir(t.TempDir()),
		artifact.WithProgress(func(ev artifact.ProgressEvent) {
			mu.Lock()
			stages = append(stages, ev.Stage)
			mu.Unlock()
		}),
	)
	require.NoError(t, err)
	bind(t, c, "Payload", tree, manifest.Download{URL: srv.URL + "/payload.tar.gz", SHA256: sha})

	_, err = c.Resolve(context.Background(), "Payload")
	require.NoError(t, err)

	assert.Equal(t, []artifact.ProgressStage{
		artifact.StageDownloading,
		artifact.StageVerifyingBytes,
		artifact.StageExtracting,
		artifact.StageVerifyingTree,
		artifact.StagePublished,
	}, stages)

	// Cache hits emit nothing.
	stages = nil
	_, err = c.Resolve(context.Background(), "Payload")
	require.NoError(t, err)
	assert.Empty(t, stages)
}

func TestPackageLevelResolve(t *testing.T) {
	dir, tree := fixture(t)
	data, sha := pack(t, dir)
	srv, _ := serve(t, data)

	artifact.SetCacheDir(t.TempDir())
	t.Cleanup(func() { artifact.SetCacheDir("") })

	manifestPath := filepath.Join(t.TempDir(), "Artifacts.toml")
	m := manifest.New(manifestPath)
	require.NoError(t, m.Bind("Payload", tree,
		[]manifest.Download{{URL: srv.URL + "/payload.tar.gz", SHA256: sha}}))
	require.NoError(t, m.Save())

	path, err := artifact.Resolve(context.Background(), manifestPath, "Payload")
	require.NoError(t, err)
	assert.True(t, artifact.Exists(manifestPath, "Payload"))

	require.NoError(t, artifact.ClearCache(manifestPath, "Payload"))
	assert.False(t, artifact.Exists(manifestPath, "Payload"))
	_, ok := artifact.Path(manifestPath, "Payload")
	assert.False(t, ok)
	_ = path
}
