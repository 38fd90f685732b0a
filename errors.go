package artifact

import (
	"errors"
	"fmt"
	"strings"

	"github.com/meigma/artifact/archive"
	"github.com/meigma/artifact/cache"
	"github.com/meigma/artifact/digest"
	"github.com/meigma/artifact/download"
	"github.com/meigma/artifact/manifest"
)

// Errors re-exported from subpackages.
var (
	// ErrChecksumMismatch is returned when archive bytes do not match their
	// expected SHA-256 checksum.
	ErrChecksumMismatch = digest.ErrChecksumMismatch

	// ErrUnsupportedEntry is returned when a tree contains an entry type
	// that cannot be hashed, such as a device node or socket.
	ErrUnsupportedEntry = digest.ErrUnsupportedEntry

	// ErrDecompression is returned when an archive cannot be decoded.
	ErrDecompression = archive.ErrDecompression

	// ErrCacheWrite is returned when the cache cannot be written to.
	ErrCacheWrite = cache.ErrCacheWrite

	// ErrParse is returned when the manifest cannot be parsed.
	ErrParse = manifest.ErrParse

	// ErrNotFound is returned when the manifest has no entry for a name.
	ErrNotFound = manifest.ErrNotFound

	// ErrDuplicate is returned when binding a name that is already bound.
	ErrDuplicate = manifest.ErrDuplicate

	// ErrNetwork is returned when a download fails for transport reasons.
	ErrNetwork = download.ErrNetwork
)

// ErrContentMismatch is returned when an extracted tree does not match the
// manifest's pinned tree digest even though the archive bytes verified.
// This is fatal for the fetch: every mirror pinning the same checksum
// would extract to the same tree, so no fallback is attempted.
var ErrContentMismatch = errors.New("artifact: extracted tree does not match pinned digest")

// ErrNoSources is returned when an artifact must be downloaded but its
// manifest entry lists no download sources.
var ErrNoSources = errors.New("artifact: no download sources")

// AllSourcesFailedError is returned when every download source for an
// artifact failed. Attempts holds one error per source, in manifest order.
type AllSourcesFailedError struct {
	Name     string
	Attempts []error
}

func (e *AllSourcesFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "artifact: all %d sources failed for %q", len(e.Attempts), e.Name)
	for _, attempt := range e.Attempts {
		b.WriteString("\n  ")
		b.WriteString(attempt.Error())
	}
	return b.String()
}

// Unwrap exposes the per-source errors for errors.Is and errors.As.
func (e *AllSourcesFailedError) Unwrap() []error {
	return e.Attempts
}
