package artifact

import (
	"os"
	"path/filepath"

	"github.com/meigma/artifact/archive"
	"github.com/meigma/artifact/digest"
)

// Compression identifiers re-exported for callers of Create.
const (
	CompressionNone = archive.CompressionNone
	CompressionGzip = archive.CompressionGzip
	CompressionZstd = archive.CompressionZstd
	CompressionXz   = archive.CompressionXz
)

// Info describes a freshly created artifact archive: the digests a
// manifest entry needs plus where the archive was written.
type Info struct {
	TreeDigest  string
	SHA256      string
	ArchivePath string
}

// Create packs the directory at dir into an archive and computes the
// digests needed to bind it in a manifest. If archivePath is empty the
// archive is written to the system temporary directory, named after the
// directory's base name and codec.
//
// The caller uploads the archive to one or more mirrors, then binds it
// with [Client.Bind] using the returned digests.
func Create(dir, archivePath string, compression archive.Compression) (*Info, error) {
	tree, err := digest.Tree(dir)
	if err != nil {
		return nil, err
	}

	if archivePath == "" {
		base := filepath.Base(filepath.Clean(dir))
		archivePath = filepath.Join(os.TempDir(), base+compression.Ext())
	}
	if err := archive.Pack(dir, archivePath, compression); err != nil {
		return nil, err
	}

	sha, err := digest.File(archivePath)
	if err != nil {
		_ = os.Remove(archivePath)
		return nil, err
	}

	return &Info{
		TreeDigest:  tree,
		SHA256:      sha,
		ArchivePath: archivePath,
	}, nil
}
