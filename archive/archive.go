// Package archive packs directories into tar archives and unpacks them
// again, with pluggable compression. Executable bits and symbolic links
// survive the round trip, which the tree digest depends on.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// ErrDecompression is returned when an archive cannot be decoded.
var ErrDecompression = errors.New("archive: decompression failed")

// Magic bytes used to auto-detect the codec on unpack.
var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicXz   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// Pack archives the directory at srcDir into a single file at dstPath using
// the given compression. Entries are stored under the directory's base name
// (archiving /data/model yields model/... paths) and written in lexical
// walk order with zeroed timestamps and ownership, so packing the same tree
// twice produces identical archives.
func Pack(srcDir, dstPath string, compression Compression) error {
	info, err := os.Stat(srcDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("archive: %s is not a directory", srcDir)
	}

	out, err := os.Create(dstPath)
	if err != nil {
		return err
	}

	cw, err := compressWriter(out, compression)
	if err != nil {
		out.Close()
		_ = os.Remove(dstPath)
		return err
	}

	tw := tar.NewWriter(cw)
	base := filepath.Base(filepath.Clean(srcDir))

	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		name := base
		if rel != "." {
			name = base + "/" + filepath.ToSlash(rel)
		}
		return writeEntry(tw, path, name, d)
	})

	// Close innermost first so everything is flushed before the file
	// closes.
	closeErr := tw.Close()
	if err := closeCompressor(cw, out); closeErr == nil {
		closeErr = err
	}
	if err := out.Close(); closeErr == nil {
		closeErr = err
	}

	if walkErr != nil {
		_ = os.Remove(dstPath)
		return walkErr
	}
	if closeErr != nil {
		_ = os.Remove(dstPath)
		return closeErr
	}
	return nil
}

// writeEntry emits one tar entry for a walked path.
func writeEntry(tw *tar.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		link, err = os.Readlink(path)
		if err != nil {
			return err
		}
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	// Tree digests ignore timestamps and ownership; zero them so archive
	// bytes are reproducible too.
	hdr.ModTime = time.Unix(0, 0)
	hdr.AccessTime = time.Time{}
	hdr.ChangeTime = time.Time{}
	hdr.Uid = 0
	hdr.Gid = 0
	hdr.Uname = ""
	hdr.Gname = ""

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("archiving %s: %w", name, err)
	}
	return nil
}

// Unpack extracts the archive at archivePath into dstDir, detecting the
// compression codec from the archive's leading bytes. File modes and
// symbolic links are restored; entries that would escape dstDir are
// rejected.
func Unpack(archivePath, dstDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return err
	}
	rootAbs, err := filepath.Abs(filepath.Clean(dstDir))
	if err != nil {
		return err
	}

	br := bufio.NewReader(f)
	cr, err := decompressReader(br)
	if err != nil {
		return err
	}
	defer cr.Close()

	tr := tar.NewReader(cr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecompression, err)
		}
		if err := extractEntry(tr, hdr, rootAbs); err != nil {
			return err
		}
	}
}

// extractEntry materializes a single tar entry under rootAbs.
func extractEntry(tr *tar.Reader, hdr *tar.Header, rootAbs string) error {
	switch hdr.Typeflag {
	case tar.TypeXGlobalHeader, tar.TypeXHeader:
		return nil
	}

	path, err := safeJoin(rootAbs, hdr.Name)
	if err != nil {
		return err
	}
	mode := hdr.FileInfo().Mode().Perm()

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(path, mode); err != nil {
			return err
		}
		return os.Chmod(path, mode)

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("%w: extracting %s: %v", ErrDecompression, hdr.Name, err)
		}
		if err := out.Close(); err != nil {
			return err
		}
		// Override in case the process umask narrowed the create mode.
		return os.Chmod(path, mode)

	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.RemoveAll(path); err != nil {
			return err
		}
		return os.Symlink(hdr.Linkname, path)

	case tar.TypeLink:
		target, err := safeJoin(rootAbs, hdr.Linkname)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		return os.Link(target, path)

	default:
		return fmt.Errorf("archive: unsupported tar entry type %q for %s", hdr.Typeflag, hdr.Name)
	}
}

// safeJoin joins name under rootAbs and rejects names that resolve outside
// of it.
func safeJoin(rootAbs, name string) (string, error) {
	joined := filepath.Join(rootAbs, filepath.FromSlash(name))
	abs, err := filepath.Abs(filepath.Clean(joined))
	if err != nil {
		return "", err
	}
	if abs != rootAbs && !strings.HasPrefix(abs, rootAbs+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive: entry %q escapes extraction directory", name)
	}
	return abs, nil
}

// compressWriter wraps w in the requested codec.
func compressWriter(w io.Writer, compression Compression) (io.Writer, error) {
	switch compression {
	case CompressionNone:
		return w, nil
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionZstd:
		return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	case CompressionXz:
		zw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("archive: creating xz writer: %w", err)
		}
		return zw, nil
	default:
		return nil, fmt.Errorf("archive: unknown compression %d", compression)
	}
}

// closeCompressor closes the codec writer if it is distinct from the
// underlying file.
func closeCompressor(cw io.Writer, underlying io.Writer) error {
	if cw == underlying {
		return nil
	}
	if c, ok := cw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// decompressReader sniffs the codec from the stream's magic bytes and
// returns a reader producing the raw tar stream.
func decompressReader(br *bufio.Reader) (io.ReadCloser, error) {
	head, err := br.Peek(len(magicXz))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}

	switch {
	case bytes.HasPrefix(head, magicGzip):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
		}
		return zr, nil

	case bytes.HasPrefix(head, magicZstd):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
		}
		return zr.IOReadCloser(), nil

	case bytes.HasPrefix(head, magicXz):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
		}
		return readCloser{Reader: xr}, nil

	default:
		return readCloser{Reader: br}, nil
	}
}

// readCloser adds a no-op Close to readers that do not need one.
type readCloser struct {
	io.Reader
}

func (readCloser) Close() error { return nil }
