// Package digest computes the two digests that identify artifact content:
// a SHA-256 digest of raw archive bytes and a git-compatible SHA-1 tree
// digest of an extracted directory.
//
// The tree digest reproduces `git write-tree` over the directory contents.
// It depends only on file bytes, entry names, and the executable bit, so the
// same tree produces the same digest on any machine. That stability is what
// makes it usable as a cache key.
package digest

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	godigest "github.com/opencontainers/go-digest"
)

// Sentinel errors.
var (
	// ErrChecksumMismatch is returned when file bytes do not match the
	// expected SHA-256 digest.
	ErrChecksumMismatch = errors.New("digest: checksum mismatch")

	// ErrUnsupportedEntry is returned when a tree walk encounters a
	// filesystem entry that has no git object representation (sockets,
	// devices, FIFOs).
	ErrUnsupportedEntry = errors.New("digest: unsupported directory entry")
)

// copyBufSize bounds memory while hashing arbitrarily large files.
const copyBufSize = 64 * 1024

// File computes the SHA-256 digest of the file at path, returned as 64
// lowercase hex characters.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digester := godigest.SHA256.Digester()
	buf := make([]byte, copyBufSize)
	if _, err := io.CopyBuffer(digester.Hash(), f, buf); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return digester.Digest().Encoded(), nil
}

// Verify checks that the file at path has the expected SHA-256 digest.
// The comparison is case-insensitive. Returns ErrChecksumMismatch on
// difference.
func Verify(path, expected string) error {
	actual, err := File(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: %s has sha256 %s, want %s", ErrChecksumMismatch, filepath.Base(path), actual, expected)
	}
	return nil
}

// Tree computes the git tree digest of the directory at dir, returned as 40
// lowercase hex characters. The result matches `git write-tree` on a clean
// checkout of the same content: regular files become blob entries with mode
// 100644 (100755 when owner-executable), symlinks become 120000 entries
// whose blob is the link target, and subdirectories become 40000 tree
// entries hashed post-order. Directories that contain no hashable entries
// are omitted, as git omits empty trees. Entries named ".git" are skipped.
func Tree(dir string) (string, error) {
	info, err := os.Lstat(dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("digest: %s is not a directory", dir)
	}
	sum, n, err := treeObject(dir)
	if err != nil {
		return "", err
	}
	if n == 0 {
		// The hash of the empty tree object, for callers that ask.
		sum = sha1.Sum([]byte("tree 0\x00"))
	}
	return fmt.Sprintf("%x", sum), nil
}

// treeEntry is one record of a tree object before serialization.
type treeEntry struct {
	mode string
	name string
	sum  [sha1.Size]byte
}

// sortKey implements git's ordering rule: directory names compare as if a
// trailing slash were appended.
func (e treeEntry) sortKey() string {
	if e.mode == "40000" {
		return e.name + "/"
	}
	return e.name
}

// treeObject hashes the directory at dir and reports how many entries the
// resulting tree object holds. Zero entries means the directory is invisible
// to git and the caller must not record it.
func treeObject(dir string) ([sha1.Size]byte, int, error) {
	var zero [sha1.Size]byte

	dirents, err := os.ReadDir(dir)
	if err != nil {
		return zero, 0, err
	}

	entries := make([]treeEntry, 0, len(dirents))
	for _, d := range dirents {
		name := d.Name()
		if name == ".git" {
			continue
		}
		full := filepath.Join(dir, name)
		info, err := d.Info()
		if err != nil {
			return zero, 0, err
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return zero, 0, err
			}
			entries = append(entries, treeEntry{
				mode: "120000",
				name: name,
				sum:  blobSum([]byte(target)),
			})

		case info.IsDir():
			sum, n, err := treeObject(full)
			if err != nil {
				return zero, 0, err
			}
			if n == 0 {
				continue
			}
			entries = append(entries, treeEntry{mode: "40000", name: name, sum: sum})

		case info.Mode().IsRegular():
			mode := "100644"
			if info.Mode()&0o100 != 0 {
				mode = "100755"
			}
			sum, err := blobSumFile(full, info.Size())
			if err != nil {
				return zero, 0, err
			}
			entries = append(entries, treeEntry{mode: mode, name: name, sum: sum})

		default:
			return zero, 0, fmt.Errorf("%w: %s (%s)", ErrUnsupportedEntry, full, info.Mode())
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].sortKey() < entries[j].sortKey()
	})

	var body []byte
	for _, e := range entries {
		body = append(body, e.mode...)
		body = append(body, ' ')
		body = append(body, e.name...)
		body = append(body, 0)
		body = append(body, e.sum[:]...)
	}

	h := sha1.New()
	fmt.Fprintf(h, "tree %d\x00", len(body))
	h.Write(body)

	var sum [sha1.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum, len(entries), nil
}

// blobSum hashes a git blob object held in memory.
func blobSum(data []byte) [sha1.Size]byte {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(data))
	h.Write(data)

	var sum [sha1.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// blobSumFile streams a file through a git blob hash without loading it
// into memory. The blob header needs the length up front, so the size from
// Lstat is trusted; a file changing size mid-hash produces a digest that
// simply fails verification downstream.
func blobSumFile(path string, size int64) ([sha1.Size]byte, error) {
	var zero [sha1.Size]byte

	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()

	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", size)
	buf := make([]byte, copyBufSize)
	if _, err := io.CopyBuffer(h, io.LimitReader(f, size), buf); err != nil {
		return zero, err
	}

	var sum [sha1.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
