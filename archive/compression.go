package archive

import "fmt"

// Compression identifies the codec applied to a tar stream.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
	CompressionXz
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionXz:
		return "xz"
	default:
		return "unknown"
	}
}

// Ext returns the conventional archive filename extension for the codec.
func (c Compression) Ext() string {
	switch c {
	case CompressionGzip:
		return ".tar.gz"
	case CompressionZstd:
		return ".tar.zst"
	case CompressionXz:
		return ".tar.xz"
	default:
		return ".tar"
	}
}

// ParseCompression maps a codec identifier to a Compression. Accepted
// identifiers: "none" (or empty), "gzip"/"gz", "zstd"/"zst", "xz".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	case "xz":
		return CompressionXz, nil
	default:
		return CompressionNone, fmt.Errorf("archive: unknown compression %q", s)
	}
}
