package artifact

// ProgressEvent represents a progress update during a fetch.
type ProgressEvent struct {
	// Name is the artifact being fetched.
	Name string

	// URL is the download source currently in use, if applicable.
	URL string

	// Stage identifies the current phase of the fetch.
	Stage ProgressStage

	// BytesDone is the number of bytes completed in the current stage.
	BytesDone uint64

	// BytesTotal is the total bytes for the current stage.
	// Zero indicates the total is unknown.
	BytesTotal uint64
}

// ProgressStage identifies the current phase of a fetch.
type ProgressStage uint8

const (
	// StageDownloading indicates the archive is being downloaded.
	StageDownloading ProgressStage = iota

	// StageVerifyingBytes indicates the archive checksum is being verified.
	StageVerifyingBytes

	// StageExtracting indicates the archive is being extracted.
	StageExtracting

	// StageVerifyingTree indicates the extracted tree is being hashed.
	StageVerifyingTree

	// StagePublished indicates the artifact landed in the cache.
	StagePublished
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageDownloading:
		return "downloading"
	case StageVerifyingBytes:
		return "verifying bytes"
	case StageExtracting:
		return "extracting"
	case StageVerifyingTree:
		return "verifying tree"
	case StagePublished:
		return "published"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during fetches.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)

// notify invokes the configured progress callback, if any.
func (c *Client) notify(ev ProgressEvent) {
	if c.progress != nil {
		c.progress(ev)
	}
}
