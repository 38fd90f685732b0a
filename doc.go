// Package artifact manages large binary artifacts referenced from an
// Artifacts.toml manifest. Artifacts are downloaded on demand, verified
// against pinned digests, and installed into a shared content-addressable
// cache keyed by git tree hash.
//
// # Quick Start
//
// Resolve an artifact by name, downloading it on first use:
//
//	c, err := artifact.NewClient(artifact.WithManifestPath("Artifacts.toml"))
//	if err != nil {
//	    return err
//	}
//	path, err := c.Resolve(ctx, "TrainingData")
//	if err != nil {
//	    return err
//	}
//	// path is an immutable directory inside the cache
//
// Publish a directory as a new artifact and record it in the manifest:
//
//	info, err := artifact.Create("./data", "", artifact.CompressionZstd)
//	if err != nil {
//	    return err
//	}
//	// upload info.ArchivePath somewhere, then:
//	err = c.Bind("TrainingData", info.TreeDigest, []manifest.Download{
//	    {URL: "https://mirror.example.com/data.tar.zst", SHA256: info.SHA256},
//	})
//
// # Verification
//
// Every download is verified twice: the archive bytes against a SHA-256
// checksum, and the extracted tree against a git-compatible SHA-1 tree
// hash. A checksum failure on one mirror falls through to the next; a
// tree hash failure aborts the fetch, since identical bytes cannot
// extract differently on a retry.
package artifact
