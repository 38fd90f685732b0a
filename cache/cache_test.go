package cache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/meigma/artifact/cache"
)

const testDigest = "6b3f1b6c5d4096945b03a678748205e291712873"

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	s, err := cache.New(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

// stage creates a staging directory holding one file.
func stage(t *testing.T, s *cache.Store) string {
	t.Helper()
	dir, err := s.TempDir()
	if err != nil {
		t.Fatalf("TempDir() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "data.bin"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestResolveAbsent(t *testing.T) {
	s := newStore(t)
	if _, ok := s.Resolve(testDigest); ok {
		t.Fatal("Resolve() reported an absent digest as present")
	}
}

func TestResolveEmptyDir(t *testing.T) {
	s := newStore(t)
	if err := os.MkdirAll(s.Path(testDigest), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Resolve(testDigest); ok {
		t.Fatal("Resolve() reported an empty directory as present")
	}
}

func TestPublishAndResolve(t *testing.T) {
	s := newStore(t)
	staging := stage(t, s)

	if err := s.Publish(testDigest, staging); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	path, ok := s.Resolve(testDigest)
	if !ok {
		t.Fatal("Resolve() missed a published digest")
	}
	if path != s.Path(testDigest) {
		t.Fatalf("Resolve() = %s, want %s", path, s.Path(testDigest))
	}
	content, err := os.ReadFile(filepath.Join(path, "data.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "payload" {
		t.Fatalf("published content = %q, want %q", content, "payload")
	}

	// The staging directory moved away.
	if _, err := os.Stat(staging); !os.IsNotExist(err) {
		t.Fatalf("staging directory still present: %v", err)
	}
}

func TestPublishLosesRace(t *testing.T) {
	s := newStore(t)

	first := stage(t, s)
	if err := s.Publish(testDigest, first); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// A second publish of the same digest is a benign no-op.
	second := stage(t, s)
	if err := s.Publish(testDigest, second); err != nil {
		t.Fatalf("second Publish() error = %v", err)
	}
	if _, err := os.Stat(second); !os.IsNotExist(err) {
		t.Fatal("losing staging directory was not discarded")
	}
	if _, ok := s.Resolve(testDigest); !ok {
		t.Fatal("digest no longer resolvable after second publish")
	}
}

func TestPublishInvalidDigest(t *testing.T) {
	s := newStore(t)
	staging := stage(t, s)
	if err := s.Publish("../escape", staging); err == nil {
		t.Fatal("Publish() accepted an invalid digest")
	}
}

func TestRemoveIdempotent(t *testing.T) {
	s := newStore(t)
	staging := stage(t, s)
	if err := s.Publish(testDigest, staging); err != nil {
		t.Fatal(err)
	}

	if err := s.Remove(testDigest); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok := s.Resolve(testDigest); ok {
		t.Fatal("digest still resolvable after Remove()")
	}
	if err := s.Remove(testDigest); err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}
}

func TestClear(t *testing.T) {
	s := newStore(t)
	if err := s.Publish(testDigest, stage(t, s)); err != nil {
		t.Fatal(err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok := s.Resolve(testDigest); ok {
		t.Fatal("digest resolvable after Clear()")
	}

	// The root survives for subsequent use.
	if _, err := os.Stat(s.Root()); err != nil {
		t.Fatalf("root missing after Clear(): %v", err)
	}
}

func TestDefaultRoot(t *testing.T) {
	root := cache.DefaultRoot()
	if root == "" {
		t.Fatal("DefaultRoot() returned empty path")
	}
	if filepath.Base(root) != "artifact" && filepath.Base(root) != ".artifact" {
		t.Fatalf("DefaultRoot() = %s", root)
	}
}
