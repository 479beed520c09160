package store

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ArtifactStore holds pipeline artifacts under slash-separated keys such as
// "video/scene_01.mp4". An artifact's presence is the only record that the
// step producing it has completed, so Write must never leave a partial
// artifact visible under its key.
type ArtifactStore interface {
	Exists(key string) bool
	Write(key string, r io.Reader) error
	ReadFile(key string) ([]byte, error)
	Remove(key string) error
	// List returns the keys in dir whose base name matches pattern
	// (path.Match syntax), sorted lexicographically.
	List(dir, pattern string) ([]string, error)
	// Path returns a location usable by local tools for the key.
	Path(key string) string
}

// WriteBytes stores data under key.
func WriteBytes(s ArtifactStore, key string, data []byte) error {
	return s.Write(key, bytes.NewReader(data))
}

// Produce runs fn with a scratch file path, then moves what fn wrote into
// the store under key. The scratch file is removed in every case, so a
// failing fn leaves neither a partial artifact nor a stray temp file.
func Produce(s ArtifactStore, key string, fn func(path string) error) error {
	dir, err := os.MkdirTemp("", "artifact-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	tmp := filepath.Join(dir, filepath.Base(filepath.FromSlash(key)))
	if err := fn(tmp); err != nil {
		return err
	}
	f, err := os.Open(tmp)
	if err != nil {
		return fmt.Errorf("open produced artifact: %w", err)
	}
	defer f.Close()
	return s.Write(key, f)
}
