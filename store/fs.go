package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/hqta1110/video-pipeline/transport"
)

// FS stores artifacts as files under a root directory.
type FS struct {
	root string
}

// NewFS creates the root directory if needed. The root is made absolute so
// paths handed to external tools do not depend on their working directory.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute output directory.
func (s *FS) Root() string { return s.root }

func (s *FS) Path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *FS) Exists(key string) bool {
	fi, err := os.Stat(s.Path(key))
	return err == nil && fi.Mode().IsRegular()
}

// Write streams r into a temp file next to the target and renames it into
// place once fully written.
func (s *FS) Write(key string, r io.Reader) (err error) {
	dst := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-"+uuid.NewString()[:8])
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err = transport.CopyChunked(f, r); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func (s *FS) ReadFile(key string) ([]byte, error) {
	return os.ReadFile(s.Path(key))
}

func (s *FS) Remove(key string) error {
	err := os.Remove(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FS) List(dir, pattern string) ([]string, error) {
	entries, err := os.ReadDir(s.Path(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		ok, err := path.Match(pattern, e.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, path.Join(dir, e.Name()))
		}
	}
	sort.Strings(keys)
	return keys, nil
}
