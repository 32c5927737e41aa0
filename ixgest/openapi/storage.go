package openapi

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/teranos/specix/errors"
)

// RunDirPrefix names every per-download temp directory
const RunDirPrefix = "openapi-spec-"

// Store hands out unique temp locations for downloaded documents.
// Each download gets its own run directory holding a single <uuid>.json file;
// removing an artifact removes its whole run directory.
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore creates a Store on fs under root. An empty root uses the OS temp dir.
func NewStore(fs afero.Fs, root string) *Store {
	if root == "" {
		root = os.TempDir()
	}
	return &Store{fs: fs, root: filepath.Clean(root)}
}

// NewOsStore creates a Store on the real filesystem
func NewOsStore(root string) *Store {
	return NewStore(afero.NewOsFs(), root)
}

// Root returns the directory run directories are created in
func (s *Store) Root() string {
	return s.root
}

// Create allocates a fresh run directory and opens a new artifact file in it
func (s *Store) Create() (afero.File, error) {
	if err := s.fs.MkdirAll(s.root, 0o700); err != nil {
		return nil, errors.Wrapf(err, "failed to create temp root %s", s.root)
	}

	dir, err := afero.TempDir(s.fs, s.root, RunDirPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create run directory")
	}

	name := filepath.Join(dir, uuid.NewString()+".json")
	f, err := s.fs.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		_ = s.fs.RemoveAll(dir)
		return nil, errors.Wrapf(err, "failed to create artifact %s", name)
	}
	return f, nil
}

// ReadFile returns the contents of an artifact
func (s *Store) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(s.fs, path)
}

// Remove deletes the run directory holding path.
// Paths outside this store's run directories are refused.
func (s *Store) Remove(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if !s.isRunDir(dir) {
		return errors.Newf("refusing to remove %s: not a run directory under %s", dir, s.root)
	}
	return s.fs.RemoveAll(dir)
}

// Runs lists the run directories currently on disk
func (s *Store) Runs() ([]string, error) {
	matches, err := afero.Glob(s.fs, filepath.Join(s.root, RunDirPrefix+"*"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list run directories")
	}
	return matches, nil
}

// Sweep removes run directories last modified before cutoff, returning how
// many were removed. It clears artifacts orphaned by a crashed process.
func (s *Store) Sweep(cutoff time.Time) (int, error) {
	runs, err := s.Runs()
	if err != nil {
		return 0, err
	}

	removed := 0
	var firstErr error
	for _, dir := range runs {
		info, err := s.fs.Stat(dir)
		if err != nil || !info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := s.fs.RemoveAll(dir); err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "failed to remove %s", dir)
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

func (s *Store) isRunDir(dir string) bool {
	return filepath.Dir(dir) == s.root && strings.HasPrefix(filepath.Base(dir), RunDirPrefix)
}
