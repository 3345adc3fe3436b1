package cache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Artifacts stores audio files in a single directory. Writes are atomic: a
// reader either sees the complete file or no file.
type Artifacts struct {
	dir string
}

// NewArtifacts returns an [Artifacts] rooted at dir, creating it if needed.
func NewArtifacts(dir string) (*Artifacts, error) {
	if dir == "" {
		return nil, errors.New("cache: artifact dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create artifact dir %q: %w", dir, err)
	}
	return &Artifacts{dir: dir}, nil
}

// Dir returns the root directory.
func (a *Artifacts) Dir() string { return a.dir }

// Write stores data under name and returns its size.
func (a *Artifacts) Write(name string, data []byte) (int64, error) {
	final, err := a.path(name)
	if err != nil {
		return 0, err
	}
	tmp := filepath.Join(a.dir, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("cache: write artifact %q: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("cache: publish artifact %q: %w", name, err)
	}
	return int64(len(data)), nil
}

// Open returns a reader for the artifact. A missing artifact yields an error
// wrapping [ErrNotFound].
func (a *Artifacts) Open(name string) (*os.File, error) {
	p, err := a.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cache: artifact %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("cache: open artifact %q: %w", name, err)
	}
	return f, nil
}

// Read returns the full artifact contents.
func (a *Artifacts) Read(name string) ([]byte, error) {
	f, err := a.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("cache: read artifact %q: %w", name, err)
	}
	return data, nil
}

// Exists reports whether the artifact is present.
func (a *Artifacts) Exists(name string) bool {
	p, err := a.path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Remove deletes the artifact. Removing a missing artifact is not an error.
func (a *Artifacts) Remove(name string) error {
	p, err := a.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cache: remove artifact %q: %w", name, err)
	}
	return nil
}

// path resolves name inside the root, rejecting anything that would escape it.
func (a *Artifacts) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("cache: invalid artifact name %q", name)
	}
	return filepath.Join(a.dir, name), nil
}
