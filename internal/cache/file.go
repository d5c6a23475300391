package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend stores the entry at path and every other blob next to it as
// <path>.<name>.
type FileBackend struct {
	path   string
	rename func(oldpath, newpath string) error
}

func NewFileBackend(path string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &FileBackend{path: path, rename: os.Rename}, nil
}

func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) pathFor(name string) string {
	if name == EntryName {
		return b.path
	}
	return b.path + "." + name
}

func (b *FileBackend) Read(name string) ([]byte, error) {
	data, err := os.ReadFile(b.pathFor(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	return data, err
}

// Write replaces the blob by writing a temporary file in the same directory
// and renaming it over the target.
func (b *FileBackend) Write(name string, data []byte) error {
	target := b.pathFor(name)
	tmp, err := b.writeTemp(target, data)
	if err != nil {
		return err
	}
	if err := b.rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", target, err)
	}
	return nil
}

// Create publishes a fully written temporary file with a hard link, which
// fails when the target already exists.
func (b *FileBackend) Create(name string, data []byte) error {
	target := b.pathFor(name)
	tmp, err := b.writeTemp(target, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	if err := os.Link(tmp, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExist
		}
		return fmt.Errorf("link %s: %w", target, err)
	}
	return nil
}

func (b *FileBackend) Remove(name string) error {
	err := os.Remove(b.pathFor(name))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotExist
	}
	return err
}

func (b *FileBackend) writeTemp(target string, data []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("sync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return name, nil
}
