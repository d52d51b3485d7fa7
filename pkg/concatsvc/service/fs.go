package service

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned by a contained FileSystem for paths that resolve
// outside its root directory.
var ErrOutsideRoot = errors.New("path escapes the configured root directory")

// FileSystem is the set of file operations the service needs.
type FileSystem interface {
	// MkdirAll creates path and any missing parents.
	MkdirAll(path string, perm os.FileMode) error
	// Create opens name for writing, truncating existing content.
	Create(name string) (io.WriteCloser, error)
	// Open opens name for reading.
	Open(name string) (io.ReadCloser, error)
}

type osFileSystem struct{}

// NewOSFileSystem returns a FileSystem backed by the local disk.
func NewOSFileSystem() FileSystem {
	return osFileSystem{}
}

func (osFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (osFileSystem) Create(name string) (io.WriteCloser, error) {
	return os.Create(name)
}

func (osFileSystem) Open(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

type containedFileSystem struct {
	root string
	next FileSystem
}

// NewContainedFileSystem restricts next to paths inside root. Relative paths
// are resolved against root. Symlinks are not followed during the check.
func NewContainedFileSystem(root string, next FileSystem) (FileSystem, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return containedFileSystem{root: abs, next: next}, nil
}

func (c containedFileSystem) resolve(op, name string) (string, error) {
	p := name
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.root, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(c.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &os.PathError{Op: op, Path: name, Err: ErrOutsideRoot}
	}
	return p, nil
}

func (c containedFileSystem) MkdirAll(path string, perm os.FileMode) error {
	p, err := c.resolve("mkdir", path)
	if err != nil {
		return err
	}
	return c.next.MkdirAll(p, perm)
}

func (c containedFileSystem) Create(name string) (io.WriteCloser, error) {
	p, err := c.resolve("open", name)
	if err != nil {
		return nil, err
	}
	return c.next.Create(p)
}

func (c containedFileSystem) Open(name string) (io.ReadCloser, error) {
	p, err := c.resolve("open", name)
	if err != nil {
		return nil, err
	}
	return c.next.Open(p)
}
