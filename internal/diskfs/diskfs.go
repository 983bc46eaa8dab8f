// Package diskfs is the default pkgstream.FileSystem implementation: a
// staging root on the local filesystem, with every logical path joined
// against that root through securejoin so a corrupt or hostile PKG cannot
// use a decrypted item name to escape the staging directory.
package diskfs

import (
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"

	"github.com/AuthurNero/pkgj/pkg/pkgstream"
)

// FS roots every path passed to it at Root.
type FS struct {
	Root string
}

// New returns a FS rooted at root, creating root if it does not exist.
func New(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "cannot create staging root %s", root)
	}
	return &FS{Root: root}, nil
}

func (f *FS) resolve(path string) (string, error) {
	return securejoin.SecureJoin(f.Root, path)
}

func (f *FS) Mkdirs(path string) error {
	resolved, err := f.resolve(path)
	if err != nil {
		return errors.Wrapf(err, "cannot resolve %s", path)
	}
	return os.MkdirAll(resolved, 0o755)
}

func (f *FS) Create(path string) (pkgstream.FileHandle, error) {
	resolved, err := f.resolve(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve %s", path)
	}
	if dir := filepath.Dir(resolved); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(resolved)
	if err != nil {
		return nil, err
	}
	return &handle{f: file}, nil
}

func (f *FS) OpenAppend(path string) (pkgstream.FileHandle, error) {
	resolved, err := f.resolve(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve %s", path)
	}
	file, err := os.OpenFile(resolved, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &handle{f: file}, nil
}

func (f *FS) Save(path string, buf []byte) error {
	resolved, err := f.resolve(path)
	if err != nil {
		return errors.Wrapf(err, "cannot resolve %s", path)
	}
	if dir := filepath.Dir(resolved); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(resolved, buf, 0o644)
}

func (f *FS) Remove(path string) error {
	resolved, err := f.resolve(path)
	if err != nil {
		return errors.Wrapf(err, "cannot resolve %s", path)
	}
	err = os.Remove(resolved)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *FS) Exists(path string) bool {
	resolved, err := f.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(resolved)
	return err == nil
}

type handle struct {
	f *os.File
}

func (h *handle) Write(buf []byte) error {
	_, err := h.f.Write(buf)
	return err
}

func (h *handle) Close() error {
	return h.f.Close()
}
