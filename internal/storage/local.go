package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/gridlens/gridlens/internal/errors"
)

// LocalBackend writes objects into a directory served under urlPrefix.
type LocalBackend struct {
	dir       string
	urlPrefix string
}

// NewLocalBackend creates dir if needed.
func NewLocalBackend(dir, urlPrefix string) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(err).
			Component("storage").
			Category(errors.CategoryFileIO).
			Context("operation", "create_upload_dir").
			Context("path", dir).
			Build()
	}
	if urlPrefix == "" {
		urlPrefix = "/uploads"
	}
	return &LocalBackend{dir: dir, urlPrefix: urlPrefix}, nil
}

// Dir returns the upload directory.
func (b *LocalBackend) Dir() string {
	return b.dir
}

// URLPrefix returns the public path prefix for stored files.
func (b *LocalBackend) URLPrefix() string {
	return b.urlPrefix
}

func (b *LocalBackend) path(name string) string {
	return filepath.Join(b.dir, filepath.Base(name))
}

// Save writes data atomically via a temporary file.
func (b *LocalBackend) Save(_ context.Context, name string, data []byte, _ string) (string, error) {
	target := b.path(name)
	tmp, err := os.CreateTemp(b.dir, ".upload-*")
	if err != nil {
		return "", b.ioError(err, "create_temp", name)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", b.ioError(err, "write", name)
	}
	if err := tmp.Close(); err != nil {
		return "", b.ioError(err, "close", name)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", b.ioError(err, "rename", name)
	}
	return b.urlPrefix + "/" + filepath.Base(name), nil
}

// Open opens the stored file.
func (b *LocalBackend) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(b.path(name))
	if os.IsNotExist(err) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, b.ioError(err, "open", name)
	}
	return f, nil
}

// Delete removes the stored file.
func (b *LocalBackend) Delete(_ context.Context, name string) error {
	if err := os.Remove(b.path(name)); err != nil && !os.IsNotExist(err) {
		return b.ioError(err, "delete", name)
	}
	return nil
}

// Name returns "local".
func (b *LocalBackend) Name() string {
	return "local"
}

func (b *LocalBackend) ioError(err error, op, name string) error {
	return errors.New(err).
		Component("storage").
		Category(errors.CategoryFileIO).
		Context("operation", op).
		Context("object", name).
		Build()
}
