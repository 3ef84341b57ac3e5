package targets

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/gridlens/gridlens/internal/errors"
)

// LocalTarget writes exports into a directory on this host.
type LocalTarget struct {
	dir string
}

// NewLocalTarget creates the directory when missing.
func NewLocalTarget(dir string) (*LocalTarget, error) {
	if dir == "" {
		return nil, errors.Newf("local export path is required").
			Component("export").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := os.MkdirAll(dir, PermDir); err != nil {
		return nil, storeError(NameLocal, err, "create directory")
	}
	return &LocalTarget{dir: dir}, nil
}

// Name implements Target.
func (t *LocalTarget) Name() string { return NameLocal }

// Path returns where name is stored.
func (t *LocalTarget) Path(name string) string { return filepath.Join(t.dir, name) }

// Store writes r to a temporary file and renames it into place so readers
// never see a partial export.
func (t *LocalTarget) Store(ctx context.Context, name string, r io.Reader) error {
	if err := validateFilename(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(t.dir, tempPrefix+"*")
	if err != nil {
		return storeError(NameLocal, err, "create temporary file")
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(PermFile); err != nil {
		return storeError(NameLocal, err, "chmod")
	}
	if _, err := io.Copy(tmp, r); err != nil {
		return storeError(NameLocal, err, "write")
	}
	if err := tmp.Sync(); err != nil {
		return storeError(NameLocal, err, "sync")
	}
	if err := tmp.Close(); err != nil {
		return storeError(NameLocal, err, "close")
	}
	if err := os.Rename(tmpPath, t.Path(name)); err != nil {
		return storeError(NameLocal, err, "rename")
	}
	success = true
	return nil
}
