// Package targets delivers feedback exports to a local directory or a
// remote SFTP/FTP server.
package targets

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/gridlens/gridlens/internal/conf"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
)

// Target names accepted by FromSettings.
const (
	NameLocal = "local"
	NameSFTP  = "sftp"
	NameFTP   = "ftp"
)

// File permissions for exported files.
const (
	PermDir  = 0o750
	PermFile = 0o640
)

const (
	defaultTimeout = 30 * time.Second
	tempPrefix     = ".upload-"
)

// Target stores an export file under a base directory.
type Target interface {
	Name() string
	Store(ctx context.Context, filename string, r io.Reader) error
}

// FromSettings builds the named target. The target must be enabled.
func FromSettings(settings *conf.ExportSettings, name string, log logger.Logger) (Target, error) {
	if log == nil {
		log = logger.Global().Module("export")
	}
	switch strings.ToLower(name) {
	case NameLocal:
		if !settings.Local.Enabled {
			return nil, disabled(name)
		}
		return NewLocalTarget(settings.Local.Path)
	case NameSFTP:
		if !settings.SFTP.Enabled {
			return nil, disabled(name)
		}
		return NewSFTPTarget(SFTPConfig{
			Host:           settings.SFTP.Host,
			Port:           settings.SFTP.Port,
			Username:       settings.SFTP.Username,
			Password:       settings.SFTP.Password,
			KeyFile:        settings.SFTP.KeyFile,
			KnownHostsFile: settings.SFTP.KnownHostsFile,
			Path:           settings.SFTP.Path,
			Timeout:        settings.SFTP.Timeout,
		}, log)
	case NameFTP:
		if !settings.FTP.Enabled {
			return nil, disabled(name)
		}
		return NewFTPTarget(FTPConfig{
			Host:     settings.FTP.Host,
			Port:     settings.FTP.Port,
			Username: settings.FTP.Username,
			Password: settings.FTP.Password,
			Path:     settings.FTP.Path,
			Timeout:  settings.FTP.Timeout,
		}, log)
	}
	return nil, errors.Newf("unknown export target %q (local, sftp or ftp)", name).
		Component("export").
		Category(errors.CategoryValidation).
		Build()
}

func disabled(name string) error {
	return errors.Newf("export target %q is not enabled", name).
		Component("export").
		Category(errors.CategoryConfiguration).
		Build()
}

// validateFilename rejects names that would escape the base directory.
func validateFilename(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, tempPrefix) {
		return errors.Newf("invalid export filename %q", name).
			Component("export").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func remotePath(base, name string) string {
	if base == "" {
		return name
	}
	return path.Join(base, name)
}

func storeError(target string, err error, msg string) error {
	return errors.New(err).
		Component("export").
		Category(errors.CategoryExport).
		Context("target", target).
		Context("operation", msg).
		Build()
}
