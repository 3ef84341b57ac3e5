package targets

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/gridlens/gridlens/internal/logger"
)

// FTPConfig holds FTP connection settings.
type FTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Path     string
	Timeout  time.Duration
}

// FTPTarget uploads exports over plain FTP.
type FTPTarget struct {
	config FTPConfig
	log    logger.Logger
}

// NewFTPTarget validates the configuration.
func NewFTPTarget(config FTPConfig, log logger.Logger) (*FTPTarget, error) {
	if config.Host == "" {
		return nil, configError("ftp host is required")
	}
	if config.Port == 0 {
		config.Port = 21
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if log == nil {
		log = logger.Global().Module("export")
	}
	return &FTPTarget{config: config, log: log}, nil
}

// Name implements Target.
func (t *FTPTarget) Name() string { return NameFTP }

func (t *FTPTarget) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := net.JoinHostPort(t.config.Host, strconv.Itoa(t.config.Port))
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(t.config.Timeout))
	if err != nil {
		return nil, storeError(NameFTP, err, "dial")
	}
	if t.config.Username != "" {
		if err := conn.Login(t.config.Username, t.config.Password); err != nil {
			_ = conn.Quit()
			return nil, storeError(NameFTP, err, "login")
		}
	}
	return conn, nil
}

// Store uploads r to a temporary file and renames it into place.
func (t *FTPTarget) Store(ctx context.Context, name string, r io.Reader) error {
	if err := validateFilename(name); err != nil {
		return err
	}
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			t.log.Debug("ftp quit failed", logger.Error(err))
		}
	}()

	if err := t.ensureDir(conn); err != nil {
		return err
	}

	final := remotePath(t.config.Path, name)
	tmp := remotePath(t.config.Path, fmt.Sprintf("%s%d", tempPrefix, time.Now().UnixNano()))
	if err := conn.Stor(tmp, r); err != nil {
		_ = conn.Delete(tmp)
		return storeError(NameFTP, err, "store")
	}
	if err := conn.Rename(tmp, final); err != nil {
		_ = conn.Delete(tmp)
		return storeError(NameFTP, err, "rename")
	}

	t.log.Info("export uploaded",
		logger.String("target", NameFTP),
		logger.String("host", t.config.Host),
		logger.String("path", final))
	return nil
}

// ensureDir creates each missing component of the base path.
func (t *FTPTarget) ensureDir(conn *ftp.ServerConn) error {
	if t.config.Path == "" {
		return nil
	}
	start, err := conn.CurrentDir()
	if err != nil {
		return storeError(NameFTP, err, "pwd")
	}
	defer func() { _ = conn.ChangeDir(start) }()

	if strings.HasPrefix(t.config.Path, "/") {
		if err := conn.ChangeDir("/"); err != nil {
			return storeError(NameFTP, err, "cwd")
		}
	}
	for _, part := range strings.Split(strings.Trim(t.config.Path, "/"), "/") {
		if part == "" {
			continue
		}
		if conn.ChangeDir(part) == nil {
			continue
		}
		if err := conn.MakeDir(part); err != nil && !dirExists(err) {
			return storeError(NameFTP, err, "mkdir "+part)
		}
		if err := conn.ChangeDir(part); err != nil {
			return storeError(NameFTP, err, "cwd "+part)
		}
	}
	return nil
}

func dirExists(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "exists") || strings.Contains(s, "550")
}
