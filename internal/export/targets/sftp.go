package targets

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
)

// SFTPConfig holds SFTP connection settings.
type SFTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeyFile        string
	KnownHostsFile string // empty disables host key verification
	Path           string
	Timeout        time.Duration
}

// SFTPTarget uploads exports over SFTP. Each Store opens its own
// connection.
type SFTPTarget struct {
	config SFTPConfig
	auth   []ssh.AuthMethod
	hostCB ssh.HostKeyCallback
	log    logger.Logger
}

// NewSFTPTarget validates the configuration and loads credentials.
func NewSFTPTarget(config SFTPConfig, log logger.Logger) (*SFTPTarget, error) {
	if config.Host == "" {
		return nil, configError("sftp host is required")
	}
	if config.Port == 0 {
		config.Port = 22
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if log == nil {
		log = logger.Global().Module("export")
	}
	t := &SFTPTarget{config: config, log: log}

	switch {
	case config.KeyFile != "":
		key, err := os.ReadFile(config.KeyFile)
		if err != nil {
			return nil, storeError(NameSFTP, err, "read private key")
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, storeError(NameSFTP, err, "parse private key")
		}
		t.auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case config.Password != "":
		t.auth = []ssh.AuthMethod{ssh.Password(config.Password)}
	default:
		return nil, configError("sftp needs a password or a key file")
	}

	if config.KnownHostsFile != "" {
		cb, err := knownhosts.New(config.KnownHostsFile)
		if err != nil {
			return nil, storeError(NameSFTP, err, "load known hosts")
		}
		t.hostCB = cb
	} else {
		log.Warn("sftp host key verification disabled", logger.String("host", config.Host))
		t.hostCB = ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in via empty known_hosts setting
	}
	return t, nil
}

// Name implements Target.
func (t *SFTPTarget) Name() string { return NameSFTP }

func (t *SFTPTarget) connect(ctx context.Context) (*sftp.Client, func(), error) {
	addr := net.JoinHostPort(t.config.Host, strconv.Itoa(t.config.Port))
	dialer := net.Dialer{Timeout: t.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, storeError(NameSFTP, err, "dial")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            t.config.Username,
		Auth:            t.auth,
		HostKeyCallback: t.hostCB,
		Timeout:         t.config.Timeout,
	})
	if err != nil {
		_ = conn.Close()
		return nil, nil, storeError(NameSFTP, err, "ssh handshake")
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, nil, storeError(NameSFTP, err, "start sftp subsystem")
	}
	closeAll := func() {
		_ = client.Close()
		_ = sshClient.Close()
	}
	return client, closeAll, nil
}

// Store uploads r to a temporary file and renames it into place.
func (t *SFTPTarget) Store(ctx context.Context, name string, r io.Reader) error {
	if err := validateFilename(name); err != nil {
		return err
	}
	client, closeAll, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	if t.config.Path != "" {
		if err := client.MkdirAll(t.config.Path); err != nil {
			return storeError(NameSFTP, err, "create directory")
		}
	}

	final := remotePath(t.config.Path, name)
	tmp := remotePath(t.config.Path, fmt.Sprintf("%s%d", tempPrefix, time.Now().UnixNano()))

	f, err := client.Create(tmp)
	if err != nil {
		return storeError(NameSFTP, err, "create file")
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = client.Remove(tmp)
		return storeError(NameSFTP, err, "write")
	}
	if err := f.Close(); err != nil {
		_ = client.Remove(tmp)
		return storeError(NameSFTP, err, "close")
	}
	if err := client.PosixRename(tmp, final); err != nil {
		// servers without the posix-rename extension refuse to overwrite
		_ = client.Remove(final)
		if err := client.Rename(tmp, final); err != nil {
			_ = client.Remove(tmp)
			return storeError(NameSFTP, err, "rename")
		}
	}

	t.log.Info("export uploaded",
		logger.String("target", NameSFTP),
		logger.String("host", t.config.Host),
		logger.String("path", final))
	return nil
}

func configError(msg string) error {
	return errors.Newf("%s", msg).
		Component("export").
		Category(errors.CategoryConfiguration).
		Build()
}
