package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SSHConfig describes how to reach the store host.
type SSHConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// KeyFile is a path to a PEM private key; takes precedence over Password.
	KeyFile string
	Timeout time.Duration
}

// SSHDialer dials an SFTP session over SSH.
type SSHDialer struct {
	cfg SSHConfig
}

func NewSSHDialer(cfg SSHConfig) *SSHDialer {
	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SSHDialer{cfg: cfg}
}

// Dial implements Dialer.
func (d *SSHDialer) Dial(ctx context.Context) (Conn, error) {
	auth, err := d.authMethods()
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            d.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.cfg.Timeout,
	}

	addr := net.JoinHostPort(d.cfg.Host, fmt.Sprintf("%d", d.cfg.Port))
	sshClient, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("sftp session: %w", err)
	}

	return &sftpConn{ssh: sshClient, sftp: sftpClient}, nil
}

func (d *SSHDialer) authMethods() ([]ssh.AuthMethod, error) {
	if d.cfg.KeyFile != "" {
		keyBytes, err := os.ReadFile(d.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if d.cfg.Password != "" {
		return []ssh.AuthMethod{ssh.Password(d.cfg.Password)}, nil
	}
	return nil, fmt.Errorf("no ssh credentials configured")
}

// sftpConn adapts an SFTP session to the Conn interface.
type sftpConn struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (c *sftpConn) Stat(path string) (os.FileInfo, error) { return c.sftp.Stat(path) }

func (c *sftpConn) Open(path string) (io.ReadCloser, error) { return c.sftp.Open(path) }

func (c *sftpConn) Create(path string) (io.WriteCloser, error) { return c.sftp.Create(path) }

func (c *sftpConn) MkdirAll(path string) error { return c.sftp.MkdirAll(path) }

func (c *sftpConn) Remove(path string) error { return c.sftp.Remove(path) }

func (c *sftpConn) Close() error {
	sftpErr := c.sftp.Close()
	sshErr := c.ssh.Close()
	if sftpErr != nil {
		return sftpErr
	}
	return sshErr
}
