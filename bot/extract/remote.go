package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/eliaskho/MusicVault-Go/bot"
	"github.com/eliaskho/MusicVault-Go/bot/remote"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// RemoteRunner offloads extraction to another host: the tool runs there
// over an SSH session and the produced file is copied back over SFTP.
type RemoteRunner struct {
	cfg      remote.SSHConfig
	toolPath string
	tmpRoot  string
	timeout  time.Duration
	format   string
	log      bot.Logger
}

type RemoteOptions struct {
	// ToolPath is the extraction tool's path on the remote host.
	ToolPath string
	// TmpRoot is the remote scratch directory (default /tmp/musicvault).
	TmpRoot string
	Timeout time.Duration
	// AudioFormat matches LocalOptions.AudioFormat.
	AudioFormat string
}

func NewRemoteRunner(cfg remote.SSHConfig, opts RemoteOptions, log bot.Logger) *RemoteRunner {
	if opts.ToolPath == "" {
		opts.ToolPath = defaultToolName
	}
	if opts.TmpRoot == "" {
		opts.TmpRoot = "/tmp/musicvault"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.AudioFormat == "" {
		opts.AudioFormat = "opus"
	}
	return &RemoteRunner{
		cfg:      cfg,
		toolPath: opts.ToolPath,
		tmpRoot:  opts.TmpRoot,
		timeout:  opts.Timeout,
		format:   opts.AudioFormat,
		log:      log,
	}
}

func (r *RemoteRunner) Probe(ctx context.Context, url string) (*Metadata, error) {
	client, err := r.dial()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	cmd := fmt.Sprintf("%s --no-warnings --no-playlist --skip-download --print '%%(id)s\\n%%(title)s\\n%%(duration)s' %s",
		r.toolPath, shellQuote(url))
	stdout, err := r.runCommand(ctx, client, cmd)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("extract: malformed probe output %q", stdout)
	}
	meta := &Metadata{
		ID:    strings.TrimSpace(lines[0]),
		Title: strings.TrimSpace(lines[1]),
	}
	if len(lines) >= 3 {
		if secs, err := strconv.ParseFloat(strings.TrimSpace(lines[2]), 64); err == nil {
			meta.DurationSeconds = int(secs)
		}
	}
	return meta, nil
}

// Extract runs the tool remotely and copies the result into the local
// tmpDir. The remote scratch file is removed after the copy.
func (r *RemoteRunner) Extract(ctx context.Context, url, tmpDir string) (string, error) {
	client, err := r.dial()
	if err != nil {
		return "", err
	}
	defer client.Close()

	remoteDir := path.Join(r.tmpRoot, fmt.Sprintf("job-%d", time.Now().UnixNano()))
	outTemplate := path.Join(remoteDir, "audio.%(ext)s")

	cmd := fmt.Sprintf("mkdir -p %s && %s --no-warnings --no-playlist -x --audio-format %s -o %s --print after_move:filepath %s",
		shellQuote(remoteDir), r.toolPath, r.format, shellQuote(outTemplate), shellQuote(url))
	stdout, err := r.runCommand(ctx, client, cmd)
	if err != nil {
		return "", err
	}

	remotePath := strings.TrimSpace(stdout)
	if remotePath == "" {
		return "", errors.New("extract: remote tool produced no output path")
	}

	localPath, err := r.copyBack(client, remotePath, tmpDir)

	// Scratch cleanup is best effort.
	if session, sessErr := client.NewSession(); sessErr == nil {
		_ = session.Run("rm -rf " + shellQuote(remoteDir))
		_ = session.Close()
	}
	return localPath, err
}

func (r *RemoteRunner) dial() (*ssh.Client, error) {
	auth, err := r.authMethods()
	if err != nil {
		return nil, err
	}
	config := &ssh.ClientConfig{
		User:            r.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.cfg.Timeout,
	}
	port := r.cfg.Port
	if port <= 0 {
		port = 22
	}
	addr := net.JoinHostPort(r.cfg.Host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("extract: ssh dial %s: %w", addr, err)
	}
	return client, nil
}

func (r *RemoteRunner) authMethods() ([]ssh.AuthMethod, error) {
	if r.cfg.KeyFile != "" {
		keyBytes, err := os.ReadFile(r.cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if r.cfg.Password != "" {
		return []ssh.AuthMethod{ssh.Password(r.cfg.Password)}, nil
	}
	return nil, errors.New("extract: no ssh credentials configured")
}

// runCommand runs cmd in its own session, bounded by r.timeout. SSH has no
// native command cancellation, so expiry closes the whole session.
func (r *RemoteRunner) runCommand(ctx context.Context, client *ssh.Client, cmd string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return "", fmt.Errorf("extract: remote command timed out: %w", ctx.Err())
	case err := <-errc:
		if err != nil {
			return "", fmt.Errorf("extract: remote tool failed: %w: %s", err, firstLine(stderr.String()))
		}
		return stdout.String(), nil
	}
}

func (r *RemoteRunner) copyBack(client *ssh.Client, remotePath, tmpDir string) (string, error) {
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return "", err
	}
	defer sftpClient.Close()

	in, err := sftpClient.Open(remotePath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	localPath := filepath.Join(tmpDir, path.Base(remotePath))
	out, err := os.Create(localPath)
	if err != nil {
		return "", err
	}
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(localPath)
		if copyErr != nil {
			return "", copyErr
		}
		return "", closeErr
	}
	return localPath, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
