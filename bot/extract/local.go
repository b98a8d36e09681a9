package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/eliaskho/MusicVault-Go/bot"
)

// ErrToolNotFound means no extraction tool binary could be located.
var ErrToolNotFound = errors.New("extract: tool not found")

// fallbackToolPaths are tried when no path is configured, before $PATH.
var fallbackToolPaths = []string{
	"/usr/local/bin/yt-dlp",
	"/usr/bin/yt-dlp",
	"./yt-dlp",
}

const defaultToolName = "yt-dlp"

// FindTool resolves the extraction tool binary: the configured path first,
// then well-known locations, then $PATH.
func FindTool(configured string) (string, error) {
	if configured != "" {
		if info, err := os.Stat(configured); err == nil && !info.IsDir() {
			return configured, nil
		}
	}
	for _, candidate := range fallbackToolPaths {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	if found, err := exec.LookPath(defaultToolName); err == nil {
		return found, nil
	}
	return "", ErrToolNotFound
}

// LocalRunner runs the extraction tool as a local subprocess.
type LocalRunner struct {
	toolPath    string
	timeout     time.Duration
	audioFormat string
	log         bot.Logger
}

type LocalOptions struct {
	// ToolPath overrides tool discovery when set.
	ToolPath string
	// Timeout bounds each invocation; on expiry one simpler fallback
	// invocation is attempted before giving up.
	Timeout time.Duration
	// AudioFormat is passed to the tool's audio conversion (default opus).
	AudioFormat string
}

func NewLocalRunner(opts LocalOptions, log bot.Logger) (*LocalRunner, error) {
	toolPath, err := FindTool(opts.ToolPath)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.AudioFormat == "" {
		opts.AudioFormat = "opus"
	}
	return &LocalRunner{
		toolPath:    toolPath,
		timeout:     opts.Timeout,
		audioFormat: opts.AudioFormat,
		log:         log,
	}, nil
}

// Probe asks the tool for id, title and duration in one invocation.
func (r *LocalRunner) Probe(ctx context.Context, url string) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{
		"--no-warnings",
		"--no-playlist",
		"--skip-download",
		"-f", "bestaudio",
		"--print", "%(id)s\n%(title)s\n%(duration)s\n%(url)s",
		url,
	}
	stdout, err := r.run(ctx, args)
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
	if len(lines) >= 4 {
		if direct := strings.TrimSpace(lines[3]); strings.HasPrefix(direct, "http") {
			meta.DirectURL = direct
		}
	}
	return meta, nil
}

// Extract downloads and converts the audio into tmpDir. The printed output
// path is preferred; when it is missing or stale the temp directory is
// scanned for the produced file. On timeout one simpler invocation without
// conversion is attempted.
func (r *LocalRunner) Extract(ctx context.Context, url, tmpDir string) (string, error) {
	outTemplate := filepath.Join(tmpDir, "audio.%(ext)s")

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	args := []string{
		"--no-warnings",
		"--no-playlist",
		"-x",
		"--audio-format", r.audioFormat,
		"-o", outTemplate,
		"--print", "after_move:filepath",
		url,
	}
	stdout, err := r.run(runCtx, args)
	cancel()

	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		r.log.Warn("extraction timed out, retrying without conversion", "url", url)
		retryCtx, retryCancel := context.WithTimeout(ctx, r.timeout)
		defer retryCancel()
		stdout, err = r.run(retryCtx, []string{
			"--no-warnings",
			"--no-playlist",
			"-f", "bestaudio",
			"-o", outTemplate,
			"--print", "after_move:filepath",
			url,
		})
	}
	if err != nil {
		return "", err
	}

	filePath := strings.TrimSpace(stdout)
	if filePath != "" {
		if info, statErr := os.Stat(filePath); statErr == nil && !info.IsDir() {
			return filePath, nil
		}
	}
	if found := firstFileIn(tmpDir); found != "" {
		return found, nil
	}
	return "", errors.New("extract: tool produced no output file")
}

func (r *LocalRunner) run(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, r.toolPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Debug("running extraction tool", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("extract: tool failed: %w: %s", err, firstLine(stderr.String()))
	}
	return stdout.String(), nil
}

func firstFileIn(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		return filepath.Join(dir, entry.Name())
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
