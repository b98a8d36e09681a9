// Package remote implements the file-transfer client for the
// network-attached store that mirrors the local audio cache. The protocol
// requires POSIX-style paths, so every remote path is forward-slash joined
// regardless of the host OS.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/eliaskho/MusicVault-Go/bot"
	"github.com/sony/gobreaker"
)

// ErrUnavailable is the soft failure returned when the store is not
// connected. Read paths treat it as a miss, never as fatal.
var ErrUnavailable = errors.New("remote: store unavailable")

// Conn is the subset of file-transfer session operations the client needs.
// The production implementation wraps an SFTP session; tests inject fakes.
type Conn interface {
	Stat(path string) (os.FileInfo, error)
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
	MkdirAll(path string) error
	Remove(path string) error
	Close() error
}

// Dialer establishes a new session to the remote store.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Options configures the client's root path and retry policy.
type Options struct {
	// Root is the cache directory on the remote store.
	Root string
	// MaxRetries bounds consecutive failed connection attempts before the
	// client gives up until an explicit Reconnect.
	MaxRetries int
	// RetryDelay is the base delay between connection attempts.
	RetryDelay time.Duration
}

// Client wraps a lazily established file-transfer session. A circuit
// breaker and a bounded retry budget keep a dead store from stalling the
// rest of the system; once the budget is exhausted every operation
// short-circuits until a caller explicitly triggers Reconnect.
type Client struct {
	dialer     Dialer
	root       string
	maxRetries int
	retryDelay time.Duration
	breaker    *gobreaker.CircuitBreaker
	log        bot.Logger

	mu          sync.Mutex
	conn        Conn
	available   bool
	failures    int
	nextAttempt time.Time
}

var _ bot.RemoteStore = (*Client)(nil)

// New creates a client. Connect is lazy; nothing is dialed here.
func New(dialer Dialer, opts Options, log bot.Logger) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.Root == "" {
		opts.Root = "musicvault"
	}

	settings := gobreaker.Settings{
		Name:        "remote-store",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &Client{
		dialer:     dialer,
		root:       opts.Root,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		log:        log,
	}
}

// Available reports whether a session is established.
func (c *Client) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

// Connect lazily establishes the session and bootstraps the remote
// directory tree. Idempotent. Once the retry budget is exhausted it stops
// dialing entirely; Reconnect resets the budget.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.available {
		return nil
	}
	if c.failures >= c.maxRetries {
		return ErrUnavailable
	}
	if time.Now().Before(c.nextAttempt) {
		return ErrUnavailable
	}
	return c.dialLocked(ctx)
}

func (c *Client) dialLocked(ctx context.Context) error {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.dialer.Dial(ctx)
	})
	if err != nil {
		c.failures++
		c.nextAttempt = time.Now().Add(c.retryDelay)
		if c.log != nil {
			c.log.Warn("remote store connect failed", "error", err, "failures", c.failures, "max_retries", c.maxRetries)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	conn := result.(Conn)
	if err := c.bootstrap(conn); err != nil {
		_ = conn.Close()
		c.failures++
		c.nextAttempt = time.Now().Add(c.retryDelay)
		if c.log != nil {
			c.log.Warn("remote store bootstrap failed", "error", err)
		}
		return fmt.Errorf("%w: bootstrap: %v", ErrUnavailable, err)
	}

	c.conn = conn
	c.available = true
	c.failures = 0
	c.nextAttempt = time.Time{}
	if c.log != nil {
		c.log.Info("remote store connected", "root", c.root)
	}
	return nil
}

// bootstrap verifies/creates the root cache directory and one subdirectory
// per service.
func (c *Client) bootstrap(conn Conn) error {
	if err := conn.MkdirAll(c.root); err != nil {
		return err
	}
	for _, service := range bot.Services {
		if err := conn.MkdirAll(path.Join(c.root, service.String())); err != nil {
			return err
		}
	}
	return nil
}

// Reconnect resets the retry budget and dials with increasing delay, up to
// the configured maximum attempts. This is the explicit trigger that
// revives a client which previously gave up.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.available {
		c.mu.Unlock()
		return nil
	}
	c.failures = 0
	c.nextAttempt = time.Time{}
	c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		c.mu.Lock()
		c.nextAttempt = time.Time{}
		err := c.dialLocked(ctx)
		c.mu.Unlock()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// markDisconnected drops the session after an operation error so the next
// Connect redials.
func (c *Client) markDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.available = false
}

func (c *Client) session() (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.available || c.conn == nil {
		return nil, ErrUnavailable
	}
	return c.conn, nil
}

func (c *Client) fullPath(remotePath string) string {
	return path.Join(c.root, path.Clean("/"+remotePath))
}

// Exists reports whether the file exists on the remote store. Unavailable
// sessions short-circuit to (false, ErrUnavailable) without dialing.
func (c *Client) Exists(ctx context.Context, remotePath string) (bool, error) {
	conn, err := c.session()
	if err != nil {
		return false, err
	}
	_, err = conn.Stat(c.fullPath(remotePath))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	c.markDisconnected()
	return false, err
}

// Stat returns the remote file size.
func (c *Client) Stat(ctx context.Context, remotePath string) (int64, error) {
	conn, err := c.session()
	if err != nil {
		return 0, err
	}
	info, err := conn.Stat(c.fullPath(remotePath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, err
		}
		c.markDisconnected()
		return 0, err
	}
	return info.Size(), nil
}

// ReadStream opens the remote file for reading.
func (c *Client) ReadStream(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	conn, err := c.session()
	if err != nil {
		return nil, err
	}
	reader, err := conn.Open(c.fullPath(remotePath))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.markDisconnected()
		}
		return nil, err
	}
	return reader, nil
}

// WriteFile uploads a local file to the remote path, overwriting any
// existing content and creating intermediate directories.
func (c *Client) WriteFile(ctx context.Context, remotePath, localPath string) error {
	conn, err := c.session()
	if err != nil {
		return err
	}

	in, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer in.Close()

	full := c.fullPath(remotePath)
	if err := conn.MkdirAll(path.Dir(full)); err != nil {
		c.markDisconnected()
		return err
	}

	out, err := conn.Create(full)
	if err != nil {
		c.markDisconnected()
		return err
	}
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		c.markDisconnected()
		return copyErr
	}
	if closeErr != nil {
		c.markDisconnected()
		return closeErr
	}
	return nil
}

// Remove deletes a remote file. Missing files are not an error.
func (c *Client) Remove(ctx context.Context, remotePath string) error {
	conn, err := c.session()
	if err != nil {
		return err
	}
	if err := conn.Remove(c.fullPath(remotePath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Close tears down the session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
