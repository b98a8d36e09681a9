package bot

import (
	"context"
	"io"
)

// Logger is the minimal logging abstraction used across modules.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// Config provides typed access to configuration values.
type Config interface {
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetFloat64(key string) float64
}

// CacheRepository defines the relational index over cached tracks.
//
// Get returns (nil, nil) when no row exists; a non-nil error means the
// store itself failed and callers should fall back to filesystem checks.
type CacheRepository interface {
	Get(ctx context.Context, identifier string, service Service) (*CacheRecord, error)
	Upsert(ctx context.Context, record *CacheRecord) error
	Touch(ctx context.Context, identifier string, service Service) error
	SetProcessing(ctx context.Context, identifier string, service Service, flag bool) error
	ListPromoted(ctx context.Context) ([]*CacheRecord, error)
	Count(ctx context.Context) (int64, error)
	CountByService(ctx context.Context) (map[Service]int64, error)
	Delete(ctx context.Context, identifier string, service Service) error
	Close() error
}

// RemoteStore is the file-transfer client for the network-attached mirror.
// Paths are forward-slash relative to the store's configured root.
type RemoteStore interface {
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Available() bool
	Exists(ctx context.Context, remotePath string) (bool, error)
	ReadStream(ctx context.Context, remotePath string) (io.ReadCloser, error)
	WriteFile(ctx context.Context, remotePath, localPath string) error
	Stat(ctx context.Context, remotePath string) (int64, error)
	Remove(ctx context.Context, remotePath string) error
	Close() error
}

// WorkerPool limits concurrency for background tasks.
type WorkerPool interface {
	Submit(task func()) error
	SubmitWait(task func() error) error
	Shutdown(ctx context.Context) error
	Size() int
}
