// Package download fetches audio bytes over plain HTTP when the extraction
// tool reports a direct media URL instead of doing the transfer itself.
package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/eliaskho/MusicVault-Go/bot"
	"github.com/eliaskho/MusicVault-Go/bot/util"
	"github.com/hashicorp/go-retryablehttp"
)

// Info describes one direct-URL fetch.
type Info struct {
	URL     string
	Headers map[string]string
	// Size is the expected byte count; 0 skips the completeness check.
	Size int64
	// MD5 is the expected content hash; empty skips verification.
	MD5 string
}

type Options struct {
	Timeout    time.Duration
	MaxRetries int
	CheckMD5   bool
}

// Service wraps a retrying HTTP client for media fetches.
type Service struct {
	client   *retryablehttp.Client
	checkMD5 bool
}

func NewService(opts Options, log bot.Logger) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.MaxRetries
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = opts.Timeout
	client.Logger = nil
	if log != nil {
		client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			if attempt > 0 {
				log.Debug("retrying media fetch", "url", req.URL.String(), "attempt", attempt)
			}
		}
	}

	return &Service{client: client, checkMD5: opts.CheckMD5}
}

// Fetch downloads the media to destPath. The destination is removed on any
// failure so callers never see a partial file.
func (s *Service) Fetch(ctx context.Context, info *Info, destPath string, progress util.ProgressFunc) (int64, error) {
	if info == nil || info.URL == "" {
		return 0, errors.New("download info missing")
	}
	if destPath == "" {
		return 0, errors.New("dest path missing")
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return 0, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return 0, err
	}
	for k, v := range info.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("media fetch failed with status %d", resp.StatusCode)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return 0, err
	}

	written, copyErr := util.CopyWithProgress(file, resp.Body, info.Size, progress)
	closeErr := file.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(destPath)
		return 0, copyErr
	}

	if info.Size > 0 && written != info.Size {
		_ = os.Remove(destPath)
		return 0, fmt.Errorf("incomplete download: got %d bytes, expected %d", written, info.Size)
	}
	if s.checkMD5 && info.MD5 != "" {
		ok, err := util.VerifyMD5(destPath, info.MD5)
		if err != nil || !ok {
			_ = os.Remove(destPath)
			if err != nil {
				return 0, err
			}
			return 0, errors.New("md5 verification failed")
		}
	}
	return written, nil
}
