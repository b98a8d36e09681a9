package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eliaskho/MusicVault-Go/bot"
)

// Sweeper removes cache files older than a configured age, skipping
// anything in the permanent set. A zero max age expires everything not
// permanent; a negative max age disables the age criterion so only
// orphaned sidecars and stale partial downloads are collected.
type Sweeper struct {
	root      string
	maxAge    time.Duration
	interval  time.Duration
	permanent *PermanentSet
	log       bot.Logger
}

func NewSweeper(root string, maxAge, interval time.Duration, permanent *PermanentSet, log bot.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		root:      root,
		maxAge:    maxAge,
		interval:  interval,
		permanent: permanent,
		log:       log,
	}
}

// Start runs sweeps on the configured interval until the context is done.
// Blocks; run it in its own goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce performs a single pass over the cache tree.
func (s *Sweeper) SweepOnce() {
	removed, reclaimed := 0, int64(0)
	now := time.Now()

	err := filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		// Abandoned partial downloads from interrupted remote streams.
		if isPartial(p) {
			if now.Sub(info.ModTime()) > time.Hour {
				if os.Remove(p) == nil {
					removed++
					reclaimed += info.Size()
				}
			}
			return nil
		}

		if isSidecar(p) {
			// Sidecars live and die with their audio file; orphans are
			// collected here, live ones when the audio file goes.
			if !hasAudioSibling(p) {
				_ = os.Remove(p)
			}
			return nil
		}

		if s.maxAge < 0 {
			return nil
		}
		if s.permanent.Has(rel) {
			return nil
		}
		if now.Sub(info.ModTime()) < s.maxAge {
			return nil
		}

		size := info.Size()
		if err := os.Remove(p); err != nil {
			s.log.Debug("sweep remove failed", "path", p, "error", err)
			return nil
		}
		_ = os.Remove(SidecarPath(p))
		removed++
		reclaimed += size
		return nil
	})
	if err != nil {
		s.log.Warn("cache sweep failed", "error", err)
		return
	}

	if removed > 0 {
		s.log.Info("cache sweep done", "removed", removed, "reclaimed_bytes", reclaimed)
	}
}

// hasAudioSibling reports whether any non-sidecar file shares the sidecar's
// identifier stem.
func hasAudioSibling(sidecarPath string) bool {
	stem := strings.TrimSuffix(sidecarPath, sidecarSuffix)
	matches, err := filepath.Glob(stem + ".*")
	if err != nil {
		return true
	}
	for _, match := range matches {
		if !isSidecar(match) && !isPartial(match) {
			return true
		}
	}
	return false
}
