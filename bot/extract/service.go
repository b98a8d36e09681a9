package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/eliaskho/MusicVault-Go/bot"
	"github.com/eliaskho/MusicVault-Go/bot/download"
	"github.com/eliaskho/MusicVault-Go/bot/resolver"
	"go.senan.xyz/taglib"
	"golang.org/x/sync/singleflight"
)

// Reason classifies a materialization failure for callers that present
// user-facing messages. The distinctions are logged; the UI layer collapses
// them to a generic "could not play this track".
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonToolMissing Reason = "tool_missing"
	ReasonToolFailed  Reason = "tool_failed"
	ReasonEmptyOutput Reason = "empty_output"
	ReasonStoreFailed Reason = "store_failed"
	ReasonCanceled    Reason = "canceled"
)

// Result is the materialization outcome. Tool failures never cross this
// boundary as errors; they arrive as a Reason plus detail.
type Result struct {
	Success    bool
	CacheHit   bool
	LocalPath  string
	Title      string
	Identifier string
	Service    bot.Service
	Reason     Reason
	Detail     string
}

// Options carries caller-known identity for one materialization.
type Options struct {
	Service    bot.Service
	Identifier string
}

// Cache is the orchestrator surface the service depends on.
type Cache interface {
	ResolveLocalPath(ctx context.Context, sourceURL, identifier string, service bot.Service) (string, bool)
	Store(ctx context.Context, sourceURL, tempPath string, meta bot.TrackMeta, identifier string, service bot.Service) (string, error)
}

// Service materializes tracks: cache check, tool probe, audio extraction,
// then registration with the orchestrator. Concurrent identical requests
// for the same identifier collapse onto one extraction.
type Service struct {
	cache   Cache
	runner  Runner
	fetcher *download.Service
	log     bot.Logger
	group   singleflight.Group
}

// NewService wires the materialization pipeline. fetcher may be nil; the
// direct-URL shortcut is then skipped.
func NewService(cache Cache, runner Runner, fetcher *download.Service, log bot.Logger) *Service {
	return &Service{cache: cache, runner: runner, fetcher: fetcher, log: log}
}

// Materialize resolves a URL to a cached local file, extracting it first if
// needed.
func (s *Service) Materialize(ctx context.Context, url string, opts Options) Result {
	service := opts.Service
	if !service.Valid() {
		service, _ = resolver.Classify(url)
	}
	identifier := opts.Identifier
	if identifier == "" {
		identifier = resolver.ExtractIdentifier(url, service)
	}

	key := service.String() + "/" + identifier
	v, _, _ := s.group.Do(key, func() (interface{}, error) {
		return s.materializeOne(ctx, url, identifier, service, opts), nil
	})
	return v.(Result)
}

func (s *Service) materializeOne(ctx context.Context, url, identifier string, service bot.Service, opts Options) Result {
	if localPath, ok := s.cache.ResolveLocalPath(ctx, url, identifier, service); ok {
		return Result{
			Success:    true,
			CacheHit:   true,
			LocalPath:  localPath,
			Identifier: identifier,
			Service:    service,
		}
	}

	meta, err := s.runner.Probe(ctx, url)
	if err != nil {
		// Extraction can still succeed without the probe; metadata is then
		// rebuilt from the audio file.
		s.log.Debug("metadata probe failed", "url", url, "error", err)
		meta = &Metadata{}
	}

	tmpDir, err := os.MkdirTemp("", "musicvault_*")
	if err != nil {
		return failure(identifier, service, ReasonToolFailed, err.Error())
	}
	defer os.RemoveAll(tmpDir)

	audioPath, reason, detail := s.fetchAudio(ctx, url, meta, tmpDir)
	if reason != ReasonNone {
		if ctx.Err() != nil {
			reason = ReasonCanceled
		}
		return failure(identifier, service, reason, detail)
	}
	if size := fileSize(audioPath); size == 0 {
		return failure(identifier, service, ReasonEmptyOutput, "extracted file is empty")
	}

	title, duration := s.probeAudio(audioPath, meta)

	trackMeta := bot.TrackMeta{
		Title:           title,
		FileExt:         extOf(audioPath),
		DurationSeconds: duration,
	}

	// A caller-supplied catalog identity that differs from the source
	// identity gets its own row; each row backreferences the other.
	sourceService, _ := resolver.Classify(url)
	sourceID := resolver.ExtractIdentifier(url, sourceService)
	crossService := opts.Service.Valid() && sourceService.Valid() &&
		opts.Service != sourceService && opts.Identifier != ""

	if crossService {
		trackMeta.AltService = opts.Service
		trackMeta.AltIdentifier = opts.Identifier
		identifier = sourceID
		service = sourceService
	}

	localPath, err := s.cache.Store(ctx, url, audioPath, trackMeta, identifier, service)
	if err != nil {
		return failure(identifier, service, ReasonStoreFailed, err.Error())
	}

	if crossService {
		altMeta := trackMeta
		altMeta.AltService = service
		altMeta.AltIdentifier = identifier
		if _, err := s.cache.Store(ctx, url, audioPath, altMeta, opts.Identifier, opts.Service); err != nil {
			s.log.Warn("alternate-identity store failed",
				"identifier", opts.Identifier, "service", opts.Service, "error", err)
		}
	}

	return Result{
		Success:    true,
		LocalPath:  localPath,
		Title:      title,
		Identifier: identifier,
		Service:    service,
	}
}

// fetchAudio prefers the direct-URL HTTP path when the probe reported one,
// falling back to the extraction subprocess.
func (s *Service) fetchAudio(ctx context.Context, url string, meta *Metadata, tmpDir string) (string, Reason, string) {
	if meta.DirectURL != "" && s.fetcher != nil {
		destPath := filepath.Join(tmpDir, "audio"+directExt(meta.DirectURL))
		info := &download.Info{URL: meta.DirectURL}
		_, err := s.fetcher.Fetch(ctx, info, destPath, nil)
		if err == nil {
			return destPath, ReasonNone, ""
		}
		s.log.Debug("direct fetch failed, falling back to extraction", "error", err)
	}

	audioPath, err := s.runner.Extract(ctx, url, tmpDir)
	if err != nil {
		if errors.Is(err, ErrToolNotFound) {
			return "", ReasonToolMissing, err.Error()
		}
		return "", ReasonToolFailed, err.Error()
	}
	if audioPath == "" {
		return "", ReasonEmptyOutput, "no output file"
	}
	return audioPath, ReasonNone, ""
}

// probeAudio fills title and duration from the audio file's own tags when
// the tool did not report them.
func (s *Service) probeAudio(audioPath string, meta *Metadata) (string, int) {
	title := meta.Title
	duration := meta.DurationSeconds

	if duration == 0 {
		if props, err := taglib.ReadProperties(audioPath); err == nil {
			duration = int(props.Length.Seconds())
		}
	}
	if title == "" {
		if tags, err := taglib.ReadTags(audioPath); err == nil {
			if vals := tags[taglib.Title]; len(vals) > 0 {
				title = vals[0]
			}
		}
	}
	return title, duration
}

func failure(identifier string, service bot.Service, reason Reason, detail string) Result {
	return Result{
		Identifier: identifier,
		Service:    service,
		Reason:     reason,
		Detail:     detail,
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func extOf(path string) string {
	ext := filepath.Ext(path)
	if len(ext) > 1 {
		return ext[1:]
	}
	return "mp3"
}

func directExt(directURL string) string {
	ext := filepath.Ext(directURL)
	if len(ext) > 1 && len(ext) <= 5 {
		for _, r := range ext[1:] {
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
				return ".m4a"
			}
		}
		return ext
	}
	return ".m4a"
}
