// Package cache coordinates the three storage tiers behind track playback:
// the in-process permanent set, the local filesystem cache and the remote
// mirror, with the relational index as the source of truth for "is this
// cached, and where".
package cache

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/eliaskho/MusicVault-Go/bot"
	"github.com/eliaskho/MusicVault-Go/bot/resolver"
	"github.com/eliaskho/MusicVault-Go/bot/util"
	"golang.org/x/time/rate"
)

// Options configures the orchestrator.
type Options struct {
	Root string
	// KeepFiles disables demotion entirely (diagnostic/offline mode).
	KeepFiles bool
	// MaxUploadAttempts bounds each promotion task (default 5).
	MaxUploadAttempts int
	// RetryBaseDelay is the unit of the increasing delay between upload
	// attempts (default 2s; tests shrink it).
	RetryBaseDelay time.Duration
	// BusyRetryDelay is the pause before the single unlink retry when a
	// file is still held by a finishing read (default 500ms).
	BusyRetryDelay time.Duration
	// UploadsPerSecond rate-limits promotion uploads; 0 means unlimited.
	UploadsPerSecond float64
}

// Orchestrator answers two questions consistently: "do we already have
// this?" and "where do the bytes live right now?".
type Orchestrator struct {
	repo      bot.CacheRepository
	remote    bot.RemoteStore
	pool      bot.WorkerPool
	log       bot.Logger
	root      string
	keepFiles bool
	permanent *PermanentSet

	maxUploadAttempts int
	retryBaseDelay    time.Duration
	busyRetryDelay    time.Duration
	uploadLimiter     *rate.Limiter

	promoMu    sync.Mutex
	promotions map[string]chan struct{}
}

func NewOrchestrator(repo bot.CacheRepository, remote bot.RemoteStore, pool bot.WorkerPool, log bot.Logger, opts Options) *Orchestrator {
	if opts.Root == "" {
		opts.Root = "./cache"
	}
	if opts.MaxUploadAttempts <= 0 {
		opts.MaxUploadAttempts = 5
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 2 * time.Second
	}
	if opts.BusyRetryDelay <= 0 {
		opts.BusyRetryDelay = 500 * time.Millisecond
	}

	var limiter *rate.Limiter
	if opts.UploadsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.UploadsPerSecond), 1)
	}

	return &Orchestrator{
		repo:              repo,
		remote:            remote,
		pool:              pool,
		log:               log,
		root:              opts.Root,
		keepFiles:         opts.KeepFiles,
		permanent:         NewPermanentSet(),
		maxUploadAttempts: opts.MaxUploadAttempts,
		retryBaseDelay:    opts.RetryBaseDelay,
		busyRetryDelay:    opts.BusyRetryDelay,
		uploadLimiter:     limiter,
		promotions:        make(map[string]chan struct{}),
	}
}

// Permanent exposes the sweep-exemption set (shared with the Sweeper).
func (o *Orchestrator) Permanent() *PermanentSet { return o.permanent }

// SeedPermanent loads the permanent set from every record that already has
// a remote mirror. Called once at startup.
func (o *Orchestrator) SeedPermanent(ctx context.Context) {
	if o.repo == nil {
		return
	}
	records, err := o.repo.ListPromoted(ctx)
	if err != nil {
		o.log.Warn("permanent set seed failed", "error", err)
		return
	}
	o.permanent.Seed(records)
	o.log.Info("permanent set seeded", "entries", o.permanent.Len())
}

func relFileName(service bot.Service, identifier, ext string) string {
	return path.Join(service.String(), identifier+"."+ext)
}

func (o *Orchestrator) localPath(service bot.Service, identifier, ext string) string {
	return filepath.Join(o.root, service.String(), identifier+"."+ext)
}

func remotePathFor(service bot.Service, identifier, ext string) string {
	return path.Join(service.String(), identifier+"."+ext)
}

func promotionKey(service bot.Service, identifier string) string {
	return service.String() + "/" + identifier
}

// ResolveLocalPath resolves a track reference to a readable local file.
// Missing identifier/service are derived from the source URL first, then
// the identifier-bearing implementation runs without recursion. The returned
// bool is false for a soft miss; the caller must materialize the file.
func (o *Orchestrator) ResolveLocalPath(ctx context.Context, sourceURL, identifier string, service bot.Service) (string, bool) {
	if identifier == "" || !service.Valid() {
		if !service.Valid() {
			service, _ = resolver.Classify(sourceURL)
		}
		if identifier == "" {
			identifier = resolver.ExtractIdentifier(sourceURL, service)
		}
	}
	return o.resolveKnown(ctx, sourceURL, identifier, service)
}

func (o *Orchestrator) resolveKnown(ctx context.Context, sourceURL, identifier string, service bot.Service) (string, bool) {
	record, err := o.repo.Get(ctx, identifier, service)
	if err != nil {
		// DB down is a soft miss; the filesystem check below still runs.
		o.log.Warn("cache index lookup failed", "identifier", identifier, "service", service, "error", err)
		record = nil
	}

	// Tier 1: remote mirror recorded in the index.
	if record != nil && record.RemotePath != "" {
		if localPath, ok := o.materializeFromRemote(ctx, record); ok {
			if err := o.repo.Touch(ctx, identifier, service); err != nil {
				o.log.Debug("touch failed", "identifier", identifier, "error", err)
			}
			return localPath, true
		}
	}

	// Tier 2: the local cache directory itself. Filesystem reality wins
	// for "can I read bytes right now".
	localPath, found := o.findLocal(service, identifier, record)
	if found {
		if record == nil {
			o.backfillIndex(ctx, sourceURL, identifier, service, localPath)
		} else if err := o.repo.Touch(ctx, identifier, service); err != nil {
			o.log.Debug("touch failed", "identifier", identifier, "error", err)
		}
		return localPath, true
	}

	return "", false
}

// materializeFromRemote streams the mirrored file down to its expected
// local path. Every failure is a soft miss: the caller falls through to the
// local check instead of propagating the error.
func (o *Orchestrator) materializeFromRemote(ctx context.Context, record *bot.CacheRecord) (string, bool) {
	if o.remote == nil {
		return "", false
	}
	if !o.remote.Available() {
		if err := o.remote.Connect(ctx); err != nil {
			return "", false
		}
	}

	exists, err := o.remote.Exists(ctx, record.RemotePath)
	if err != nil || !exists {
		// A record pointing at a missing remote file is a soft miss.
		o.log.Debug("remote copy not readable", "path", record.RemotePath, "error", err)
		return "", false
	}

	ext := record.FileExt
	if ext == "" {
		ext = trimDot(path.Ext(record.RemotePath))
	}
	localPath := o.localPath(record.Service, record.Identifier, ext)
	if util.FileExists(localPath) {
		return localPath, true
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		o.log.Warn("create cache directory failed", "error", err)
		return "", false
	}

	reader, err := o.remote.ReadStream(ctx, record.RemotePath)
	if err != nil {
		o.log.Debug("remote stream open failed", "path", record.RemotePath, "error", err)
		return "", false
	}
	defer reader.Close()

	tmpPath := localPath + partialSuffix
	out, err := os.Create(tmpPath)
	if err != nil {
		return "", false
	}
	written, copyErr := io.Copy(out, reader)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		o.log.Warn("remote stream copy failed", "path", record.RemotePath, "error", copyErr)
		return "", false
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", false
	}

	// The local copy is a duplicate of a mirrored file: sweep-exempt until
	// demotion retires it.
	o.permanent.Mark(relFileName(record.Service, record.Identifier, ext))
	o.log.Info("materialized from remote store",
		"identifier", record.Identifier,
		"service", record.Service,
		"size", humanize.Bytes(uint64(written)))
	return localPath, true
}

// findLocal locates the cached audio file, using the record's extension
// when known and globbing otherwise.
func (o *Orchestrator) findLocal(service bot.Service, identifier string, record *bot.CacheRecord) (string, bool) {
	if record != nil && record.FileExt != "" {
		localPath := o.localPath(service, identifier, record.FileExt)
		if util.FileExists(localPath) {
			return localPath, true
		}
	}

	pattern := filepath.Join(o.root, service.String(), identifier+".*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", false
	}
	for _, match := range matches {
		if isSidecar(match) || isPartial(match) {
			continue
		}
		if util.FileExists(match) {
			return match, true
		}
	}
	return "", false
}

// backfillIndex reconciles crash-recovered cache state: the file exists on
// disk but the index has no row. Metadata comes from the sidecar when
// parseable, otherwise from file stat alone.
func (o *Orchestrator) backfillIndex(ctx context.Context, sourceURL, identifier string, service bot.Service, localPath string) {
	record := &bot.CacheRecord{
		Identifier:    identifier,
		Service:       service,
		SourceURL:     sourceURL,
		FileExt:       trimDot(filepath.Ext(localPath)),
		FileSizeBytes: util.FileSize(localPath),
	}

	if sc, err := ReadSidecar(localPath); err == nil {
		record.Title = sc.Title
		record.DurationSeconds = sc.DurationSeconds
		record.AltService = sc.AltService
		record.AltIdentifier = sc.AltIdentifier
		if sc.SourceURL != "" {
			record.SourceURL = sc.SourceURL
		}
	}

	if err := o.repo.Upsert(ctx, record); err != nil {
		o.log.Warn("index backfill failed", "identifier", identifier, "error", err)
	}
}

// Store registers freshly materialized bytes in the cache: permanent-set
// mark first, then the local copy, the sidecar, the index row, and an
// asynchronous promotion. The caller keeps ownership of tempPath. Returns
// after the local write; remote availability never blocks it.
func (o *Orchestrator) Store(ctx context.Context, sourceURL, tempPath string, meta bot.TrackMeta, identifier string, service bot.Service) (string, error) {
	if identifier == "" || !service.Valid() {
		if !service.Valid() {
			service, _ = resolver.Classify(sourceURL)
		}
		if identifier == "" {
			identifier = resolver.ExtractIdentifier(sourceURL, service)
		}
	}

	ext := meta.FileExt
	if ext == "" {
		ext = trimDot(filepath.Ext(tempPath))
	}
	if ext == "" {
		ext = "mp3"
	}

	// Mark before any I/O so a concurrent sweep cannot collect the file
	// mid-registration.
	rel := relFileName(service, identifier, ext)
	o.permanent.Mark(rel)

	destPath := o.localPath(service, identifier, ext)
	written, err := util.CopyFile(tempPath, destPath)
	if err != nil {
		o.permanent.Unmark(rel)
		return "", err
	}

	sc := &Sidecar{
		Identifier:      identifier,
		Service:         service,
		Title:           meta.Title,
		SourceURL:       sourceURL,
		FileExt:         ext,
		FileSizeBytes:   written,
		DurationSeconds: meta.DurationSeconds,
		AltService:      meta.AltService,
		AltIdentifier:   meta.AltIdentifier,
	}
	if err := WriteSidecar(destPath, sc); err != nil {
		o.log.Warn("sidecar write failed", "path", destPath, "error", err)
	}

	record := &bot.CacheRecord{
		Identifier:      identifier,
		Service:         service,
		Title:           meta.Title,
		SourceURL:       sourceURL,
		FileExt:         ext,
		FileSizeBytes:   written,
		DurationSeconds: meta.DurationSeconds,
		AltService:      meta.AltService,
		AltIdentifier:   meta.AltIdentifier,
	}
	if err := o.repo.Upsert(ctx, record); err != nil {
		// Local state stays authoritative when the index is down.
		o.log.Warn("cache index write failed", "identifier", identifier, "error", err)
	}

	o.log.Info("cached track",
		"identifier", identifier,
		"service", service,
		"size", humanize.Bytes(uint64(written)))

	o.SchedulePromotion(service, identifier, ext)
	return destPath, nil
}

// SchedulePromotion queues an asynchronous local-to-remote upload. At most
// one promotion per key is in flight; duplicate requests are no-ops.
func (o *Orchestrator) SchedulePromotion(service bot.Service, identifier, ext string) {
	if o.remote == nil {
		return
	}
	key := promotionKey(service, identifier)

	o.promoMu.Lock()
	if _, inflight := o.promotions[key]; inflight {
		o.promoMu.Unlock()
		return
	}
	done := make(chan struct{})
	o.promotions[key] = done
	o.promoMu.Unlock()

	finish := func() {
		o.promoMu.Lock()
		delete(o.promotions, key)
		o.promoMu.Unlock()
		close(done)
	}

	err := o.pool.Submit(func() {
		defer finish()
		o.promote(context.Background(), service, identifier, ext)
	})
	if err != nil {
		finish()
		o.log.Warn("promotion not scheduled", "key", key, "error", err)
	}
}

// promote uploads one file. Failures are logged and leave the record
// eventually retryable (remote path stays empty); the original Store caller
// already got its success result.
func (o *Orchestrator) promote(ctx context.Context, service bot.Service, identifier, ext string) {
	localPath := o.localPath(service, identifier, ext)
	if !util.FileExists(localPath) {
		return
	}

	if err := o.repo.SetProcessing(ctx, identifier, service, true); err != nil {
		o.log.Debug("set processing failed", "identifier", identifier, "error", err)
	}
	defer func() {
		if err := o.repo.SetProcessing(ctx, identifier, service, false); err != nil {
			o.log.Debug("clear processing failed", "identifier", identifier, "error", err)
		}
	}()

	remotePath := remotePathFor(service, identifier, ext)
	var lastErr error
	for attempt := 1; attempt <= o.maxUploadAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.retryBaseDelay * time.Duration(attempt-1)):
			}
		}

		if !o.remote.Available() {
			var connErr error
			if attempt > o.maxUploadAttempts/2 {
				// Halfway through the budget, force a full reconnect
				// instead of the cheap lazy connect.
				connErr = o.remote.Reconnect(ctx)
			} else {
				connErr = o.remote.Connect(ctx)
			}
			if connErr != nil {
				lastErr = connErr
				continue
			}
		}

		if o.uploadLimiter != nil {
			if err := o.uploadLimiter.Wait(ctx); err != nil {
				return
			}
		}

		if err := o.remote.WriteFile(ctx, remotePath, localPath); err != nil {
			lastErr = err
			continue
		}

		size := util.FileSize(localPath)
		record := &bot.CacheRecord{
			Identifier:    identifier,
			Service:       service,
			FileExt:       ext,
			RemotePath:    remotePath,
			FileSizeBytes: size,
		}
		if err := o.repo.Upsert(ctx, record); err != nil {
			o.log.Warn("promotion index update failed", "identifier", identifier, "error", err)
		}
		o.log.Info("promoted to remote store",
			"identifier", identifier,
			"service", service,
			"path", remotePath,
			"size", humanize.Bytes(uint64(size)),
			"attempts", attempt)
		return
	}

	o.log.Warn("promotion gave up",
		"identifier", identifier,
		"service", service,
		"attempts", o.maxUploadAttempts,
		"error", lastErr)
}

// WaitPromotions blocks until every in-flight promotion finishes or the
// context expires. Used by shutdown for deterministic draining.
func (o *Orchestrator) WaitPromotions(ctx context.Context) error {
	o.promoMu.Lock()
	pending := make([]chan struct{}, 0, len(o.promotions))
	for _, done := range o.promotions {
		pending = append(pending, done)
	}
	o.promoMu.Unlock()

	for _, done := range pending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
	}
	return nil
}

// ReleaseAfterPlayback retires the local copy once remote residency is
// confirmed. Returns true only when the local file is gone afterwards;
// false always means "retained", never an error.
func (o *Orchestrator) ReleaseAfterPlayback(ctx context.Context, sourceURL, identifier string) bool {
	service, _ := resolver.Classify(sourceURL)
	if identifier == "" {
		identifier = resolver.ExtractIdentifier(sourceURL, service)
	}

	if o.keepFiles {
		return false
	}

	record, err := o.repo.Get(ctx, identifier, service)
	if err != nil {
		o.log.Warn("cache index lookup failed", "identifier", identifier, "error", err)
		record = nil
	}

	localPath, found := o.findLocal(service, identifier, record)
	if !found {
		return true
	}
	ext := trimDot(filepath.Ext(localPath))

	if record != nil && record.IsProcessing {
		// A promotion is mid-flight; deleting now could lose the upload
		// source.
		return false
	}

	if record == nil || record.RemotePath == "" {
		// Not mirrored yet: keep the file and make sure it gets there.
		o.SchedulePromotion(service, identifier, ext)
		return false
	}

	if o.remote == nil {
		return false
	}
	if !o.remote.Available() {
		if err := o.remote.Connect(ctx); err != nil {
			return false
		}
	}
	exists, err := o.remote.Exists(ctx, record.RemotePath)
	if err != nil || !exists {
		return false
	}

	if !o.removeWithRetry(localPath) {
		return false
	}
	_ = os.Remove(SidecarPath(localPath))
	o.permanent.Unmark(relFileName(service, identifier, ext))
	o.log.Info("demoted local copy", "identifier", identifier, "service", service)
	return true
}

// removeWithRetry tolerates the transient "file busy" right after a
// streaming read completes: one deferred retry, then give up silently.
func (o *Orchestrator) removeWithRetry(localPath string) bool {
	err := os.Remove(localPath)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return true
	}
	time.Sleep(o.busyRetryDelay)
	err = os.Remove(localPath)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return true
	}
	o.log.Debug("local delete deferred", "path", localPath, "error", err)
	return false
}

func trimDot(ext string) string {
	if len(ext) > 0 && ext[0] == '.' {
		return ext[1:]
	}
	return ext
}
