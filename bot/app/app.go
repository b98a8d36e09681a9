// Package app wires the application container: config, logger, cache
// index, remote store, orchestrator, sweeper and the extraction pipeline.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eliaskho/MusicVault-Go/bot"
	"github.com/eliaskho/MusicVault-Go/bot/cache"
	"github.com/eliaskho/MusicVault-Go/bot/config"
	"github.com/eliaskho/MusicVault-Go/bot/db"
	"github.com/eliaskho/MusicVault-Go/bot/download"
	"github.com/eliaskho/MusicVault-Go/bot/extract"
	logpkg "github.com/eliaskho/MusicVault-Go/bot/logger"
	"github.com/eliaskho/MusicVault-Go/bot/remote"
	"github.com/eliaskho/MusicVault-Go/bot/worker"
)

// App wires all application dependencies.
type App struct {
	Config       *config.Config
	Logger       *logpkg.Logger
	DB           *db.Repository
	Pool         *worker.Pool
	Remote       *remote.Client
	Orchestrator *cache.Orchestrator
	Sweeper      *cache.Sweeper
	Extractor    *extract.Service
	Downloader   *download.Service
	Build        BuildInfo
}

// BuildInfo provides build-time metadata.
type BuildInfo struct {
	RuntimeVer string
	BinVersion string
	CommitSHA  string
	BuildTime  string
	BuildArch  string
}

// New builds the application container.
func New(ctx context.Context, configPath string, build BuildInfo) (*App, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logpkg.New(conf.GetString("LogLevel"), conf.GetString("LogFormat"), conf.GetBool("LogSource"))
	if err != nil {
		return nil, err
	}

	gormLogger := logpkg.NewGormLogger(log.Slog(), logpkg.ParseGormLevel(conf.GetString("GormLogLevel")))
	databasePath := strings.TrimSpace(conf.GetString("Database"))
	if databasePath == "" {
		databasePath = "cache.db"
	}

	repo, err := db.NewSQLiteRepository(databasePath, gormLogger)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	lifetime := time.Duration(conf.GetInt("DBConnMaxLifetimeSec")) * time.Second
	if err := repo.ConfigurePool(conf.GetInt("DBMaxOpenConns"), conf.GetInt("DBMaxIdleConns"), lifetime); err != nil {
		return nil, fmt.Errorf("configure db pool: %w", err)
	}

	pool := worker.New(conf.GetInt("WorkerPoolSize"))

	var remoteClient *remote.Client
	sshConfig := remote.SSHConfig{
		Host:     conf.GetString("RemoteHost"),
		Port:     conf.GetInt("RemotePort"),
		User:     conf.GetString("RemoteUser"),
		Password: conf.GetString("RemotePassword"),
		KeyFile:  conf.GetString("RemoteKeyFile"),
	}
	if conf.GetBool("RemoteEnabled") && sshConfig.Host != "" {
		remoteClient = remote.New(
			remote.NewSSHDialer(sshConfig),
			remote.Options{
				Root:       conf.GetString("RemoteRoot"),
				MaxRetries: conf.GetInt("RemoteMaxRetries"),
				RetryDelay: time.Duration(conf.GetInt("RemoteRetryDelaySec")) * time.Second,
			},
			log,
		)
	}

	cacheDir := strings.TrimSpace(conf.GetString("CacheDir"))
	if cacheDir == "" {
		cacheDir = "./cache"
	}

	orchestrator := cache.NewOrchestrator(repo, remoteStoreOrNil(remoteClient), pool, log, cache.Options{
		Root:             cacheDir,
		KeepFiles:        conf.GetBool("KeepFiles"),
		UploadsPerSecond: conf.GetFloat64("UploadsPerSecond"),
	})

	sweeper := cache.NewSweeper(
		cacheDir,
		time.Duration(conf.GetInt("MaxCacheAgeHours"))*time.Hour,
		time.Duration(conf.GetInt("SweepIntervalMin"))*time.Minute,
		orchestrator.Permanent(),
		log,
	)

	downloader := download.NewService(download.Options{
		Timeout:    time.Duration(conf.GetInt("DownloadTimeout")) * time.Second,
		MaxRetries: conf.GetInt("DownloadMaxRetries"),
		CheckMD5:   conf.GetBool("CheckMD5"),
	}, log)

	runner := buildRunner(conf, sshConfig, log)
	extractor := extract.NewService(orchestrator, runner, downloader, log)

	return &App{
		Config:       conf,
		Logger:       log,
		DB:           repo,
		Pool:         pool,
		Remote:       remoteClient,
		Orchestrator: orchestrator,
		Sweeper:      sweeper,
		Extractor:    extractor,
		Downloader:   downloader,
		Build:        build,
	}, nil
}

func buildRunner(conf *config.Config, sshConfig remote.SSHConfig, log *logpkg.Logger) extract.Runner {
	timeout := time.Duration(conf.GetInt("ExtractorTimeoutSec")) * time.Second
	format := conf.GetString("ExtractorAudioFormat")

	if conf.GetBool("ExtractorRemote") {
		return extract.NewRemoteRunner(sshConfig, extract.RemoteOptions{
			ToolPath:    conf.GetString("ExtractorPath"),
			TmpRoot:     conf.GetString("ExtractorRemoteTmp"),
			Timeout:     timeout,
			AudioFormat: format,
		}, log)
	}

	runner, err := extract.NewLocalRunner(extract.LocalOptions{
		ToolPath:    conf.GetString("ExtractorPath"),
		Timeout:     timeout,
		AudioFormat: format,
	}, log)
	if err != nil {
		log.Warn("extraction tool not found, materialization disabled", "error", err)
		return extract.MissingRunner{}
	}
	return runner
}

// remoteStoreOrNil avoids handing the orchestrator a typed-nil interface.
func remoteStoreOrNil(client *remote.Client) bot.RemoteStore {
	if client == nil {
		return nil
	}
	return client
}

// Start connects the remote store, seeds the permanent set and launches
// the background sweeper.
func (a *App) Start(ctx context.Context) error {
	if a.Remote != nil {
		if err := a.Remote.Connect(ctx); err != nil {
			a.Logger.Warn("remote store unavailable at startup", "error", err)
		}
	}

	a.Orchestrator.SeedPermanent(ctx)

	if total, err := a.DB.Count(ctx); err != nil {
		a.Logger.Warn("cache index stats unavailable", "error", err)
	} else {
		byService, _ := a.DB.CountByService(ctx)
		a.Logger.Info("cache index loaded", "tracks", total, "by_service", byService)
	}

	go a.Sweeper.Start(ctx)

	a.Logger.Info("musicvault started",
		"version", a.Build.BinVersion,
		"commit", a.Build.CommitSHA,
		"runtime", a.Build.RuntimeVer,
	)
	return nil
}

// Shutdown releases resources: drains promotions, stops the pool, closes
// the remote session, the database and the log file.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error

	if a.Orchestrator != nil {
		if err := a.Orchestrator.WaitPromotions(ctx); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("drain promotions: %w", err)
			}
		}
	}

	if a.Pool != nil {
		if err := a.Pool.Shutdown(ctx); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("shutdown worker pool: %w", err)
			}
		}
	}

	if a.Remote != nil {
		if err := a.Remote.Close(); err != nil {
			if a.Logger != nil {
				a.Logger.Error("failed to close remote store", "error", err)
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("close remote store: %w", err)
			}
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			if a.Logger != nil {
				a.Logger.Error("failed to close database", "error", err)
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("close database: %w", err)
			}
		}
	}

	if a.Logger != nil {
		if err := a.Logger.Close(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("close logger: %w", err)
			}
		}
	}

	return firstErr
}
