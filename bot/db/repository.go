package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eliaskho/MusicVault-Go/bot"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Repository provides access to the music cache index.
type Repository struct {
	db *gorm.DB
}

var _ bot.CacheRepository = (*Repository)(nil)

// NewSQLiteRepository creates a repository backed by SQLite.
func NewSQLiteRepository(dsn string, gormLogger logger.Interface) (*Repository, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn required")
	}

	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	dbDir := filepath.Dir(dsn)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 gormLogger,
	})
	if err != nil {
		return nil, err
	}

	if err := applySQLitePragmas(db); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&MusicCacheModel{}); err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Repository{db: db}, nil
}

// ConfigurePool updates the database connection pool settings.
func (r *Repository) ConfigurePool(maxOpen, maxIdle int, maxLifetime time.Duration) error {
	if r == nil || r.db == nil {
		return errors.New("repository not configured")
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	if maxOpen >= 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime >= 0 {
		sqlDB.SetConnMaxLifetime(maxLifetime)
	}
	return nil
}

// Get returns the cache record for (identifier, service), or (nil, nil) when
// no row exists. A non-nil error means the store itself failed; callers fall
// back to filesystem checks rather than treating that as fatal.
func (r *Repository) Get(ctx context.Context, identifier string, service bot.Service) (*bot.CacheRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("repository not configured")
	}
	var model MusicCacheModel
	err := r.db.WithContext(ctx).
		Where("service = ? AND identifier = ?", string(service), identifier).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toInternal(model), nil
}

// Upsert inserts or updates the row keyed on (service, identifier). On
// conflict the access counter increments and the last-access timestamp
// refreshes; provided non-zero fields overwrite, but zero-valued optional
// fields never clobber existing values (coalesce semantics). The unique
// index is the real concurrency guard for the upsert race. The processing
// flag belongs to SetProcessing and is left alone on conflict.
func (r *Repository) Upsert(ctx context.Context, record *bot.CacheRecord) error {
	if r == nil || r.db == nil {
		return errors.New("repository not configured")
	}
	if record == nil {
		return errors.New("record required")
	}

	now := time.Now()
	model := toModel(record)
	if model.LastAccessedAt.IsZero() {
		model.LastAccessedAt = now
	}
	if model.AccessCount == 0 {
		model.AccessCount = 1
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "service"},
				{Name: "identifier"},
			},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"updated_at":       now,
				"last_accessed_at": now,
				"access_count":     gorm.Expr("music_cache.access_count + 1"),
				"title":            gorm.Expr("CASE WHEN excluded.title <> '' THEN excluded.title ELSE music_cache.title END"),
				"source_url":       gorm.Expr("CASE WHEN excluded.source_url <> '' THEN excluded.source_url ELSE music_cache.source_url END"),
				"remote_path":      gorm.Expr("CASE WHEN excluded.remote_path <> '' THEN excluded.remote_path ELSE music_cache.remote_path END"),
				"file_ext":         gorm.Expr("CASE WHEN excluded.file_ext <> '' THEN excluded.file_ext ELSE music_cache.file_ext END"),
				"file_size_bytes":  gorm.Expr("CASE WHEN excluded.file_size_bytes > 0 THEN excluded.file_size_bytes ELSE music_cache.file_size_bytes END"),
				"duration_seconds": gorm.Expr("CASE WHEN excluded.duration_seconds > 0 THEN excluded.duration_seconds ELSE music_cache.duration_seconds END"),
				"alt_service":      gorm.Expr("CASE WHEN excluded.alt_service <> '' THEN excluded.alt_service ELSE music_cache.alt_service END"),
				"alt_identifier":   gorm.Expr("CASE WHEN excluded.alt_identifier <> '' THEN excluded.alt_identifier ELSE music_cache.alt_identifier END"),
			}),
		}).Create(model).Error; err != nil {
			return err
		}
		if err := tx.Where("service = ? AND identifier = ?", model.Service, model.Identifier).First(model).Error; err != nil {
			return err
		}
		record.ID = model.ID
		record.CreatedAt = model.CreatedAt
		record.UpdatedAt = model.UpdatedAt
		record.AccessCount = model.AccessCount
		return nil
	})
}

// Touch increments the access counter and refreshes the last-access
// timestamp only. Called on every cache hit regardless of tier.
func (r *Repository) Touch(ctx context.Context, identifier string, service bot.Service) error {
	if r == nil || r.db == nil {
		return errors.New("repository not configured")
	}
	return r.db.WithContext(ctx).Model(&MusicCacheModel{}).
		Where("service = ? AND identifier = ?", string(service), identifier).
		UpdateColumns(map[string]interface{}{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_accessed_at": time.Now(),
		}).Error
}

// SetProcessing marks or clears the in-flight promotion flag. The demotion
// path reads it before deleting local files.
func (r *Repository) SetProcessing(ctx context.Context, identifier string, service bot.Service, flag bool) error {
	if r == nil || r.db == nil {
		return errors.New("repository not configured")
	}
	return r.db.WithContext(ctx).Model(&MusicCacheModel{}).
		Where("service = ? AND identifier = ?", string(service), identifier).
		UpdateColumn("is_processing", flag).Error
}

// ListPromoted returns every record with a recorded remote path. Used at
// startup to seed the permanent set with files that are safely mirrored.
func (r *Repository) ListPromoted(ctx context.Context) ([]*bot.CacheRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("repository not configured")
	}
	var models []MusicCacheModel
	err := r.db.WithContext(ctx).
		Where("remote_path <> ''").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	records := make([]*bot.CacheRecord, 0, len(models))
	for _, model := range models {
		records = append(records, toInternal(model))
	}
	return records, nil
}

// Count returns total cached tracks.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("repository not configured")
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&MusicCacheModel{}).Count(&count).Error
	return count, err
}

// CountByService returns cached counts grouped by service.
func (r *Repository) CountByService(ctx context.Context) (map[bot.Service]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("repository not configured")
	}
	rows := make([]struct {
		Service string
		Count   int64
	}, 0)
	err := r.db.WithContext(ctx).Model(&MusicCacheModel{}).
		Select("service, COUNT(*) as count").
		Group("service").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make(map[bot.Service]int64, len(rows))
	for _, row := range rows {
		result[bot.Service(row.Service)] = row.Count
	}
	return result, nil
}

// Delete removes the row for (identifier, service).
func (r *Repository) Delete(ctx context.Context, identifier string, service bot.Service) error {
	if r == nil || r.db == nil {
		return errors.New("repository not configured")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Unscoped().Delete(&MusicCacheModel{}, "service = ? AND identifier = ?", string(service), identifier).Error
	})
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func applySQLitePragmas(db *gorm.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-64000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, stmt := range pragmas {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
