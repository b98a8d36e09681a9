package db

import (
	"time"

	"github.com/eliaskho/MusicVault-Go/bot"
	"gorm.io/gorm"
)

// MusicCacheModel mirrors the music_cache schema: one row per unique
// (service, identifier) pair tracking residency and access stats.
type MusicCacheModel struct {
	gorm.Model
	Service         string `gorm:"not null;default:'other';index:idx_service_identifier,unique"`
	Identifier      string `gorm:"not null;default:'';index:idx_service_identifier,unique"`
	Title           string
	SourceURL       string
	RemotePath      string `gorm:"default:''"`
	FileExt         string
	FileSizeBytes   int64
	DurationSeconds int
	LastAccessedAt  time.Time
	AccessCount     int64 `gorm:"not null;default:0"`
	IsProcessing    bool  `gorm:"not null;default:false"`
	AltService      string
	AltIdentifier   string
}

func (MusicCacheModel) TableName() string {
	return "music_cache"
}

func toInternal(model MusicCacheModel) *bot.CacheRecord {
	return &bot.CacheRecord{
		ID:              model.ID,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
		Identifier:      model.Identifier,
		Service:         bot.Service(model.Service),
		Title:           model.Title,
		SourceURL:       model.SourceURL,
		RemotePath:      model.RemotePath,
		FileExt:         model.FileExt,
		FileSizeBytes:   model.FileSizeBytes,
		DurationSeconds: model.DurationSeconds,
		LastAccessedAt:  model.LastAccessedAt,
		AccessCount:     model.AccessCount,
		IsProcessing:    model.IsProcessing,
		AltService:      bot.Service(model.AltService),
		AltIdentifier:   model.AltIdentifier,
	}
}

func toModel(record *bot.CacheRecord) *MusicCacheModel {
	if record == nil {
		return &MusicCacheModel{}
	}

	model := &MusicCacheModel{
		Service:         string(record.Service),
		Identifier:      record.Identifier,
		Title:           record.Title,
		SourceURL:       record.SourceURL,
		RemotePath:      record.RemotePath,
		FileExt:         record.FileExt,
		FileSizeBytes:   record.FileSizeBytes,
		DurationSeconds: record.DurationSeconds,
		LastAccessedAt:  record.LastAccessedAt,
		AccessCount:     record.AccessCount,
		IsProcessing:    record.IsProcessing,
		AltService:      string(record.AltService),
		AltIdentifier:   record.AltIdentifier,
	}

	if record.ID != 0 {
		model.ID = record.ID
	}
	if !record.CreatedAt.IsZero() {
		model.CreatedAt = record.CreatedAt
	}
	if !record.UpdatedAt.IsZero() {
		model.UpdatedAt = record.UpdatedAt
	}

	return model
}
