package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eliaskho/MusicVault-Go/bot"
)

// Sidecar mirrors a subset of the cache record next to the audio file so
// crash-recovered caches can be reconciled without the database.
type Sidecar struct {
	Identifier      string      `json:"identifier"`
	Service         bot.Service `json:"service"`
	Title           string      `json:"title,omitempty"`
	SourceURL       string      `json:"sourceUrl,omitempty"`
	FileExt         string      `json:"fileExt,omitempty"`
	FileSizeBytes   int64       `json:"fileSizeBytes,omitempty"`
	DurationSeconds int         `json:"durationSeconds,omitempty"`
	AltService      bot.Service `json:"altService,omitempty"`
	AltIdentifier   string      `json:"altIdentifier,omitempty"`
	CachedAt        time.Time   `json:"cachedAt"`
}

const sidecarSuffix = ".meta.json"

// partialSuffix marks an in-progress remote stream. Partial files are never
// served as cache hits; stale ones are collected by the sweeper.
const partialSuffix = ".part"

func isPartial(name string) bool {
	return strings.HasSuffix(name, partialSuffix)
}

// SidecarPath maps an audio path to its sidecar path
// ({identifier}.{ext} -> {identifier}.meta.json).
func SidecarPath(audioPath string) string {
	base := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
	return base + sidecarSuffix
}

func isSidecar(name string) bool {
	return strings.HasSuffix(name, sidecarSuffix)
}

// WriteSidecar persists the sidecar next to the audio file.
func WriteSidecar(audioPath string, sc *Sidecar) error {
	if sc.CachedAt.IsZero() {
		sc.CachedAt = time.Now()
	}
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(SidecarPath(audioPath), data, 0644)
}

// ReadSidecar loads the sidecar for an audio file. Unparseable content is
// reported as an error; callers treat it as absent metadata and rebuild
// from file stat or the database.
func ReadSidecar(audioPath string) (*Sidecar, error) {
	data, err := os.ReadFile(SidecarPath(audioPath))
	if err != nil {
		return nil, err
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}
