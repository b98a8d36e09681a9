package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eliaskho/MusicVault-Go/bot"
	"github.com/stretchr/testify/require"
)

func TestSidecarRoundTrip(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "abc12345678.opus")

	sc := &Sidecar{
		Identifier:      "abc12345678",
		Service:         bot.ServiceYouTube,
		Title:           "A Song",
		SourceURL:       "https://youtu.be/abc12345678",
		FileExt:         "opus",
		FileSizeBytes:   4096,
		DurationSeconds: 212,
	}
	require.NoError(t, WriteSidecar(audioPath, sc))
	require.False(t, sc.CachedAt.IsZero(), "CachedAt must be stamped on write")

	got, err := ReadSidecar(audioPath)
	require.NoError(t, err)
	require.Equal(t, sc.Identifier, got.Identifier)
	require.Equal(t, sc.Service, got.Service)
	require.Equal(t, sc.Title, got.Title)
	require.Equal(t, sc.FileSizeBytes, got.FileSizeBytes)
}

func TestSidecarPathMapping(t *testing.T) {
	require.Equal(t, "/c/youtube/abc.meta.json", SidecarPath("/c/youtube/abc.opus"))
	require.True(t, isSidecar("/c/youtube/abc.meta.json"))
	require.False(t, isSidecar("/c/youtube/abc.opus"))
}

func TestReadSidecarCorrupt(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "bad.opus")
	require.NoError(t, os.WriteFile(SidecarPath(audioPath), []byte("{truncated"), 0644))

	_, err := ReadSidecar(audioPath)
	require.Error(t, err, "corrupt sidecar must surface as an error for callers to treat as absent")
}
