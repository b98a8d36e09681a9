package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eliaskho/MusicVault-Go/bot"
)

func writeCacheFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestSweepRespectsPermanence(t *testing.T) {
	root := t.TempDir()
	permanent := NewPermanentSet()

	registered := writeCacheFile(t, root, "youtube/keepme.opus", "a")
	unregistered := writeCacheFile(t, root, "youtube/collectme.opus", "b")
	permanent.Mark("youtube/keepme.opus")

	// Everything not permanent is expired at maxAge zero.
	sweeper := NewSweeper(root, 0, time.Hour, permanent, nopLogger{})
	sweeper.SweepOnce()

	if _, err := os.Stat(registered); err != nil {
		t.Fatalf("permanent file swept: %v", err)
	}
	if _, err := os.Stat(unregistered); !os.IsNotExist(err) {
		t.Fatal("expected unregistered file swept")
	}
}

func TestSweepSkipsYoungFiles(t *testing.T) {
	root := t.TempDir()
	path := writeCacheFile(t, root, "netease/fresh.mp3", "x")

	sweeper := NewSweeper(root, time.Hour, time.Hour, NewPermanentSet(), nopLogger{})
	sweeper.SweepOnce()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("young file swept: %v", err)
	}
}

func TestSweepAgedFileTakesSidecarAlong(t *testing.T) {
	root := t.TempDir()
	audio := writeCacheFile(t, root, "netease/old.mp3", "x")
	if err := WriteSidecar(audio, &Sidecar{Identifier: "old", Service: bot.ServiceNetease}); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(audio, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	sweeper := NewSweeper(root, time.Hour, time.Hour, NewPermanentSet(), nopLogger{})
	sweeper.SweepOnce()

	if _, err := os.Stat(audio); !os.IsNotExist(err) {
		t.Fatal("expected aged file swept")
	}
	if _, err := os.Stat(SidecarPath(audio)); !os.IsNotExist(err) {
		t.Fatal("expected sidecar swept with its audio file")
	}
}

func TestSweepCollectsOrphanSidecar(t *testing.T) {
	root := t.TempDir()
	orphan := writeCacheFile(t, root, "youtube/gone.meta.json", "{}")

	// Negative max age disables the age criterion entirely.
	sweeper := NewSweeper(root, -1, time.Hour, NewPermanentSet(), nopLogger{})
	sweeper.SweepOnce()

	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatal("expected orphan sidecar collected")
	}
}

func TestSweepKeepsLiveSidecar(t *testing.T) {
	root := t.TempDir()
	audio := writeCacheFile(t, root, "youtube/live.opus", "x")
	if err := WriteSidecar(audio, &Sidecar{Identifier: "live", Service: bot.ServiceYouTube}); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	sweeper := NewSweeper(root, -1, time.Hour, NewPermanentSet(), nopLogger{})
	sweeper.SweepOnce()

	if _, err := os.Stat(SidecarPath(audio)); err != nil {
		t.Fatalf("live sidecar swept: %v", err)
	}
	if _, err := os.Stat(audio); err != nil {
		t.Fatalf("audio swept with age criterion disabled: %v", err)
	}
}

func TestSweepCollectsStalePartials(t *testing.T) {
	root := t.TempDir()
	partial := writeCacheFile(t, root, "youtube/interrupted.opus.part", "x")
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(partial, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	fresh := writeCacheFile(t, root, "youtube/inflight.opus.part", "x")

	sweeper := NewSweeper(root, -1, time.Hour, NewPermanentSet(), nopLogger{})
	sweeper.SweepOnce()

	if _, err := os.Stat(partial); !os.IsNotExist(err) {
		t.Fatal("expected stale partial collected")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh partial collected: %v", err)
	}
}
