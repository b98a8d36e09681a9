package download

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchWritesDestination(t *testing.T) {
	payload := []byte("direct-audio-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	svc := NewService(Options{Timeout: 5 * time.Second}, nil)
	destPath := filepath.Join(t.TempDir(), "nested", "track.m4a")

	written, err := svc.Fetch(t.Context(), &Info{URL: server.URL}, destPath, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if written != int64(len(payload)) {
		t.Fatalf("written = %d, want %d", written, len(payload))
	}
	got, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("content mismatch: %q", got)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok-after-retries"))
	}))
	defer server.Close()

	svc := NewService(Options{Timeout: 5 * time.Second, MaxRetries: 3}, nil)
	destPath := filepath.Join(t.TempDir(), "track.m4a")

	if _, err := svc.Fetch(t.Context(), &Info{URL: server.URL}, destPath, nil); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestFetchSizeMismatchRemovesFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("short"))
	}))
	defer server.Close()

	svc := NewService(Options{Timeout: 5 * time.Second}, nil)
	destPath := filepath.Join(t.TempDir(), "track.m4a")

	_, err := svc.Fetch(t.Context(), &Info{URL: server.URL, Size: 9999}, destPath, nil)
	if err == nil {
		t.Fatal("expected size mismatch error")
	}
	if _, statErr := os.Stat(destPath); !os.IsNotExist(statErr) {
		t.Fatal("expected partial file removed")
	}
}

func TestFetchVerifiesMD5(t *testing.T) {
	payload := []byte("checksummed-bytes")
	sum := md5.Sum(payload)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	svc := NewService(Options{Timeout: 5 * time.Second, CheckMD5: true}, nil)
	destPath := filepath.Join(t.TempDir(), "track.m4a")

	info := &Info{URL: server.URL, MD5: hex.EncodeToString(sum[:])}
	if _, err := svc.Fetch(t.Context(), info, destPath, nil); err != nil {
		t.Fatalf("fetch with valid md5: %v", err)
	}

	bad := &Info{URL: server.URL, MD5: "00000000000000000000000000000000"}
	destPath2 := filepath.Join(t.TempDir(), "track2.m4a")
	if _, err := svc.Fetch(t.Context(), bad, destPath2, nil); err == nil {
		t.Fatal("expected md5 mismatch error")
	}
	if _, statErr := os.Stat(destPath2); !os.IsNotExist(statErr) {
		t.Fatal("expected mismatched file removed")
	}
}

func TestFetchMissingInfo(t *testing.T) {
	svc := NewService(Options{}, nil)
	if _, err := svc.Fetch(t.Context(), nil, filepath.Join(t.TempDir(), "x"), nil); err == nil {
		t.Fatal("expected error for nil info")
	}
	if _, err := svc.Fetch(t.Context(), &Info{URL: "http://x"}, "", nil); err == nil {
		t.Fatal("expected error for empty dest")
	}
}
