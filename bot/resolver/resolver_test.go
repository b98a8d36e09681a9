package resolver

import (
	"testing"

	"github.com/eliaskho/MusicVault-Go/bot"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		raw     string
		service bot.Service
		refType string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", bot.ServiceYouTube, "video"},
		{"https://youtu.be/dQw4w9WgXcQ", bot.ServiceYouTube, "video"},
		{"https://music.youtube.com/watch?v=dQw4w9WgXcQ", bot.ServiceYouTube, "video"},
		{"https://soundcloud.com/artist/some-track", bot.ServiceSoundCloud, "track"},
		{"https://open.spotify.com/track/4cOdK2wGLETKBW3PvgPWqT", bot.ServiceSpotify, "track"},
		{"https://open.spotify.com/album/6QaVfG1pHYl1z15ZxkvVDW", bot.ServiceSpotify, "album"},
		{"https://music.apple.com/us/album/song-name/1440857781?i=1440857920", bot.ServiceApple, "album"},
		{"https://music.apple.com/us/song/never-gonna/1559523357", bot.ServiceApple, "track"},
		{"https://music.163.com/#/song?id=347230", bot.ServiceNetease, "track"},
		{"ncm:chart", bot.ServiceNetease, "chart"},
		{"ncm:track:12345", bot.ServiceNetease, "track"},
		{"ncm:playlist:67890", bot.ServiceNetease, "playlist"},
		{"https://example.com/whatever", bot.ServiceOther, "unknown"},
	}

	for _, tc := range cases {
		service, refType := Classify(tc.raw)
		if service != tc.service {
			t.Errorf("Classify(%q) service = %q, want %q", tc.raw, service, tc.service)
		}
		if refType != tc.refType {
			t.Errorf("Classify(%q) type = %q, want %q", tc.raw, refType, tc.refType)
		}
	}
}

func TestExtractIdentifier(t *testing.T) {
	cases := []struct {
		raw     string
		service bot.Service
		want    string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", bot.ServiceYouTube, "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", bot.ServiceYouTube, "dQw4w9WgXcQ"},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", bot.ServiceYouTube, "dQw4w9WgXcQ"},
		{"dQw4w9WgXcQ", bot.ServiceYouTube, "dQw4w9WgXcQ"},
		{"https://soundcloud.com/artist/my-great-song", bot.ServiceSoundCloud, "my-great-song"},
		{"https://open.spotify.com/track/4cOdK2wGLETKBW3PvgPWqT?si=xyz", bot.ServiceSpotify, "4cOdK2wGLETKBW3PvgPWqT"},
		{"https://music.apple.com/us/album/name/1440857781?i=1440857920", bot.ServiceApple, "1440857920"},
		{"https://music.apple.com/us/song/name/1559523357", bot.ServiceApple, "1559523357"},
		{"https://music.163.com/#/song?id=347230", bot.ServiceNetease, "347230"},
		{"ncm:track:12345", bot.ServiceNetease, "12345"},
		{"ncm:chart", bot.ServiceNetease, "chart"},
	}

	for _, tc := range cases {
		got := ExtractIdentifier(tc.raw, tc.service)
		if got != tc.want {
			t.Errorf("ExtractIdentifier(%q, %q) = %q, want %q", tc.raw, tc.service, got, tc.want)
		}
	}
}

func TestIdentifierStableAcrossTrackingParams(t *testing.T) {
	plain := "https://www.youtube.com/watch?v=abc12345678"
	tracked := "https://www.youtube.com/watch?v=abc12345678&list=xyz&t=42s"

	first := ExtractIdentifier(plain, bot.ServiceYouTube)
	second := ExtractIdentifier(tracked, bot.ServiceYouTube)
	if first != second {
		t.Fatalf("identifiers differ: %q vs %q", first, second)
	}
	if len(first) != 11 {
		t.Fatalf("expected 11-char id, got %q", first)
	}
}

func TestFallbackHashingIsTotal(t *testing.T) {
	raw := "https://totally-unknown.example/path?x=1"

	first := ExtractIdentifier(raw, bot.ServiceOther)
	if first == "" {
		t.Fatal("expected non-empty identifier for unrecognized URL")
	}
	second := ExtractIdentifier(raw, bot.ServiceOther)
	if first != second {
		t.Fatalf("hash fallback not deterministic: %q vs %q", first, second)
	}
	if len(first) != 10 {
		t.Fatalf("expected 10-char hash token, got %q", first)
	}
}

func TestFallbackOnMalformedServiceURL(t *testing.T) {
	// Looks like spotify but carries no track path; must fall to the hash.
	raw := "https://open.spotify.com/"
	id := ExtractIdentifier(raw, bot.ServiceSpotify)
	if id == "" {
		t.Fatal("expected non-empty identifier")
	}
	if id != ExtractIdentifier(raw, bot.ServiceSpotify) {
		t.Fatal("expected deterministic identifier")
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		raw     string
		service bot.Service
		want    string
	}{
		{"https://youtu.be/dQw4w9WgXcQ?t=10", bot.ServiceYouTube, "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"https://soundcloud.com/a/b?in=playlist", bot.ServiceSoundCloud, "https://soundcloud.com/a/b"},
		{"https://open.spotify.com/track/abc?si=q", bot.ServiceSpotify, "https://open.spotify.com/track/abc"},
		{"https://music.apple.com/us/album/x/1?i=2", bot.ServiceApple, "https://music.apple.com/us/album/x/1?i=2"},
	}

	for _, tc := range cases {
		if got := NormalizeURL(tc.raw, tc.service); got != tc.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestResolve(t *testing.T) {
	service, id := Resolve("https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if service != bot.ServiceYouTube || id != "dQw4w9WgXcQ" {
		t.Fatalf("Resolve = (%q, %q)", service, id)
	}
}
