// Package resolver derives a canonical service and a stable per-track
// identifier from raw track references. Identifiers are the cache keys used
// by every other component; extraction is total and never fails, falling
// back to a short hash of the normalized URL when no pattern matches.
package resolver

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/eliaskho/MusicVault-Go/bot"
	"github.com/eliaskho/MusicVault-Go/bot/util"
)

// hashLen is the length of the fallback identifier. Hash-derived keys are
// weak (two URLs for the same track may hash apart) but always stable.
const hashLen = 10

// NCMScheme is the non-URL shorthand for the netease catalog,
// e.g. "ncm:chart", "ncm:track:12345", "ncm:playlist:67890".
const NCMScheme = "ncm:"

var (
	youtubeIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[?&]v=([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`/embed/([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`/shorts/([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`/live/([A-Za-z0-9_-]{11})`),
	}
	youtubeBareID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

	spotifyIDPattern = regexp.MustCompile(`/(track|album|playlist)/([A-Za-z0-9]+)`)
	appleIDPattern   = regexp.MustCompile(`/(song|album|playlist)/[^/]*/?(\d+)`)
	neteaseIDPattern = regexp.MustCompile(`(?:[?&]id=|/song/)(\d+)`)
	digitsPattern    = regexp.MustCompile(`^\d+$`)
)

// Classify detects the service and a coarse reference type from a raw track
// reference. rawType is best-effort ("track", "album", "playlist", "chart",
// "video" or "unknown") and is informational only.
func Classify(raw string) (bot.Service, string) {
	ref := strings.TrimSpace(raw)
	lower := strings.ToLower(ref)

	if strings.HasPrefix(lower, NCMScheme) {
		rest := strings.TrimPrefix(lower, NCMScheme)
		switch {
		case rest == "chart":
			return bot.ServiceNetease, "chart"
		case strings.HasPrefix(rest, "track:"):
			return bot.ServiceNetease, "track"
		case strings.HasPrefix(rest, "playlist:"):
			return bot.ServiceNetease, "playlist"
		default:
			return bot.ServiceNetease, "unknown"
		}
	}

	switch {
	case containsAny(lower, "youtube.com", "youtu.be", "music.youtube.com"):
		return bot.ServiceYouTube, "video"
	case containsAny(lower, "soundcloud.com", "snd.sc"):
		return bot.ServiceSoundCloud, "track"
	case strings.Contains(lower, "open.spotify.com"):
		return bot.ServiceSpotify, spotifyRefType(lower)
	case containsAny(lower, "music.apple.com", "itunes.apple.com"):
		return bot.ServiceApple, appleRefType(lower)
	case containsAny(lower, "music.163.com", "163cn.tv"):
		return bot.ServiceNetease, "track"
	default:
		return bot.ServiceOther, "unknown"
	}
}

func spotifyRefType(lower string) string {
	if m := spotifyIDPattern.FindStringSubmatch(lower); m != nil {
		return m[1]
	}
	return "unknown"
}

func appleRefType(lower string) string {
	switch {
	case strings.Contains(lower, "/song/"):
		return "track"
	case strings.Contains(lower, "/album/"):
		return "album"
	case strings.Contains(lower, "/playlist/"):
		return "playlist"
	default:
		return "unknown"
	}
}

// ExtractIdentifier derives the service-scoped stable identifier for a raw
// reference. It is total: when no pattern matches it returns a short hash of
// the normalized URL, so callers always get a usable cache key.
func ExtractIdentifier(raw string, service bot.Service) string {
	ref := strings.TrimSpace(raw)

	switch service {
	case bot.ServiceYouTube:
		for _, pattern := range youtubeIDPatterns {
			if m := pattern.FindStringSubmatch(ref); m != nil {
				return m[1]
			}
		}
		if youtubeBareID.MatchString(ref) {
			return ref
		}
	case bot.ServiceSoundCloud:
		if id := lastPathSegment(ref); len(id) >= 3 {
			return id
		}
	case bot.ServiceSpotify:
		if m := spotifyIDPattern.FindStringSubmatch(ref); m != nil {
			return m[2]
		}
	case bot.ServiceApple:
		if id := appleQueryID(ref); id != "" {
			return id
		}
		if m := appleIDPattern.FindStringSubmatch(ref); m != nil {
			return m[2]
		}
	case bot.ServiceNetease:
		if strings.HasPrefix(strings.ToLower(ref), NCMScheme) {
			rest := ref[len(NCMScheme):]
			if idx := strings.LastIndex(rest, ":"); idx >= 0 && digitsPattern.MatchString(rest[idx+1:]) {
				return rest[idx+1:]
			}
			return strings.ToLower(rest)
		}
		if m := neteaseIDPattern.FindStringSubmatch(ref); m != nil {
			return m[1]
		}
	}

	return util.HashToken(NormalizeURL(ref, service), hashLen)
}

// NormalizeURL strips tracking noise so equivalent references hash alike.
// YouTube URLs are rewritten to the canonical watch form; other services
// lose their query string only where it cannot carry the identifier.
func NormalizeURL(raw string, service bot.Service) string {
	ref := strings.TrimSpace(raw)

	switch service {
	case bot.ServiceYouTube:
		for _, pattern := range youtubeIDPatterns {
			if m := pattern.FindStringSubmatch(ref); m != nil {
				return "https://www.youtube.com/watch?v=" + m[1]
			}
		}
		if youtubeBareID.MatchString(ref) {
			return "https://www.youtube.com/watch?v=" + ref
		}
		return ref
	case bot.ServiceSoundCloud, bot.ServiceSpotify:
		if idx := strings.Index(ref, "?"); idx != -1 {
			return ref[:idx]
		}
		return ref
	default:
		// Apple keeps i=, netease keeps id=; the query carries the key.
		return ref
	}
}

// Resolve is the convenience entry point combining Classify and
// ExtractIdentifier for callers that only hold a raw URL.
func Resolve(raw string) (bot.Service, string) {
	service, _ := Classify(raw)
	return service, ExtractIdentifier(raw, service)
}

func appleQueryID(ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	id := parsed.Query().Get("i")
	if digitsPattern.MatchString(id) {
		return id
	}
	return ""
}

func lastPathSegment(ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	trimmed := strings.Trim(parsed.Path, "/")
	if trimmed == "" {
		return ""
	}
	segments := strings.Split(trimmed, "/")
	return segments[len(segments)-1]
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
