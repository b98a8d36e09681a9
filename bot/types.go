package bot

import (
	"strings"
	"time"
)

// Service identifies the catalog a track identifier is scoped to.
type Service string

const (
	ServiceYouTube    Service = "youtube"
	ServiceSoundCloud Service = "soundcloud"
	ServiceSpotify    Service = "spotify"
	ServiceApple      Service = "apple"
	ServiceNetease    Service = "netease"
	ServiceOther      Service = "other"
)

// Services lists every known service, in cache-directory order.
var Services = []Service{
	ServiceYouTube,
	ServiceSoundCloud,
	ServiceSpotify,
	ServiceApple,
	ServiceNetease,
	ServiceOther,
}

// ParseService maps a free-form string to a Service, defaulting to ServiceOther.
func ParseService(name string) Service {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "youtube", "yt":
		return ServiceYouTube
	case "soundcloud", "sc":
		return ServiceSoundCloud
	case "spotify":
		return ServiceSpotify
	case "apple", "applemusic", "itunes":
		return ServiceApple
	case "netease", "ncm", "163":
		return ServiceNetease
	default:
		return ServiceOther
	}
}

func (s Service) String() string { return string(s) }

// Valid reports whether the service is one of the known catalog values.
func (s Service) Valid() bool {
	for _, known := range Services {
		if s == known {
			return true
		}
	}
	return false
}

// CacheRecord is the authoritative metadata row for one cached track.
// One row exists per unique (identifier, service) pair.
type CacheRecord struct {
	ID        uint
	CreatedAt time.Time
	UpdatedAt time.Time

	Identifier string
	Service    Service

	Title     string
	SourceURL string

	// RemotePath is the forward-slash path on the remote store. Empty means
	// the file has not been promoted yet.
	RemotePath string

	FileExt         string
	FileSizeBytes   int64
	DurationSeconds int

	LastAccessedAt time.Time
	AccessCount    int64

	// IsProcessing is set while a promotion is in flight. The local copy
	// must not be deleted while this is true.
	IsProcessing bool

	// AltService/AltIdentifier record a soft backreference when the same
	// audio is cached under a second service (e.g. a netease track resolved
	// to a YouTube source). Diagnostic only; the two rows may drift.
	AltService    Service
	AltIdentifier string
}

// TrackMeta carries best-effort metadata alongside a file handed to Store.
type TrackMeta struct {
	Title           string
	FileExt         string
	DurationSeconds int
	AltService      Service
	AltIdentifier   string
}
