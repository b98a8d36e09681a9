// Package extract turns a track URL into audio bytes on local disk by
// driving an external extraction tool, then registers the result with the
// cache orchestrator.
package extract

import "context"

// Metadata is what a probe of the extraction tool reports before any audio
// is transferred.
type Metadata struct {
	// ID is the tool's canonical identifier for the track.
	ID    string
	Title string
	// DurationSeconds is 0 when the tool does not report it; the audio file
	// is probed after extraction instead.
	DurationSeconds int
	// DirectURL, when set, points at the media itself and lets the HTTP
	// fetch path skip the extraction subprocess.
	DirectURL string
}

// Runner is the execution strategy for the extraction tool. Choosing
// between the local subprocess and the remote-shell variant is a
// deployment-time decision wired in at startup.
type Runner interface {
	// Probe fetches metadata without transferring audio.
	Probe(ctx context.Context, url string) (*Metadata, error)
	// Extract fetches the audio into tmpDir and returns the file path.
	Extract(ctx context.Context, url, tmpDir string) (string, error)
}

// MissingRunner fails every call with ErrToolNotFound. Installed when tool
// discovery fails at startup so materialization degrades to a structured
// failure instead of refusing to boot.
type MissingRunner struct{}

func (MissingRunner) Probe(context.Context, string) (*Metadata, error) {
	return nil, ErrToolNotFound
}

func (MissingRunner) Extract(context.Context, string, string) (string, error) {
	return "", ErrToolNotFound
}
