package client

import "errors"

// Common errors.
var (
	// ErrInvalidImageID is returned by Start for identifiers outside
	// [A-Za-z0-9_-]+. No request is issued in that case.
	ErrInvalidImageID = errors.New("client: invalid image ID")

	// ErrNoArtifact is returned by ArtifactLocation when the session
	// has not succeeded.
	ErrNoArtifact = errors.New("client: no artifact available")

	// ErrPollerRunning is returned by Poller.Start while a previous
	// loop is still alive.
	ErrPollerRunning = errors.New("client: poller already running")
)

// StartError reports a session-start rejection. Message carries the
// server's error payload when present, else a generic default.
type StartError struct {
	Message string
}

func (e *StartError) Error() string {
	return "client: start failed: " + e.Message
}
