// Package client tracks one image download session against a
// tilestitch server: it starts the job, polls its progress, and hands
// back the artifact location once the job succeeds.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/tilestitch/tilestitch/pkg/security"
)

// State is the client-visible lifecycle of a session.
type State int

const (
	StateIdle State = iota
	StateActive
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// Timeout for the start request.
	// Default: 15s
	Timeout time.Duration
}

// Session owns the lifecycle of one server-tracked download job. It is
// stateless beyond the current session identifier and lifecycle state.
// At most one polling loop may be alive per Session; callers stop the
// poller before Cancel or a new Start.
type Session struct {
	baseURL string
	client  *http.Client

	mu        sync.Mutex
	state     State
	sessionID string
	failure   string
}

// NewSession creates a session client for the given server base URL.
func NewSession(baseURL string, opts SessionOptions) *Session {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Session{
		baseURL: baseURL,
		client:  &http.Client{Timeout: opts.Timeout},
	}
}

type startRequest struct {
	ImageID string `json:"image_id"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

const genericStartFailure = "failed to start download session"

// Start validates imageID, requests a new download job, and stores the
// returned session identifier. Any previously active session is
// superseded. Returns ErrInvalidImageID without touching the network
// for identifiers outside [A-Za-z0-9_-]+, or a StartError when the
// server rejects the request or is unreachable.
func (s *Session) Start(ctx context.Context, imageID string) (string, error) {
	if !security.ValidImageID(imageID) {
		return "", ErrInvalidImageID
	}

	payload, err := json.Marshal(startRequest{ImageID: imageID})
	if err != nil {
		return "", &StartError{Message: genericStartFailure}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/start_download", bytes.NewReader(payload))
	if err != nil {
		return "", &StartError{Message: genericStartFailure}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &StartError{Message: genericStartFailure}
	}
	defer resp.Body.Close()

	var body startResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := genericStartFailure
		if decodeErr == nil && body.Error != "" {
			msg = body.Error
		}
		return "", &StartError{Message: msg}
	}
	if decodeErr != nil || body.SessionID == "" {
		return "", &StartError{Message: genericStartFailure}
	}

	s.mu.Lock()
	s.state = StateActive
	s.sessionID = body.SessionID
	s.failure = ""
	s.mu.Unlock()

	return body.SessionID, nil
}

// Cancel discards the stored identifier and returns to Idle. Calling
// it with no active session is a no-op. The caller stops the poller no
// later than this call.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return
	}
	s.state = StateIdle
	s.sessionID = ""
	s.failure = ""
}

// Succeed marks the active session as completed. The identifier stays
// valid for ArtifactLocation.
func (s *Session) Succeed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	s.state = StateSucceeded
}

// Fail marks the active session as failed with an explanatory message.
// The identifier is invalidated.
func (s *Session) Fail(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	s.state = StateFailed
	s.sessionID = ""
	s.failure = message
}

// ArtifactLocation returns the address the finished artifact can be
// retrieved from. Valid only in the Succeeded state; otherwise returns
// ErrNoArtifact. The client hands back the address, it does not fetch
// the bytes.
func (s *Session) ArtifactLocation() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSucceeded {
		return "", ErrNoArtifact
	}
	return s.baseURL + "/download/" + s.sessionID, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the stored identifier, empty outside
// Active/Succeeded.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// FailureMessage returns the message recorded by Fail, empty otherwise.
func (s *Session) FailureMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}
