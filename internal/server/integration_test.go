package server

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tilestitch/tilestitch/pkg/client"
)

// completingRunner drives a session straight to completion, standing
// in for the real download pipeline.
type completingRunner struct {
	srv      *Server
	artifact string
}

func (c *completingRunner) Launch(ctx context.Context, sessionID, imageID string) error {
	go func() {
		c.srv.Tracker.Update(sessionID, "Resizing", 40)
		time.Sleep(20 * time.Millisecond)
		c.srv.Tracker.Complete(sessionID, "Image ready for download!", c.artifact)
	}()
	return nil
}

func TestSessionAndPollerAgainstServer(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "abc_123_stitched.jpg")
	if err := os.WriteFile(artifact, []byte("jpeg bytes"), 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	runner := &completingRunner{artifact: artifact}
	srv := newTestServer(t, runner)
	runner.srv = srv

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	sess := client.NewSession(ts.URL, client.SessionOptions{})
	sessionID, err := sess.Start(context.Background(), "abc_123")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	poller := client.NewPoller(ts.URL, client.PollerOptions{Interval: 10 * time.Millisecond})
	done := make(chan client.Outcome, 1)
	err = poller.Start(sessionID,
		func(client.StatusSnapshot) {},
		func(out client.Outcome) { done <- out })
	if err != nil {
		t.Fatalf("poller start failed: %v", err)
	}

	var out client.Outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
	if !out.Success {
		t.Fatalf("outcome: %+v", out)
	}

	sess.Succeed()
	loc, err := sess.ArtifactLocation()
	if err != nil {
		t.Fatalf("artifact location: %v", err)
	}
	if loc != ts.URL+"/download/"+sessionID {
		t.Errorf("location: got %q", loc)
	}
}
