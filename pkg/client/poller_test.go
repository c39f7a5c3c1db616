package client

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// observer collects poller callbacks for assertions.
type observer struct {
	mu       sync.Mutex
	updates  []StatusSnapshot
	outcomes []Outcome
	done     chan Outcome
}

func newObserver() *observer {
	return &observer{done: make(chan Outcome, 2)}
}

func (o *observer) onUpdate(s StatusSnapshot) {
	o.mu.Lock()
	o.updates = append(o.updates, s)
	o.mu.Unlock()
}

func (o *observer) onDone(out Outcome) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, out)
	o.mu.Unlock()
	o.done <- out
}

func (o *observer) snapshotUpdates() []StatusSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]StatusSnapshot(nil), o.updates...)
}

func (o *observer) outcomeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.outcomes)
}

func (o *observer) waitDone(t *testing.T) Outcome {
	t.Helper()
	select {
	case out := <-o.done:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for onDone")
		return Outcome{}
	}
}

// sequenceServer serves each response body in order, repeating the last.
func sequenceServer(requests *atomic.Int32, responses ...string) *httptest.Server {
	var i atomic.Int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		n := int(i.Add(1)) - 1
		if n >= len(responses) {
			n = len(responses) - 1
		}
		w.Write([]byte(responses[n]))
	}))
}

func TestPoller_RunsToCompletion(t *testing.T) {
	ts := sequenceServer(nil,
		`{"progress": 40, "message": "Resizing"}`,
		`{"progress": 100, "completed": true}`,
	)
	defer ts.Close()

	p := NewPoller(ts.URL, PollerOptions{Interval: 10 * time.Millisecond})
	obs := newObserver()

	if err := p.Start("s1", obs.onUpdate, obs.onDone); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	out := obs.waitDone(t)
	if !out.Success {
		t.Errorf("outcome: got %+v, want success", out)
	}

	updates := obs.snapshotUpdates()
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d: %+v", len(updates), updates)
	}
	if updates[0].Progress != 40 || updates[0].Message != "Resizing" {
		t.Errorf("first update: %+v", updates[0])
	}
	if updates[1].Progress != 100 || !updates[1].Completed {
		t.Errorf("terminal update: %+v", updates[1])
	}
	if obs.outcomeCount() != 1 {
		t.Errorf("onDone fired %d times, want 1", obs.outcomeCount())
	}
}

func TestPoller_ServerReportedError(t *testing.T) {
	var requests atomic.Int32
	ts := sequenceServer(&requests,
		`{"progress": 10, "message": "Fetching image metadata..."}`,
		`{"error": "X"}`,
	)
	defer ts.Close()

	p := NewPoller(ts.URL, PollerOptions{Interval: 10 * time.Millisecond})
	obs := newObserver()
	p.Start("s1", obs.onUpdate, obs.onDone)

	out := obs.waitDone(t)
	if out.Success || out.Message != "X" {
		t.Errorf("outcome: got %+v, want Failure(X)", out)
	}

	// The error cycle still delivered its snapshot.
	updates := obs.snapshotUpdates()
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	if updates[1].Err != "X" {
		t.Errorf("terminal snapshot: %+v", updates[1])
	}

	// Terminal: no further queries after the error response.
	issued := requests.Load()
	time.Sleep(100 * time.Millisecond)
	if requests.Load() != issued {
		t.Errorf("queries continued after terminal error: %d -> %d", issued, requests.Load())
	}
	if obs.outcomeCount() != 1 {
		t.Errorf("onDone fired %d times, want 1", obs.outcomeCount())
	}
}

func TestPoller_CompletedWinsOverError(t *testing.T) {
	ts := sequenceServer(nil, `{"progress": 100, "completed": true, "error": "stale"}`)
	defer ts.Close()

	p := NewPoller(ts.URL, PollerOptions{Interval: 10 * time.Millisecond})
	obs := newObserver()
	p.Start("s1", obs.onUpdate, obs.onDone)

	out := obs.waitDone(t)
	if !out.Success {
		t.Errorf("completed flag should take priority over error: %+v", out)
	}
}

func TestPoller_TransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	p := NewPoller(url, PollerOptions{Interval: 10 * time.Millisecond})
	obs := newObserver()
	p.Start("s1", obs.onUpdate, obs.onDone)

	out := obs.waitDone(t)
	if out.Success || out.Message != trackFailureMessage {
		t.Errorf("outcome: got %+v, want Failure(%q)", out, trackFailureMessage)
	}
	if len(obs.snapshotUpdates()) != 0 {
		t.Error("no onUpdate should fire on transport failure")
	}
}

func TestPoller_NonSuccessStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "Session not found"}`))
	}))
	defer ts.Close()

	p := NewPoller(ts.URL, PollerOptions{Interval: 10 * time.Millisecond})
	obs := newObserver()
	p.Start("s1", obs.onUpdate, obs.onDone)

	out := obs.waitDone(t)
	if out.Success || out.Message != trackFailureMessage {
		t.Errorf("outcome: got %+v, want Failure(%q)", out, trackFailureMessage)
	}
}

func TestPoller_QueryTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	p := NewPoller(ts.URL, PollerOptions{Interval: 10 * time.Millisecond, Timeout: 20 * time.Millisecond})
	obs := newObserver()
	p.Start("s1", obs.onUpdate, obs.onDone)

	out := obs.waitDone(t)
	if out.Success || out.Message != trackFailureMessage {
		t.Errorf("timed-out query: got %+v, want Failure(%q)", out, trackFailureMessage)
	}
}

func TestPoller_SnapshotDefaults(t *testing.T) {
	ts := sequenceServer(nil, `{}`, `{"completed": true}`)
	defer ts.Close()

	p := NewPoller(ts.URL, PollerOptions{Interval: 10 * time.Millisecond})
	obs := newObserver()
	p.Start("s1", obs.onUpdate, obs.onDone)
	obs.waitDone(t)

	updates := obs.snapshotUpdates()
	if len(updates) == 0 {
		t.Fatal("expected updates")
	}
	if updates[0].Progress != 0 {
		t.Errorf("absent progress should default to 0, got %v", updates[0].Progress)
	}
	if updates[0].Message != placeholderMessage {
		t.Errorf("absent message should default to placeholder, got %q", updates[0].Message)
	}
}

func TestPoller_StopSilencesCallbacks(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"progress": 50}`))
	}))
	defer ts.Close()

	p := NewPoller(ts.URL, PollerOptions{Interval: 10 * time.Millisecond})
	obs := newObserver()
	p.Start("s1", obs.onUpdate, obs.onDone)

	// A query is in flight; Stop must discard its result.
	time.Sleep(20 * time.Millisecond)
	p.Stop()
	close(release)

	time.Sleep(100 * time.Millisecond)
	if n := len(obs.snapshotUpdates()); n != 0 {
		t.Errorf("onUpdate fired %d times after Stop", n)
	}
	if n := obs.outcomeCount(); n != 0 {
		t.Errorf("onDone fired %d times after Stop", n)
	}
}

func TestPoller_StopIdempotent(t *testing.T) {
	ts := sequenceServer(nil, `{"progress": 1}`)
	defer ts.Close()

	p := NewPoller(ts.URL, PollerOptions{Interval: 10 * time.Millisecond})
	obs := newObserver()
	p.Start("s1", obs.onUpdate, obs.onDone)

	p.Stop()
	p.Stop()
}

func TestPoller_StopFromWithinCallback(t *testing.T) {
	var requests atomic.Int32
	ts := sequenceServer(&requests, `{"progress": 10}`)
	defer ts.Close()

	p := NewPoller(ts.URL, PollerOptions{Interval: 10 * time.Millisecond})
	obs := newObserver()

	stopped := make(chan struct{})
	var once sync.Once
	onUpdate := func(s StatusSnapshot) {
		obs.onUpdate(s)
		once.Do(func() {
			p.Stop()
			close(stopped)
		})
	}

	p.Start("s1", onUpdate, obs.onDone)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for re-entrant Stop")
	}

	issued := requests.Load()
	time.Sleep(100 * time.Millisecond)

	if len(obs.snapshotUpdates()) != 1 {
		t.Errorf("expected exactly 1 update, got %d", len(obs.snapshotUpdates()))
	}
	if obs.outcomeCount() != 0 {
		t.Errorf("onDone must not fire after re-entrant Stop, fired %d times", obs.outcomeCount())
	}
	if requests.Load() != issued {
		t.Errorf("queries continued after Stop: %d -> %d", issued, requests.Load())
	}
}

func TestPoller_RestartAfterCompletion(t *testing.T) {
	ts := sequenceServer(nil, `{"completed": true}`)
	defer ts.Close()

	p := NewPoller(ts.URL, PollerOptions{Interval: 10 * time.Millisecond})

	obs1 := newObserver()
	if err := p.Start("s1", obs1.onUpdate, obs1.onDone); err != nil {
		t.Fatalf("first start: %v", err)
	}
	obs1.waitDone(t)

	obs2 := newObserver()
	if err := p.Start("s2", obs2.onUpdate, obs2.onDone); err != nil {
		t.Fatalf("restart after completion: %v", err)
	}
	obs2.waitDone(t)
}

func TestPoller_StartWhileRunning(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"completed": true}`))
	}))
	defer ts.Close()
	defer close(release)

	p := NewPoller(ts.URL, PollerOptions{Interval: 10 * time.Millisecond})
	obs := newObserver()
	p.Start("s1", obs.onUpdate, obs.onDone)
	defer p.Stop()

	if err := p.Start("s2", obs.onUpdate, obs.onDone); err != ErrPollerRunning {
		t.Errorf("second start: got %v, want ErrPollerRunning", err)
	}
}
