package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// trackFailureMessage is the outcome message for any transport-level
// polling failure, including local timeouts.
const trackFailureMessage = "Failed to track download progress"

// placeholderMessage stands in when a status response carries no
// message field.
const placeholderMessage = "Processing..."

// StatusSnapshot is the parsed result of one poll cycle.
type StatusSnapshot struct {
	// Progress in [0,100], 0 when the server omits it.
	Progress float64

	// Message is human-readable, defaulted when absent.
	Message string

	// Completed and Err are independent terminal flags. When both are
	// set in one response, Completed wins.
	Completed bool
	Err       string
}

// Outcome is the single terminal result of a polling run.
type Outcome struct {
	Success bool
	Message string
}

// statusResponse is the wire shape of GET /progress/{session_id}.
type statusResponse struct {
	Progress  *float64 `json:"progress"`
	Message   *string  `json:"message"`
	Completed bool     `json:"completed"`
	Error     string   `json:"error"`
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	// Interval between the end of one cycle's handling and the next
	// query. Default: 1s
	Interval time.Duration

	// Timeout for each status query. A timed-out query counts as a
	// transport failure. Default: 10s
	Timeout time.Duration
}

// Poller repeatedly queries job status for one session on a fixed
// cadence, surfacing each snapshot to an observer and stopping on the
// first terminal condition. Queries never overlap: the next one is
// scheduled only after the previous response is fully handled.
type Poller struct {
	baseURL  string
	client   *http.Client
	interval time.Duration

	mu         sync.Mutex
	running    bool
	stopped    bool
	inCallback bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewPoller creates a poller for the given server base URL.
func NewPoller(baseURL string, opts PollerOptions) *Poller {
	if opts.Interval == 0 {
		opts.Interval = time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Poller{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: opts.Timeout},
		interval: opts.Interval,
	}
}

// Start begins the polling loop for sessionID. onUpdate fires once per
// successful status response, including the terminal one; onDone fires
// exactly once with the outcome, unless Stop pre-empts it. Returns
// ErrPollerRunning while a previous loop is still alive.
func (p *Poller) Start(sessionID string, onUpdate func(StatusSnapshot), onDone func(Outcome)) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPollerRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.stopped = false
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go p.run(ctx, done, sessionID, onUpdate, onDone)
	return nil
}

// Stop cancels the loop. After it returns no further onUpdate/onDone
// calls fire. Idempotent, and safe to call from within a callback: in
// that case it returns immediately and the loop exits before
// delivering anything further.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped || !p.running {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	inCallback := p.inCallback
	done := p.done
	p.mu.Unlock()

	cancel()
	if !inCallback {
		<-done
	}
}

func (p *Poller) run(ctx context.Context, done chan struct{}, sessionID string, onUpdate func(StatusSnapshot), onDone func(Outcome)) {
	defer close(done)

	for {
		snap, err := p.query(ctx, sessionID)
		if err != nil {
			// Transport failure or non-success response: terminal,
			// no retry. A result arriving after Stop is discarded
			// inside deliver.
			p.finish(onDone, Outcome{Success: false, Message: trackFailureMessage})
			return
		}

		if !p.deliver(func() { onUpdate(snap) }) {
			return
		}

		if snap.Completed {
			p.finish(onDone, Outcome{Success: true})
			return
		}
		if snap.Err != "" {
			p.finish(onDone, Outcome{Success: false, Message: snap.Err})
			return
		}

		select {
		case <-ctx.Done():
			p.markStopped()
			return
		case <-time.After(p.interval):
		}
	}
}

func (p *Poller) query(ctx context.Context, sessionID string) (StatusSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/progress/"+sessionID, nil)
	if err != nil {
		return StatusSnapshot{}, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return StatusSnapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return StatusSnapshot{}, fmt.Errorf("client: status query returned %d", resp.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return StatusSnapshot{}, err
	}

	snap := StatusSnapshot{
		Message:   placeholderMessage,
		Completed: body.Completed,
		Err:       body.Error,
	}
	if body.Progress != nil {
		snap.Progress = *body.Progress
	}
	if body.Message != nil && *body.Message != "" {
		snap.Message = *body.Message
	}
	return snap, nil
}

// deliver invokes fn unless the poller was stopped, and reports
// whether the loop may continue. The callback runs with inCallback set
// so a re-entrant Stop does not block on its own invocation.
func (p *Poller) deliver(fn func()) bool {
	p.mu.Lock()
	if p.stopped {
		p.running = false
		p.mu.Unlock()
		return false
	}
	p.inCallback = true
	p.mu.Unlock()

	fn()

	p.mu.Lock()
	p.inCallback = false
	stopped := p.stopped
	if stopped {
		p.running = false
	}
	p.mu.Unlock()
	return !stopped
}

func (p *Poller) finish(onDone func(Outcome), out Outcome) {
	p.deliver(func() { onDone(out) })
	p.markStopped()
}

func (p *Poller) markStopped() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}
