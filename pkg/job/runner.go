// Package job implements the image download workflow as a finite
// state machine: fetch metadata, download tiles, assemble the final
// image, record and archive the artifact. Runs are keyed by session ID
// and persisted by the superfly/fsm manager.
package job

import (
	"context"
	"log/slog"

	"github.com/superfly/fsm"
	"github.com/tilestitch/tilestitch/pkg/errors"
)

// Register registers the download FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[DownloadRequest, DownloadResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[DownloadRequest, DownloadResponse](manager, "image-download").
		Start(StateFetchInfo, m.handleFetchInfo).
		To(StateDownloadTiles, m.handleDownloadTiles).
		To(StateAssemble, m.handleAssemble).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// Runner launches download jobs and detaches from their completion.
type Runner struct {
	start   fsm.Start[DownloadRequest, DownloadResponse]
	manager *fsm.Manager
}

// NewRunner registers the machine and returns a runner bound to it
func NewRunner(ctx context.Context, manager *fsm.Manager, machine *Machine) (*Runner, error) {
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return nil, err
	}
	return &Runner{start: start, manager: manager}, nil
}

// Launch starts the download job for a session and returns once the
// FSM run is accepted. Outcomes are reported through the progress
// tracker and the session ledger, not through Launch.
func (r *Runner) Launch(ctx context.Context, sessionID, imageID string) error {
	req := &DownloadRequest{SessionID: sessionID, ImageID: imageID}
	resp := &DownloadResponse{}

	version, err := r.start(ctx, sessionID, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}

	go func() {
		if err := r.manager.Wait(context.Background(), version); err != nil {
			slog.Error("job_run_failed", "session_id", sessionID, "error", err)
		}
	}()

	slog.Info("job_launched", "session_id", sessionID, "image_id", imageID, "version", version)
	return nil
}
