package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/superfly/fsm"
	"github.com/tilestitch/tilestitch/pkg/db"
	"github.com/tilestitch/tilestitch/pkg/errors"
	"github.com/tilestitch/tilestitch/pkg/iiif"
	"github.com/tilestitch/tilestitch/pkg/progress"
	"github.com/tilestitch/tilestitch/pkg/security"
)

// Archiver stores finished artifacts in a remote bucket.
// *storage.Client satisfies it.
type Archiver interface {
	Upload(ctx context.Context, key, localPath string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Machine holds dependencies for FSM transitions
type Machine struct {
	repo       *db.Repository
	tracker    *progress.Store
	source     *iiif.Client
	validator  *security.Validator
	archive    Archiver // nil when archiving is disabled
	workDir    string
	maxRetries int
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(
	repo *db.Repository,
	tracker *progress.Store,
	source *iiif.Client,
	validator *security.Validator,
	archive Archiver,
	workDir string,
	maxRetries int,
) *Machine {
	return &Machine{
		repo:       repo,
		tracker:    tracker,
		source:     source,
		validator:  validator,
		archive:    archive,
		workDir:    workDir,
		maxRetries: maxRetries,
	}
}

// fail records a terminal failure in both the progress tracker and the
// session ledger before aborting the FSM.
func (m *Machine) fail(sessionID, message string, err error) error {
	m.tracker.Fail(sessionID, message, err.Error())
	if dbErr := m.repo.UpdateStatus(sessionID, db.StatusFailed, err.Error()); dbErr != nil {
		slog.Error("status_update_failed", "session_id", sessionID, "error", dbErr)
	}
	return fsm.Abort(err)
}

func (m *Machine) checkRetries(ctx context.Context, sessionID string) error {
	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "session_id", sessionID, "max_retries", m.maxRetries)
		return fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}
	return nil
}

// handleFetchInfo fetches image metadata and computes the tile grid
func (m *Machine) handleFetchInfo(ctx context.Context, req *fsm.Request[DownloadRequest, DownloadResponse]) (*fsm.Response[DownloadResponse], error) {
	sessionID := req.Msg.SessionID
	slog.Info("job_state_fetch_info", "session_id", sessionID, "image_id", req.Msg.ImageID)

	if err := m.checkRetries(ctx, sessionID); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &DownloadResponse{}
	}

	m.tracker.Update(sessionID, "Fetching image metadata...", progressInfo)

	if err := m.repo.UpdateStatus(sessionID, db.StatusRunning, ""); err != nil {
		return nil, errors.Wrap(err, "failed to update status")
	}

	info, err := m.source.Info(ctx, req.Msg.ImageID)
	if err != nil {
		slog.Error("info_fetch_failed", "session_id", sessionID, "image_id", req.Msg.ImageID, "error", err)
		return nil, m.fail(sessionID, "Network error occurred", errors.Wrap(err, "failed to fetch image metadata"))
	}

	if err := m.validator.ValidateDimensions(info.Width, info.Height); err != nil {
		return nil, m.fail(sessionID, "Image too large", err)
	}

	grid := iiif.Grid(*info)
	if err := m.validator.ValidateTileCount(len(grid)); err != nil {
		return nil, m.fail(sessionID, "Image too large", err)
	}

	resp.Width = info.Width
	resp.Height = info.Height
	resp.TileWidth = info.Tiles[0].Width
	resp.TileHeight = info.Tiles[0].Height
	if resp.TileHeight == 0 {
		resp.TileHeight = resp.TileWidth
	}
	resp.TileCount = len(grid)

	m.tracker.Update(sessionID,
		fmt.Sprintf("Image size: %dx%d, downloading %d tiles...", info.Width, info.Height, len(grid)),
		progressGrid)

	slog.Info("grid_computed", "session_id", sessionID, "width", info.Width, "height", info.Height, "tiles", len(grid))
	return fsm.NewResponse(resp), nil
}

// handleDownloadTiles fetches every tile into the session's tile dir
func (m *Machine) handleDownloadTiles(ctx context.Context, req *fsm.Request[DownloadRequest, DownloadResponse]) (*fsm.Response[DownloadResponse], error) {
	sessionID := req.Msg.SessionID
	slog.Info("job_state_download_tiles", "session_id", sessionID)

	if err := m.checkRetries(ctx, sessionID); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	tileDir := filepath.Join(m.workDir, "tiles", sessionID)
	if err := os.MkdirAll(tileDir, 0755); err != nil {
		return nil, m.fail(sessionID, "An error occurred", errors.Wrap(err, "failed to create tile dir"))
	}

	grid := m.grid(resp)
	for i, region := range grid {
		data, err := m.source.FetchTile(ctx, req.Msg.ImageID, region)
		if err != nil {
			slog.Error("tile_fetch_failed", "session_id", sessionID, "tile", i+1, "error", err)
			return nil, m.fail(sessionID, "Network error occurred",
				errors.Wrap(err, fmt.Sprintf("failed to download tile %d/%d", i+1, len(grid))))
		}

		if err := os.WriteFile(tilePath(tileDir, i), data, 0644); err != nil {
			return nil, m.fail(sessionID, "An error occurred", errors.Wrap(err, "failed to write tile"))
		}

		pct := progressGrid + float64(i+1)/float64(len(grid))*progressTileSpan
		m.tracker.Update(sessionID, fmt.Sprintf("Downloaded tile %d/%d", i+1, len(grid)), pct)
	}

	resp.TileDir = tileDir
	slog.Info("tiles_downloaded", "session_id", sessionID, "tile_count", len(grid))
	return fsm.NewResponse(resp), nil
}

// handleAssemble stitches the downloaded tiles into the final JPEG
func (m *Machine) handleAssemble(ctx context.Context, req *fsm.Request[DownloadRequest, DownloadResponse]) (*fsm.Response[DownloadResponse], error) {
	sessionID := req.Msg.SessionID
	slog.Info("job_state_assemble", "session_id", sessionID)

	if err := m.checkRetries(ctx, sessionID); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	m.tracker.Update(sessionID, "Saving final image...", progressSaving)

	canvas := iiif.NewCanvas(resp.Width, resp.Height)
	for i, region := range m.grid(resp) {
		data, err := os.ReadFile(tilePath(resp.TileDir, i))
		if err != nil {
			return nil, m.fail(sessionID, "An error occurred", errors.Wrap(err, "failed to read tile"))
		}
		if err := canvas.Paste(data, region); err != nil {
			return nil, m.fail(sessionID, "An error occurred", errors.Wrap(err, "failed to stitch tile"))
		}
	}

	outDir := filepath.Join(m.workDir, "downloads")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, m.fail(sessionID, "An error occurred", errors.Wrap(err, "failed to create downloads dir"))
	}

	outPath := filepath.Join(outDir, fmt.Sprintf("%s_stitched.jpg", req.Msg.ImageID))
	if err := m.validator.ValidateArtifactPath(m.workDir, outPath); err != nil {
		return nil, m.fail(sessionID, "An error occurred", err)
	}
	if err := canvas.SaveJPEG(outPath); err != nil {
		return nil, m.fail(sessionID, "An error occurred", errors.Wrap(err, "failed to save image"))
	}

	// Tiles are no longer needed once the artifact exists.
	if err := os.RemoveAll(resp.TileDir); err != nil {
		slog.Warn("tile_dir_cleanup_failed", "session_id", sessionID, "error", err)
	}

	resp.ArtifactPath = outPath
	slog.Info("artifact_saved", "session_id", sessionID, "path", outPath)
	return fsm.NewResponse(resp), nil
}

// handleComplete records the finished artifact and archives it
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[DownloadRequest, DownloadResponse]) (*fsm.Response[DownloadResponse], error) {
	sessionID := req.Msg.SessionID
	slog.Info("job_state_complete", "session_id", sessionID)

	if err := m.checkRetries(ctx, sessionID); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	sess, err := m.repo.GetBySessionID(sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session")
	}
	if sess == nil {
		return nil, fsm.Abort(fmt.Errorf("session record missing: %s", sessionID))
	}
	sess.Status = db.StatusReady
	sess.FilePath = resp.ArtifactPath
	sess.ErrorMessage = ""
	if err := m.repo.Update(sess); err != nil {
		return nil, errors.Wrap(err, "failed to record artifact")
	}

	// Archiving is best-effort: the artifact is already served locally.
	// A retried complete state skips the upload if the key is already
	// in the bucket.
	if m.archive != nil {
		key := filepath.Base(resp.ArtifactPath)
		archived, err := m.archive.Exists(ctx, key)
		if err != nil {
			slog.Warn("archive_check_failed", "session_id", sessionID, "key", key, "error", err)
		}
		if archived {
			slog.Info("archive_already_present", "session_id", sessionID, "key", key)
			resp.ArchiveKey = key
		} else if err := m.archive.Upload(ctx, key, resp.ArtifactPath); err != nil {
			slog.Warn("archive_upload_failed", "session_id", sessionID, "key", key, "error", err)
			resp.ErrorMessage = fmt.Sprintf("archive warning: %v", err)
		} else {
			resp.ArchiveKey = key
		}
	}

	m.tracker.Complete(sessionID, "Image ready for download!", resp.ArtifactPath)
	resp.Status = db.StatusReady

	slog.Info("job_complete", "session_id", sessionID, "artifact", resp.ArtifactPath, "archive_key", resp.ArchiveKey)
	return fsm.NewResponse(resp), nil
}

func (m *Machine) grid(resp *DownloadResponse) []iiif.Region {
	return iiif.Grid(iiif.Info{
		Width:  resp.Width,
		Height: resp.Height,
		Tiles:  []iiif.TileSpec{{Width: resp.TileWidth, Height: resp.TileHeight}},
	})
}

func tilePath(tileDir string, index int) string {
	return filepath.Join(tileDir, fmt.Sprintf("tile_%05d.jpg", index))
}
