package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tilestitch/tilestitch/internal/config"
	"github.com/tilestitch/tilestitch/pkg/client"
	"github.com/tilestitch/tilestitch/pkg/errors"
)

var fetchOutput string

var fetchCmd = &cobra.Command{
	Use:   "fetch <image-id>",
	Short: "Start a download session, track it, and save the artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "Output file (default: <image-id>_stitched.jpg)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	imageID := args[0]

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	sess := client.NewSession(cfg.ServerURL, client.SessionOptions{Timeout: cfg.RequestTimeout})

	sessionID, err := sess.Start(ctx, imageID)
	if err != nil {
		return errors.Wrap(err, "failed to start session")
	}
	slog.Info("session_started", "session_id", sessionID, "image_id", imageID)

	poller := client.NewPoller(cfg.ServerURL, client.PollerOptions{
		Interval: cfg.PollInterval,
		Timeout:  cfg.RequestTimeout,
	})

	done := make(chan client.Outcome, 1)
	err = poller.Start(sessionID,
		func(snap client.StatusSnapshot) {
			slog.Info("download_progress", "session_id", sessionID, "progress", snap.Progress, "message", snap.Message)
		},
		func(out client.Outcome) {
			done <- out
		})
	if err != nil {
		return errors.Wrap(err, "failed to start poller")
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-interrupt:
		// Poller must be fully stopped before the session is cancelled.
		poller.Stop()
		sess.Cancel()
		slog.Info("download_cancelled", "session_id", sessionID)
		return nil
	case out := <-done:
		if !out.Success {
			sess.Fail(out.Message)
			return fmt.Errorf("download failed: %s", out.Message)
		}
		sess.Succeed()
	}

	location, err := sess.ArtifactLocation()
	if err != nil {
		return errors.Wrap(err, "no artifact available")
	}

	output := fetchOutput
	if output == "" {
		output = imageID + "_stitched.jpg"
	}
	if err := saveArtifact(ctx, location, output); err != nil {
		return errors.Wrap(err, "failed to save artifact")
	}

	slog.Info("fetch_complete", "session_id", sessionID, "output", output)
	return nil
}

// saveArtifact streams the artifact bytes to a local file
func saveArtifact(ctx context.Context, location, output string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("artifact request returned %d", resp.StatusCode)
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}
