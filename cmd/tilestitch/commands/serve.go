package commands

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/superfly/fsm"
	"github.com/tilestitch/tilestitch/internal/config"
	"github.com/tilestitch/tilestitch/internal/server"
	"github.com/tilestitch/tilestitch/pkg/db"
	"github.com/tilestitch/tilestitch/pkg/errors"
	"github.com/tilestitch/tilestitch/pkg/iiif"
	"github.com/tilestitch/tilestitch/pkg/job"
	"github.com/tilestitch/tilestitch/pkg/progress"
	"github.com/tilestitch/tilestitch/pkg/security"
	"github.com/tilestitch/tilestitch/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, cfg.WorkDir); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	tracker := progress.NewStore()
	validator := security.NewValidator(cfg.MaxWidth, cfg.MaxHeight, cfg.MaxTiles)
	source := iiif.NewClient(iiif.Options{BaseURL: cfg.IIIFBaseURL})

	// Archiving is optional; the server runs fine without a bucket.
	var archive job.Archiver
	if cfg.ArchiveBucket != "" {
		archive, err = storage.NewClient(ctx, cfg.ArchiveBucket, cfg.ArchiveRegion)
		if err != nil {
			return errors.Wrap(err, "S3 client failed")
		}
	}

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := job.NewMachine(repo, tracker, source, validator, archive, cfg.WorkDir, cfg.FSMMaxRetries)
	runner, err := job.NewRunner(ctx, manager, machine)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	srv := server.New(ctx, repo, tracker, runner, validator)
	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	// Terminal snapshots linger for late pollers, then get reclaimed.
	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go func() {
		ticker := time.NewTicker(cfg.ProgressRetention)
		defer ticker.Stop()
		for {
			select {
			case <-pruneCtx.Done():
				return
			case <-ticker.C:
				if removed := tracker.Prune(cfg.ProgressRetention); removed > 0 {
					slog.Info("progress_pruned", "removed", removed)
				}
			}
		}
	}()

	go func() {
		slog.Info("server_listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server_failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
