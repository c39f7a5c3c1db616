package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tilestitch/tilestitch/internal/config"
	"github.com/tilestitch/tilestitch/pkg/db"
	"github.com/tilestitch/tilestitch/pkg/errors"
)

var (
	cleanupAll      bool
	cleanupSession  string
	cleanupOrphaned bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up session resources (tile directories, stitched files, records)",
	Long: `Clean up resources associated with download sessions:
  --all               Clean all resources for all sessions
  --session <id>      Clean resources for a specific session
  --orphaned          Clean orphaned resources not tracked in database`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Clean all resources")
	cleanupCmd.Flags().StringVar(&cleanupSession, "session", "", "Clean specific session by ID")
	cleanupCmd.Flags().BoolVar(&cleanupOrphaned, "orphaned", false, "Clean orphaned resources")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	if cleanupAll {
		return cleanupAllSessions(repo, cfg)
	} else if cleanupSession != "" {
		return cleanupSpecificSession(repo, cfg, cleanupSession)
	} else if cleanupOrphaned {
		return cleanupOrphanedResources(repo, cfg)
	} else {
		return fmt.Errorf("must specify --all, --session, or --orphaned")
	}
}

func cleanupAllSessions(repo *db.Repository, cfg *config.Config) error {
	sessions, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	fmt.Printf("Cleaning up %d sessions...\n", len(sessions))

	for _, sess := range sessions {
		if err := cleanupSessionResources(repo, cfg, sess); err != nil {
			fmt.Printf("Failed to clean %s: %v\n", sess.SessionID, err)
		} else {
			fmt.Printf("Cleaned: %s\n", sess.SessionID)
		}
	}

	return nil
}

func cleanupSpecificSession(repo *db.Repository, cfg *config.Config, sessionID string) error {
	sess, err := repo.GetBySessionID(sessionID)
	if err != nil {
		return errors.Wrap(err, "session lookup failed")
	}
	if sess == nil {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	fmt.Printf("Cleaning up %s...\n", sessionID)

	if err := cleanupSessionResources(repo, cfg, sess); err != nil {
		return errors.Wrap(err, "cleanup failed")
	}

	fmt.Printf("Cleaned: %s\n", sessionID)
	return nil
}

func cleanupSessionResources(repo *db.Repository, cfg *config.Config, sess *db.Session) error {
	// 1. Remove the tile working directory for this session
	tileDir := filepath.Join(cfg.WorkDir, "tiles", sess.SessionID)
	if _, err := os.Stat(tileDir); err == nil {
		if err := os.RemoveAll(tileDir); err != nil {
			return errors.Wrap(err, "failed to remove tile directory")
		}
	}

	// 2. Remove the stitched artifact
	if sess.FilePath != "" {
		if _, err := os.Stat(sess.FilePath); err == nil {
			if err := os.Remove(sess.FilePath); err != nil {
				return errors.Wrap(err, "failed to remove artifact")
			}
		}
	}

	// 3. Remove the database record
	if err := repo.Delete(sess.SessionID); err != nil {
		return errors.Wrap(err, "failed to delete session record")
	}

	return nil
}

func cleanupOrphanedResources(repo *db.Repository, cfg *config.Config) error {
	fmt.Println("Scanning for orphaned resources...")

	orphanCount := 0

	// 1. Tile directories without a matching session
	tilesDir := filepath.Join(cfg.WorkDir, "tiles")
	if entries, err := os.ReadDir(tilesDir); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			sess, err := repo.GetBySessionID(entry.Name())
			if err == nil && sess == nil {
				orphanPath := filepath.Join(tilesDir, entry.Name())
				if err := os.RemoveAll(orphanPath); err != nil {
					fmt.Printf("Failed to remove orphaned tile directory %s: %v\n", entry.Name(), err)
				} else {
					fmt.Printf("Removed orphaned tile directory: %s\n", entry.Name())
					orphanCount++
				}
			}
		}
	}

	// 2. Stitched files no session references
	tracked := make(map[string]bool)
	sessions, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}
	for _, sess := range sessions {
		if sess.FilePath != "" {
			tracked[filepath.Base(sess.FilePath)] = true
		}
	}

	downloadDir := filepath.Join(cfg.WorkDir, "downloads")
	if entries, err := os.ReadDir(downloadDir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jpg") {
				continue
			}

			if !tracked[entry.Name()] {
				orphanPath := filepath.Join(downloadDir, entry.Name())
				if err := os.Remove(orphanPath); err != nil {
					fmt.Printf("Failed to remove orphaned artifact %s: %v\n", entry.Name(), err)
				} else {
					fmt.Printf("Removed orphaned artifact: %s\n", entry.Name())
					orphanCount++
				}
			}
		}
	}

	fmt.Printf("Removed %d orphaned resources\n", orphanCount)
	return nil
}
