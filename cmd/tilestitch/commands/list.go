package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tilestitch/tilestitch/internal/config"
	"github.com/tilestitch/tilestitch/pkg/db"
	"github.com/tilestitch/tilestitch/pkg/errors"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all download sessions and their status",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	// Ensure database directory exists
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	sessions, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return nil
	}

	fmt.Printf("%-38s %-30s %-10s %-40s\n", "SESSION", "IMAGE", "STATUS", "FILE")
	fmt.Println("------------------------------------------------------------------------------------------------------------------")

	for _, sess := range sessions {
		filePath := sess.FilePath
		if filePath == "" {
			filePath = "-"
		}
		status := sess.Status
		if sess.Status == db.StatusFailed && sess.ErrorMessage != "" {
			status = fmt.Sprintf("%s (%s)", sess.Status, sess.ErrorMessage)
		}

		fmt.Printf("%-38s %-30s %-10s %-40s\n",
			sess.SessionID, sess.ImageID, status, filePath)
	}

	return nil
}
