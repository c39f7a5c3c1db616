package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "tilestitch",
	Short: "Tilestitch - IIIF image download and stitching",
	Long:  `Downloads tiled IIIF images, stitches them into a single picture, and tracks the job from submission to artifact.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("listen-addr", ":5000", "HTTP listen address")
	rootCmd.PersistentFlags().String("server-url", "http://localhost:5000", "Server base URL for client commands")
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/sessions.db", "SQLite database path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm.db", "FSM BoltDB path")
	rootCmd.PersistentFlags().String("work-dir", "/tmp/tilestitch", "Working directory for tiles and artifacts")
	rootCmd.PersistentFlags().String("iiif-base-url", "https://iiif-antenati.cultura.gov.it/iiif/2", "IIIF image service root")
	rootCmd.PersistentFlags().Duration("poll-interval", time.Second, "Progress poll interval")
	rootCmd.PersistentFlags().Int("max-width", 60000, "Max source image width")
	rootCmd.PersistentFlags().Int("max-height", 60000, "Max source image height")
	rootCmd.PersistentFlags().Int("max-tiles", 4096, "Max tile count per image")
	rootCmd.PersistentFlags().String("archive-bucket", "", "S3 bucket for artifact archiving (empty disables)")
	rootCmd.PersistentFlags().String("archive-region", "us-east-1", "S3 region for artifact archiving")

	viper.BindPFlag("listen-addr", rootCmd.PersistentFlags().Lookup("listen-addr"))
	viper.BindPFlag("server-url", rootCmd.PersistentFlags().Lookup("server-url"))
	viper.BindPFlag("sqlite-path", rootCmd.PersistentFlags().Lookup("sqlite-path"))
	viper.BindPFlag("fsm-db-path", rootCmd.PersistentFlags().Lookup("fsm-db-path"))
	viper.BindPFlag("work-dir", rootCmd.PersistentFlags().Lookup("work-dir"))
	viper.BindPFlag("iiif-base-url", rootCmd.PersistentFlags().Lookup("iiif-base-url"))
	viper.BindPFlag("poll-interval", rootCmd.PersistentFlags().Lookup("poll-interval"))
	viper.BindPFlag("max-width", rootCmd.PersistentFlags().Lookup("max-width"))
	viper.BindPFlag("max-height", rootCmd.PersistentFlags().Lookup("max-height"))
	viper.BindPFlag("max-tiles", rootCmd.PersistentFlags().Lookup("max-tiles"))
	viper.BindPFlag("archive-bucket", rootCmd.PersistentFlags().Lookup("archive-bucket"))
	viper.BindPFlag("archive-region", rootCmd.PersistentFlags().Lookup("archive-region"))
}
