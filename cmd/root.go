package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kozaktomas/pixpursuit/internal/config"
	"github.com/kozaktomas/pixpursuit/internal/logging"
	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "pixpursuit",
	Short: "Self-hosted photo library with automatic tagging and face grouping",
	Long: `PixPursuit stores uploaded photos in an S3 compatible bucket, catalogs them
in PostgreSQL and analyses them in background workers: image features for
similarity search and tag prediction, and face embeddings that are grouped
into people.

Run "pixpursuit serve" for the HTTP API and "pixpursuit worker" for the task
consumers, or "pixpursuit serve --embedded-worker" to run both in one process.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	cfg = config.Load()
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
}
