package app

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/blackwell-systems/appmirror/internal/config"
	"github.com/blackwell-systems/appmirror/internal/marketplace"
	"github.com/blackwell-systems/appmirror/internal/store"
	"github.com/spf13/cobra"
)

var (
	dbPath string

	// RootCmd is the root command for appmirror
	RootCmd = &cobra.Command{
		Use:   "appmirror",
		Short: "Mirror marketplace apps, version histories, and binaries",
		Long: `appmirror mirrors a marketplace catalog into a local SQLite database and
downloads the binary artifact of every recent Server/Data Center version.

The pipeline runs as three sequential stages, each its own command:

  1. appmirror discover   # enumerate the catalog for every product
  2. appmirror versions   # fetch version histories for every app
  3. appmirror download   # fetch the binary for every pending version

Each stage is idempotent and safe to re-run: discovery upserts entries and
resumes from its checkpoint with --resume, version acquisition re-upserts,
and downloads skip artifacts that already exist on disk.

Examples:
  # Full catalog discovery, resuming an interrupted run
  appmirror discover --resume

  # Version histories for Confluence apps only, 10 workers
  appmirror versions --product confluence --workers 10

  # Download pending Jira binaries
  appmirror download --product jira

  # Pipeline progress
  appmirror status`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	// Global flags
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default: {data_dir}/appmirror.db)")

	RootCmd.SuggestionsMinimumDistance = 2

	// Register subcommands
	RootCmd.AddCommand(discoverCmd)
	RootCmd.AddCommand(versionsCmd)
	RootCmd.AddCommand(downloadCmd)
	RootCmd.AddCommand(statusCmd)
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// openStore loads settings, ensures directories exist, and opens the
// database with the schema in place. The caller owns Close.
func openStore() (*store.Store, *config.Settings, error) {
	settings := config.Load()
	if err := settings.EnsureDirs(); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directories: %w", err)
	}

	path := dbPath
	if path == "" {
		path = settings.DatabasePath
	}
	db, err := store.New(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.CreateSchema(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create database schema: %w", err)
	}
	return db, settings, nil
}

// newClient builds the marketplace client sharing one adaptive rate limiter
// across every request of the invocation.
func newClient(settings *config.Settings, logger *log.Logger) *marketplace.Client {
	limiter := marketplace.NewRateLimiter(marketplace.RateLimitConfig{
		Base:       settings.RequestDelay,
		Floor:      settings.RequestDelayFloor,
		Ceiling:    settings.RequestDelayCeiling,
		Multiplier: settings.BackoffMultiplier,
	})
	return marketplace.NewClient(marketplace.ClientOptions{
		APIv2URL:    settings.APIv2URL,
		APIv3URL:    settings.APIv3URL,
		DownloadURL: settings.BaseURL,
		Username:    settings.Username,
		APIToken:    settings.APIToken,
		Limiter:     limiter,
		MaxRetries:  settings.MaxRetryAttempts,
		Logger:      logger,
	})
}

// newLogger returns a logger appending to {logs_dir}/appmirror.log, plus the
// close func for the underlying file. Falls back to stderr-only when the log
// file cannot be opened.
func newLogger(settings *config.Settings) (*log.Logger, func()) {
	logPath := filepath.Join(settings.LogsDir, "appmirror.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return log.New(os.Stderr, "", log.LstdFlags), func() {}
	}
	return log.New(io.MultiWriter(f, os.Stderr), "", log.LstdFlags), func() { f.Close() }
}
