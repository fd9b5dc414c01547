package app

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/blackwell-systems/appmirror/internal/catalog"
	"github.com/blackwell-systems/appmirror/internal/output"
	"github.com/blackwell-systems/appmirror/internal/scraper"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	downloadProduct string
	downloadApp     string
	downloadWorkers int

	downloadCmd = &cobra.Command{
		Use:   "download",
		Short: "Download the binary artifact of every pending version",
		Long: `Download fetches the binary for every version record that has no local
artifact yet, across a bounded worker pool.

Artifacts land in {binaries_dir}/{product}/{addon_key}/{version_id}/ and are
written to a temporary file first, verified, and renamed into place, so an
interrupted run never leaves a corrupt artifact. Versions whose artifact is
already on disk are recognized and marked without any network traffic.

Exhausted or permanently missing downloads (404) are recorded in the
failed_downloads table and in {logs_dir}/failed_downloads.log; re-running
the command retries everything still pending.`,
		Example: `  # Everything pending
  appmirror download

  # Jira binaries only, 5 workers
  appmirror download --product jira --workers 5

  # One app only
  appmirror download --app com.example.some-plugin`,
		RunE: runDownload,
	}
)

func init() {
	downloadCmd.Flags().StringVar(&downloadProduct, "product", "", "limit to apps supporting a product")
	downloadCmd.Flags().StringVar(&downloadApp, "app", "", "limit to a single addon key")
	downloadCmd.Flags().IntVar(&downloadWorkers, "workers", 0, "worker count (default from APPMIRROR_MAX_CONCURRENT_DOWNLOADS)")
}

func runDownload(cmd *cobra.Command, args []string) error {
	if downloadProduct != "" && !catalog.IsKnownProduct(downloadProduct) {
		return fmt.Errorf("unknown product %q (known: %v)", downloadProduct, catalog.ProductKeys())
	}

	db, settings, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	workers := downloadWorkers
	if workers <= 0 {
		workers = settings.MaxConcurrentDownloads
	}

	logger, closeLog := newLogger(settings)
	defer closeLog()

	failedLogPath := filepath.Join(settings.LogsDir, "failed_downloads.log")
	failedLog, err := os.OpenFile(failedLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", failedLogPath, err)
	}
	defer failedLog.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := newClient(settings, logger)
	engine := scraper.NewDownloader(api, db, settings.BinariesDirFor, settings.MaxRetryAttempts, logger, failedLog)

	pendingLabel := "downloading"
	if downloadProduct != "" {
		pendingLabel = "downloading " + downloadProduct
	}
	counter := output.NewCounter(pendingLabel, 0, "done")
	engine.OnResult = func(res scraper.DownloadResult) {
		counter.Increment()
	}

	fmt.Printf("Downloading pending binaries with %d workers...\n", workers)
	stats, err := engine.Run(ctx, downloadProduct, downloadApp, workers)
	counter.Finish()
	if err != nil {
		return fmt.Errorf("download run aborted: %w", err)
	}

	if stats.Queued == 0 {
		fmt.Println("Nothing to download: all versions already have artifacts.")
		return nil
	}
	fmt.Printf("Done. %d downloaded (%s), %d already on disk",
		stats.Downloaded, humanize.Bytes(uint64(stats.Bytes)), stats.AlreadyPresent)
	if stats.Skipped > 0 {
		fmt.Printf(", %d unresolvable (re-run discover)", stats.Skipped)
	}
	fmt.Println(".")
	if stats.Failed > 0 {
		fmt.Printf("Warning: %d downloads failed; see %s and re-run to retry.\n", stats.Failed, failedLogPath)
	}
	return nil
}
