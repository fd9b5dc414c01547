package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/blackwell-systems/appmirror/internal/catalog"
	"github.com/blackwell-systems/appmirror/internal/output"
	"github.com/blackwell-systems/appmirror/internal/scraper"
	"github.com/spf13/cobra"
)

var (
	versionsProduct string
	versionsApp     string
	versionsWorkers int

	versionsCmd = &cobra.Command{
		Use:   "versions",
		Short: "Fetch version histories for every known app",
		Long: `Versions fetches the release history of every app in the catalog across a
bounded worker pool, keeping only versions released within the configured
trailing window (default 365 days) for Server and Data Center hosting.

Compatibility ranges are resolved to human-readable product versions; the
build-number lookup table is cached in the database, so later runs rarely
hit the remote for it. Failures on single apps are logged and skipped.`,
		Example: `  # All apps, default worker count
  appmirror versions

  # Confluence apps with 10 workers
  appmirror versions --product confluence --workers 10

  # One app only
  appmirror versions --app com.example.some-plugin`,
		RunE: runVersions,
	}
)

func init() {
	versionsCmd.Flags().StringVar(&versionsProduct, "product", "", "limit to apps supporting a product")
	versionsCmd.Flags().StringVar(&versionsApp, "app", "", "limit to a single addon key")
	versionsCmd.Flags().IntVar(&versionsWorkers, "workers", 0, "worker count (default from APPMIRROR_MAX_VERSION_WORKERS)")
}

func runVersions(cmd *cobra.Command, args []string) error {
	if versionsProduct != "" && !catalog.IsKnownProduct(versionsProduct) {
		return fmt.Errorf("unknown product %q (known: %v)", versionsProduct, catalog.ProductKeys())
	}

	db, settings, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	workers := versionsWorkers
	if workers <= 0 {
		workers = settings.MaxVersionWorkers
	}

	logger, closeLog := newLogger(settings)
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := newClient(settings, logger)
	engine := scraper.NewVersionScraper(api, db, settings.VersionAgeLimitDays, logger)

	counter := output.NewCounter("scraping versions", 0, "apps done")
	engine.OnResult = func(res scraper.VersionResult) {
		counter.Increment()
	}

	fmt.Printf("Scraping versions with %d workers...\n", workers)
	stats, err := engine.Run(ctx, versionsProduct, versionsApp, workers)
	counter.Finish()
	if err != nil {
		return fmt.Errorf("version scraping aborted: %w", err)
	}

	fmt.Printf("Done. %d versions across %d apps", stats.TotalVersions, stats.Apps)
	if stats.NoVersions > 0 {
		fmt.Printf(", %d apps with nothing in the window", stats.NoVersions)
	}
	fmt.Println(".")
	if len(stats.Failed) > 0 {
		fmt.Printf("Warning: %d apps failed (see log); re-run to retry them.\n", len(stats.Failed))
	}
	return nil
}
