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
	discoverResume    bool
	discoverProducts  []string
	discoverBatchSize int

	discoverCmd = &cobra.Command{
		Use:   "discover",
		Short: "Enumerate the marketplace catalog for every product",
		Long: `Discover pages through the catalog search endpoint for each configured
product in a fixed order and stores every app it finds.

Progress is checkpointed every 100 apps and at page boundaries, so an
interrupted run can continue with --resume instead of restarting from the
first product. Entries already stored are simply updated in place, so
re-running discovery is always safe.`,
		Example: `  # Discover all products from scratch
  appmirror discover

  # Continue an interrupted run
  appmirror discover --resume

  # Only Jira and Confluence
  appmirror discover --product jira --product confluence`,
		RunE: runDiscover,
	}
)

func init() {
	discoverCmd.Flags().BoolVar(&discoverResume, "resume", false, "resume from the last checkpoint")
	discoverCmd.Flags().StringArrayVar(&discoverProducts, "product", nil, "limit discovery to a product (repeatable)")
	discoverCmd.Flags().IntVar(&discoverBatchSize, "batch-size", 0, "search page size (default from APPMIRROR_BATCH_SIZE)")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	db, settings, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	products := discoverProducts
	if len(products) == 0 {
		products = catalog.ProductKeys()
	}
	for _, p := range products {
		if !catalog.IsKnownProduct(p) {
			return fmt.Errorf("unknown product %q (known: %v)", p, catalog.ProductKeys())
		}
	}

	batchSize := discoverBatchSize
	if batchSize <= 0 {
		batchSize = settings.BatchSize
	}

	logger, closeLog := newLogger(settings)
	defer closeLog()

	// Let in-flight requests finish on interrupt; the engine saves its
	// checkpoint before returning.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := newClient(settings, logger)
	checkpoints := scraper.NewCheckpointStore(settings.CheckpointFile)
	engine := scraper.NewDiscoverer(api, db, checkpoints, batchSize, logger)

	counter := output.NewCounter("discovering", 0, "apps")
	engine.OnEntry = func(product string, processed int) {
		counter.SetLabel(catalog.ProductName(product))
		counter.Set(processed)
	}

	fmt.Printf("Discovering apps for %d products...\n", len(products))
	stats, err := engine.Run(ctx, products, discoverResume)
	counter.Finish()
	if err != nil {
		return fmt.Errorf("discovery aborted: %w", err)
	}

	for _, p := range products {
		fmt.Printf("  %-12s %d apps\n", catalog.ProductName(p), stats.PerProduct[p])
	}
	if len(stats.FailedProducts) > 0 {
		fmt.Printf("Warning: abandoned after repeated errors: %v\n", stats.FailedProducts)
	}

	total, err := db.CountApps()
	if err != nil {
		return err
	}
	fmt.Printf("Done. %d apps in the catalog.\n", total)
	return nil
}
