// Package scraper implements the three pipeline stages: catalog discovery,
// version acquisition, and binary download, plus their checkpoint and filter
// helpers.
package scraper

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/blackwell-systems/appmirror/internal/catalog"
	"github.com/blackwell-systems/appmirror/internal/marketplace"
	"github.com/blackwell-systems/appmirror/internal/store"
)

// checkpointInterval is how many processed entries pass between periodic
// checkpoint saves (page boundaries also save).
const checkpointInterval = 100

// DiscoveryStats summarizes one discovery run.
type DiscoveryStats struct {
	Processed      int
	FailedProducts []string
	PerProduct     map[string]int
	Resumed        bool
}

// Discoverer enumerates the catalog for every configured product via the
// paginated search endpoint and upserts entries in page-sized batches. The
// loop is single-threaded; progress is checkpointed so an interrupted run
// resumes where it left off.
type Discoverer struct {
	api         *marketplace.Client
	store       *store.Store
	checkpoints *CheckpointStore
	batchSize   int
	hosting     string
	logger      *log.Logger

	// OnEntry, when set, is called once per processed entry (progress UI).
	OnEntry func(product string, processed int)
}

// NewDiscoverer builds a discovery engine. batchSize below 1 becomes 50.
func NewDiscoverer(api *marketplace.Client, st *store.Store, cps *CheckpointStore, batchSize int, logger *log.Logger) *Discoverer {
	if batchSize < 1 {
		batchSize = 50
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Discoverer{
		api:         api,
		store:       st,
		checkpoints: cps,
		batchSize:   batchSize,
		hosting:     "server",
		logger:      logger,
	}
}

// Run walks every product's catalog in the fixed product order. With resume
// set it continues from the stored checkpoint instead of product 0. The
// checkpoint is cleared only when every product completes; abandoning a
// single product after exhausted retries is logged but does not fail the run.
func (d *Discoverer) Run(ctx context.Context, products []string, resume bool) (*DiscoveryStats, error) {
	stats := &DiscoveryStats{PerProduct: make(map[string]int)}

	cp := d.loadOrStart(products, resume, stats)

	for idx := cp.ProductIndex; idx < len(cp.Products); idx++ {
		product := cp.Products[idx]

		offset := 0
		if idx == cp.ProductIndex {
			// Resume inside the product we stopped in; later products
			// start from the beginning.
			offset = cp.Offset
		}
		cp.ProductIndex = idx
		cp.Offset = offset

		n, err := d.scrapeProduct(ctx, product, cp, stats)
		if err != nil {
			if ctx.Err() != nil {
				// Interrupted: leave the checkpoint in place for --resume.
				if saveErr := d.checkpoints.Save(cp); saveErr != nil {
					d.logger.Printf("failed to save checkpoint on interrupt: %v", saveErr)
				}
				return stats, err
			}
			// Exhausted retries on one product: abandon it for this run and
			// move on, per-product failures are not fatal to siblings.
			d.logger.Printf("abandoning product %s for this run: %v", product, err)
			stats.FailedProducts = append(stats.FailedProducts, product)
		}
		stats.PerProduct[product] = n
	}

	if err := d.checkpoints.Clear(); err != nil {
		d.logger.Printf("failed to clear checkpoint: %v", err)
	}
	stats.Processed = cp.Processed
	return stats, nil
}

// loadOrStart returns the checkpoint to drive this run: the stored one when
// resuming (and compatible with the requested product order), otherwise a
// fresh one. Corrupt checkpoints are logged and treated as absent.
func (d *Discoverer) loadOrStart(products []string, resume bool, stats *DiscoveryStats) *Checkpoint {
	if resume {
		cp, err := d.checkpoints.Load()
		if err != nil {
			d.logger.Printf("ignoring unreadable checkpoint: %v", err)
		} else if cp != nil {
			if sameProducts(cp.Products, products) {
				d.logger.Printf("resuming run %s: product %d/%d, offset %d, %d processed",
					cp.RunID, cp.ProductIndex+1, len(cp.Products), cp.Offset, cp.Processed)
				stats.Resumed = true
				return cp
			}
			d.logger.Printf("checkpoint product list changed, starting fresh")
		}
	}
	return NewCheckpoint(products)
}

// scrapeProduct pages through one product's search results until an empty
// page, flushing each page as a batch upsert and checkpointing at page
// boundaries and every checkpointInterval entries.
func (d *Discoverer) scrapeProduct(ctx context.Context, product string, cp *Checkpoint, stats *DiscoveryStats) (int, error) {
	found := 0
	for {
		page, err := d.api.SearchApps(ctx, product, d.hosting, cp.Offset, d.batchSize)
		if err != nil {
			return found, err
		}
		addons := page.Embedded.Addons
		if len(addons) == 0 {
			return found, nil
		}

		entries := make([]*catalog.Entry, 0, len(addons))
		for _, raw := range addons {
			if raw.Key == "" {
				d.logger.Printf("skipping %s entry without key at offset %d", product, cp.Offset)
				continue
			}
			entries = append(entries, entryFromAddon(raw, product, d.hosting))
		}
		if err := d.store.UpsertApps(entries); err != nil {
			return found, fmt.Errorf("flush batch for %s at offset %d: %w", product, cp.Offset, err)
		}

		for range entries {
			found++
			cp.Processed++
			if d.OnEntry != nil {
				d.OnEntry(product, cp.Processed)
			}
			if cp.Processed%checkpointInterval == 0 {
				if err := d.checkpoints.Save(cp); err != nil {
					d.logger.Printf("failed to save checkpoint: %v", err)
				}
			}
		}

		cp.Offset += len(addons)
		// Page boundary is a safe resume point.
		if err := d.checkpoints.Save(cp); err != nil {
			d.logger.Printf("failed to save checkpoint: %v", err)
		}

		if !page.HasNext() {
			return found, nil
		}
	}
}

func entryFromAddon(raw marketplace.RawAddon, product, hosting string) *catalog.Entry {
	return &catalog.Entry{
		AddonKey:       raw.Key,
		MarketplaceID:  raw.ID,
		Name:           raw.Name,
		Vendor:         raw.Embedded.Vendor.Name,
		Products:       []string{product},
		Hosting:        []string{hosting},
		MarketplaceURL: raw.Links.Alternate.Href,
		ScrapedAt:      time.Now().UTC(),
	}
}

func sameProducts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
