package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/blackwell-systems/appmirror/internal/catalog"
	"github.com/blackwell-systems/appmirror/internal/marketplace"
	"github.com/blackwell-systems/appmirror/internal/store"
)

// VersionResult reports one catalog entry's outcome to the results collector.
type VersionResult struct {
	AddonKey string
	Saved    int
	Err      error
}

// VersionStats summarizes one acquisition run.
type VersionStats struct {
	Apps          int
	TotalVersions int
	Failed        []string
	NoVersions    int
}

// VersionScraper fetches version histories for every known catalog entry
// across a bounded worker pool. Each worker handles one entry end-to-end:
// fetch the app-software listings, walk each hosting type's version pages,
// merge in the compatibility strings, filter, and upsert. Entries are
// independent; one entry exhausting its retries never aborts the others.
type VersionScraper struct {
	api            *marketplace.Client
	store          *store.Store
	compat         *marketplace.CompatResolver
	windowDays     int
	allowedHosting map[string]bool
	logger         *log.Logger

	// now is stubbed in tests for deterministic date filtering.
	now func() time.Time

	// OnResult, when set, is called after each entry completes (progress UI).
	OnResult func(VersionResult)
}

// NewVersionScraper builds the acquisition engine with the default filters:
// a trailing window of windowDays (≤0 means 365) and server + datacenter
// hosting only.
func NewVersionScraper(api *marketplace.Client, st *store.Store, windowDays int, logger *log.Logger) *VersionScraper {
	if windowDays <= 0 {
		windowDays = 365
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &VersionScraper{
		api:            api,
		store:          st,
		compat:         marketplace.NewCompatResolver(api, st),
		windowDays:     windowDays,
		allowedHosting: DefaultAllowedHosting,
		logger:         logger,
		now:            time.Now,
	}
}

// Run processes every addon key (optionally limited to one product or one
// key) with the given number of workers. It fails only when no work can be
// enumerated at all; per-entry failures are collected in the stats.
func (vs *VersionScraper) Run(ctx context.Context, product, addonKey string, workers int) (*VersionStats, error) {
	var keys []string
	if addonKey != "" {
		keys = []string{addonKey}
	} else {
		var err error
		keys, err = vs.store.ListAddonKeys(product)
		if err != nil {
			return nil, err
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("no apps in the metadata store: run 'appmirror discover' first")
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(keys) {
		workers = len(keys)
	}

	queue := make(chan string)
	results := make(chan VersionResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range queue {
				results <- vs.scrapeOne(ctx, key)
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, key := range keys {
			select {
			case <-ctx.Done():
				return
			case queue <- key:
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	stats := &VersionStats{Apps: len(keys)}
	for res := range results {
		switch {
		case res.Err != nil:
			vs.logger.Printf("version scrape failed for %s: %v", res.AddonKey, res.Err)
			stats.Failed = append(stats.Failed, res.AddonKey)
		case res.Saved == 0:
			stats.NoVersions++
		default:
			stats.TotalVersions += res.Saved
		}
		if vs.OnResult != nil {
			vs.OnResult(res)
		}
	}

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

// scrapeOne handles a single catalog entry end-to-end. Worker boundary:
// every failure is caught here and reported as a result, never panics out.
func (vs *VersionScraper) scrapeOne(ctx context.Context, addonKey string) VersionResult {
	versions, err := vs.fetchVersions(ctx, addonKey)
	if err != nil {
		return VersionResult{AddonKey: addonKey, Err: err}
	}
	if len(versions) == 0 {
		return VersionResult{AddonKey: addonKey}
	}
	if err := vs.store.UpsertVersions(versions); err != nil {
		return VersionResult{AddonKey: addonKey, Err: err}
	}
	return VersionResult{AddonKey: addonKey, Saved: len(versions)}
}

// fetchVersions merges both API shapes for one entry: the per-hosting
// app-software listings and, per version, the compatibility range resolved
// through the memoized build→version table. Filters are AND-ed.
func (vs *VersionScraper) fetchVersions(ctx context.Context, addonKey string) ([]*catalog.Version, error) {
	listings, err := vs.api.AppSoftware(ctx, addonKey)
	if err != nil {
		if errors.Is(err, marketplace.ErrNotFound) {
			// App has no app-software listing; nothing to mirror.
			return nil, nil
		}
		return nil, err
	}

	now := vs.now()
	var kept []*catalog.Version
	for _, listing := range listings {
		if listing.AppSoftwareID == "" || listing.Hosting == "" {
			continue
		}
		// Skip whole hosting families we will filter out anyway (cloud).
		if !vs.allowedHosting[listing.Hosting] {
			continue
		}

		raws, err := vs.api.AllAppVersions(ctx, listing.AppSoftwareID)
		if err != nil {
			return nil, fmt.Errorf("versions for %s (%s): %w", addonKey, listing.Hosting, err)
		}
		for _, raw := range raws {
			v := vs.buildVersion(ctx, addonKey, raw, listing.Hosting)
			if v == nil {
				continue
			}
			if ByDate(v, now, vs.windowDays) && ByHosting(v, vs.allowedHosting) {
				kept = append(kept, v)
			}
		}
	}
	return kept, nil
}

// buildVersion is the pure merge of one raw version descriptor with its
// resolved compatibility string.
func (vs *VersionScraper) buildVersion(ctx context.Context, addonKey string, raw marketplace.RawVersion, hosting string) *catalog.Version {
	if raw.BuildNumber == 0 {
		vs.logger.Printf("skipping %s version without build number", addonKey)
		return nil
	}

	v := &catalog.Version{
		AddonKey:    addonKey,
		VersionID:   strconv.FormatInt(raw.BuildNumber, 10),
		VersionName: raw.VersionNumber,
		BuildNumber: strconv.FormatInt(raw.BuildNumber, 10),
		HostingType: hosting,
		ReleaseDate: releaseDate(raw),
	}

	if len(raw.Compatibilities) > 0 {
		// Usually a single range; the first is authoritative.
		v.Compatibility = vs.compat.FormatCompatibility(ctx, raw.Compatibilities[0], hosting)
	}
	if raw.FrameworkDetails != nil {
		if artifactID := raw.FrameworkDetails.Attributes["artifactId"]; artifactID != "" {
			v.DownloadURL = "https://marketplace.atlassian.com/artifacts/" + artifactID + "/download"
		}
	}
	return v
}

// releaseDate prefers releaseDetails.releasedAt, falling back to createdAt.
func releaseDate(raw marketplace.RawVersion) time.Time {
	if raw.ReleaseDetails != nil && raw.ReleaseDetails.ReleasedAt != "" {
		if t := parseRemoteTime(raw.ReleaseDetails.ReleasedAt); !t.IsZero() {
			return t
		}
	}
	return parseRemoteTime(raw.CreatedAt)
}

func parseRemoteTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	// Some payloads carry extra precision; the date part is enough.
	if len(s) >= 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return t
		}
	}
	return time.Time{}
}
