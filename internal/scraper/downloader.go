package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blackwell-systems/appmirror/internal/catalog"
	"github.com/blackwell-systems/appmirror/internal/marketplace"
	"github.com/blackwell-systems/appmirror/internal/store"
)

// consecutiveIOLimit aborts the run after this many back-to-back local I/O
// failures (disk full, permissions). Continuing past that is pointless.
const consecutiveIOLimit = 5

// ErrStorageFailing is returned when local writes keep failing across items.
var ErrStorageFailing = errors.New("local storage is failing repeatedly, aborting run")

// errResolution marks a version whose binary URL cannot be built because the
// owning app has no numeric marketplace id yet.
var errResolution = errors.New("numeric marketplace id missing: re-run 'appmirror discover' to fill it")

// DownloadStats summarizes one download run.
type DownloadStats struct {
	Queued         int
	Downloaded     int
	AlreadyPresent int
	Failed         int
	Skipped        int // unresolvable items (missing numeric id)
	Bytes          int64
}

// DownloadResult reports one work item's outcome to the results collector.
type DownloadResult struct {
	AddonKey  string
	VersionID string
	Path      string
	Bytes     int64
	Existed   bool
	Skipped   bool
	Err       error
}

// Downloader fetches pending binary artifacts across a bounded worker pool.
// Every item is idempotent: an artifact already on disk is recognized and
// marked without network work, and partial downloads are never left behind
// (stream to temp, verify, atomic rename).
type Downloader struct {
	api        *marketplace.Client
	store      *store.Store
	binDirFor  func(product string) string
	maxRetries int
	// retryBackoff sleeps between download attempts; kept short since the
	// rate limiter already paces requests.
	retryBackoff time.Duration
	logger       *log.Logger
	failedLog    io.Writer

	mu            sync.Mutex
	consecutiveIO int

	// OnResult, when set, is called after each item completes (progress UI).
	OnResult func(DownloadResult)
}

// NewDownloader builds the download engine. binDirFor maps a product key to
// its artifact root (per-product storage drives). failedLog may be nil.
func NewDownloader(api *marketplace.Client, st *store.Store, binDirFor func(string) string, maxRetries int, logger *log.Logger, failedLog io.Writer) *Downloader {
	if maxRetries < 1 {
		maxRetries = 3
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Downloader{
		api:          api,
		store:        st,
		binDirFor:    binDirFor,
		maxRetries:   maxRetries,
		retryBackoff: time.Second,
		logger:       logger,
		failedLog:    failedLog,
	}
}

// Run downloads every pending version, optionally limited to one product or
// one addon key, across the given number of workers. Per-item failures are
// recorded and do not fail the run; pervasive local I/O failure does.
func (d *Downloader) Run(ctx context.Context, product, addonKey string, workers int) (*DownloadStats, error) {
	pending, err := d.store.PendingVersions(product, addonKey)
	if err != nil {
		return nil, err
	}
	stats := &DownloadStats{Queued: len(pending)}
	if len(pending) == 0 {
		return stats, nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(pending) {
		workers = len(pending)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	queue := make(chan *store.PendingVersion)
	results := make(chan DownloadResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				res := d.downloadOne(ctx, item)
				if res.Err != nil && d.storageFailing(res.Err) {
					cancel(ErrStorageFailing)
				}
				results <- res
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, item := range pending {
			select {
			case <-ctx.Done():
				return
			case queue <- item:
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		switch {
		case res.Skipped:
			stats.Skipped++
		case res.Err != nil:
			stats.Failed++
		case res.Existed:
			stats.AlreadyPresent++
		default:
			stats.Downloaded++
			stats.Bytes += res.Bytes
		}
		if d.OnResult != nil {
			d.OnResult(res)
		}
	}

	if cause := context.Cause(ctx); errors.Is(cause, ErrStorageFailing) {
		return stats, ErrStorageFailing
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

// downloadOne processes a single pending version: resolve the URL, honor the
// skip-if-exists condition, then download with retries. Worker boundary:
// every failure is caught and reported, never propagated.
func (d *Downloader) downloadOne(ctx context.Context, item *store.PendingVersion) DownloadResult {
	res := DownloadResult{AddonKey: item.AddonKey, VersionID: item.VersionID}

	url := item.DownloadURL
	if url == "" {
		if item.MarketplaceID == 0 {
			d.logger.Printf("cannot resolve download URL for %s/%s: %v", item.AddonKey, item.VersionID, errResolution)
			res.Skipped = true
			return res
		}
		url = d.api.BinaryURL(item.MarketplaceID, item.VersionID)
	}

	product := "unknown"
	if len(item.Products) > 0 {
		product = item.Products[0]
	}
	dir := filepath.Join(d.binDirFor(product), item.AddonKey, item.VersionID)
	path := filepath.Join(dir, artifactFileName(item, url))

	// Idempotent re-run: a plausible artifact already in place means no
	// network work at all.
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		if err := d.store.MarkDownloaded(item.AddonKey, item.VersionID, path, fi.Size()); err != nil {
			res.Err = err
			return res
		}
		d.resetIOStreak()
		res.Existed = true
		res.Path = path
		res.Bytes = fi.Size()
		return res
	}

	size, err := d.downloadWithRetries(ctx, url, dir, path)
	if err != nil {
		d.recordFailure(item, url, err)
		res.Err = err
		return res
	}
	if err := d.store.MarkDownloaded(item.AddonKey, item.VersionID, path, size); err != nil {
		res.Err = err
		return res
	}
	d.resetIOStreak()
	res.Path = path
	res.Bytes = size
	return res
}

// downloadWithRetries attempts the fetch up to maxRetries times. Transient
// failures (429, 5xx, transport errors) back off and retry; a 404 is
// permanent and returns immediately.
func (d *Downloader) downloadWithRetries(ctx context.Context, url, dir, path string) (int64, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, &localIOError{err: fmt.Errorf("failed to create %s: %w", dir, err)}
	}

	var lastErr error
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		if attempt > 0 {
			d.logger.Printf("retrying download of %s (attempt %d/%d): %v", url, attempt+1, d.maxRetries, lastErr)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(d.retryBackoff):
			}
		}

		size, err := d.downloadOnce(ctx, url, dir, path)
		if err == nil {
			return size, nil
		}
		lastErr = err

		var ioErr *localIOError
		if errors.As(err, &ioErr) {
			// Local disk trouble is not the remote's fault; no retry here.
			return 0, err
		}
		if errors.Is(err, marketplace.ErrNotFound) {
			return 0, err
		}
		if !marketplace.IsTransient(err) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("giving up after %d attempts: %w", d.maxRetries, lastErr)
}

// downloadOnce streams the artifact to a temp file in the target directory,
// verifies size, and atomically renames into place. A failed or empty result
// is deleted, never left behind.
func (d *Downloader) downloadOnce(ctx context.Context, url, dir, path string) (int64, error) {
	body, contentLength, err := d.api.FetchBinary(ctx, url)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return 0, &localIOError{err: fmt.Errorf("failed to create temp file in %s: %w", dir, err)}
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	written, err := io.Copy(tmp, body)
	if err != nil {
		cleanup()
		// Reads and writes are interleaved here; a short read from the
		// remote is transient, so only surface it as local when the copy
		// destination failed.
		if isDiskError(err) {
			return 0, &localIOError{err: fmt.Errorf("failed to write %s: %w", tmpName, err)}
		}
		return 0, fmt.Errorf("failed to stream %s: %w", url, err)
	}
	if written == 0 {
		cleanup()
		return 0, fmt.Errorf("empty download from %s", url)
	}
	if contentLength > 0 && written != contentLength {
		cleanup()
		return 0, fmt.Errorf("size mismatch for %s: got %d bytes, advertised %d", url, written, contentLength)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, &localIOError{err: fmt.Errorf("failed to sync %s: %w", tmpName, err)}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, &localIOError{err: fmt.Errorf("failed to close %s: %w", tmpName, err)}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return 0, &localIOError{err: fmt.Errorf("failed to move artifact into place: %w", err)}
	}
	return written, nil
}

// recordFailure persists a failed-download record and appends to the failed
// log so re-runs and operators can audit it.
func (d *Downloader) recordFailure(item *store.PendingVersion, url string, cause error) {
	f := &catalog.FailedDownload{
		AddonKey:  item.AddonKey,
		VersionID: item.VersionID,
		URL:       url,
		Error:     cause.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := d.store.RecordFailedDownload(f); err != nil {
		d.logger.Printf("failed to record failed download %s/%s: %v", item.AddonKey, item.VersionID, err)
	}
	if d.failedLog != nil {
		fmt.Fprintf(d.failedLog, "%s\t%s\t%s\t%s\t%s\n",
			f.Timestamp.Format(time.RFC3339), f.AddonKey, f.VersionID, f.URL, f.Error)
	}
	d.logger.Printf("download failed for %s/%s: %v", item.AddonKey, item.VersionID, cause)
}

// storageFailing tracks consecutive local I/O failures across workers and
// reports whether the run should abort.
func (d *Downloader) storageFailing(err error) bool {
	var ioErr *localIOError
	if !errors.As(err, &ioErr) {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveIO++
	return d.consecutiveIO >= consecutiveIOLimit
}

func (d *Downloader) resetIOStreak() {
	d.mu.Lock()
	d.consecutiveIO = 0
	d.mu.Unlock()
}

// localIOError wraps disk-side failures so they are never retried against
// the remote and feed the pervasive-failure abort.
type localIOError struct {
	err error
}

func (e *localIOError) Error() string { return e.err.Error() }
func (e *localIOError) Unwrap() error { return e.err }

func isDiskError(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr)
}

// artifactFileName picks the on-disk name: the remote-advertised file name,
// the last URL path segment when it looks like a file, or a synthesized
// "{key}-{version}.jar".
func artifactFileName(item *store.PendingVersion, url string) string {
	if item.FileName != "" {
		return item.FileName
	}
	trimmed := url
	if i := strings.IndexByte(trimmed, '?'); i >= 0 {
		trimmed = trimmed[:i]
	}
	if i := strings.LastIndexByte(trimmed, '/'); i >= 0 {
		if seg := trimmed[i+1:]; strings.ContainsRune(seg, '.') && seg != "download" {
			return seg
		}
	}
	return fmt.Sprintf("%s-%s.jar", item.AddonKey, item.VersionID)
}
