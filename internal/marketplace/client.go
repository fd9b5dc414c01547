// Package marketplace implements the remote catalog API client, its adaptive
// rate limiter, and the compatibility lookup cache.
package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotFound marks a permanent remote miss (HTTP 404). Callers must not
// retry it.
var ErrNotFound = errors.New("resource not found")

// StatusError is returned for non-2xx responses that are not 404.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
}

// IsTransient reports whether err is worth retrying: 429, 5xx, or a
// transport-level failure (timeout, reset). 404 and other 4xx are permanent.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	// Anything else at this layer is a transport error.
	return true
}

// ClientOptions configures a Client.
type ClientOptions struct {
	APIv2URL    string
	APIv3URL    string
	DownloadURL string // base for constructed binary URLs
	Username    string
	APIToken    string
	Limiter     *RateLimiter
	MaxRetries  int
	// RetryBackoff is the first retry sleep; each further attempt doubles it.
	RetryBackoff time.Duration
	HTTPClient   *http.Client
	Logger       *log.Logger
}

// Client talks to the marketplace REST APIs. All request methods apply the
// shared rate limiter, feed response statuses back into it, and retry
// transient failures with exponential backoff.
type Client struct {
	apiV2        string
	apiV3        string
	downloadBase string
	username     string
	apiToken     string
	limiter      *RateLimiter
	maxRetries   int
	retryBackoff time.Duration
	http         *http.Client
	logger       *log.Logger
}

// NewClient builds a Client. A nil Limiter gets a default one; MaxRetries
// below 1 becomes 3.
func NewClient(opts ClientOptions) *Client {
	if opts.Limiter == nil {
		opts.Limiter = NewRateLimiter(DefaultRateLimitConfig())
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		apiV2:        opts.APIv2URL,
		apiV3:        opts.APIv3URL,
		downloadBase: opts.DownloadURL,
		username:     opts.Username,
		apiToken:     opts.APIToken,
		limiter:      opts.Limiter,
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		http:         opts.HTTPClient,
		logger:       opts.Logger,
	}
}

// Limiter exposes the shared rate limiter so engines can inspect it.
func (c *Client) Limiter() *RateLimiter { return c.limiter }

// SearchApps fetches one page of the catalog search for a product.
func (c *Client) SearchApps(ctx context.Context, product, hosting string, offset, limit int) (*SearchPage, error) {
	if limit > 100 {
		limit = 100 // API maximum
	}
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	if hosting != "" {
		q.Set("hosting", hosting)
	}
	if product != "" {
		q.Set("application", product)
	}

	var page SearchPage
	if err := c.getJSON(ctx, c.apiV2+"/addons?"+q.Encode(), &page); err != nil {
		return nil, fmt.Errorf("search apps (product=%s offset=%d): %w", product, offset, err)
	}
	return &page, nil
}

// AppSoftware returns the per-hosting app-software listings for an addon key.
func (c *Client) AppSoftware(ctx context.Context, addonKey string) ([]AppSoftware, error) {
	var listings []AppSoftware
	u := c.apiV3 + "/app-software/app-key/" + url.PathEscape(addonKey)
	if err := c.getJSON(ctx, u, &listings); err != nil {
		return nil, fmt.Errorf("app software for %s: %w", addonKey, err)
	}
	return listings, nil
}

// AppVersions fetches one page of the v3 version listing. cursor may be empty
// for the first page.
func (c *Client) AppVersions(ctx context.Context, appSoftwareID, cursor string) (*VersionPage, error) {
	q := url.Values{}
	q.Set("limit", "50")
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var page VersionPage
	u := c.apiV3 + "/app-software/" + url.PathEscape(appSoftwareID) + "/versions?" + q.Encode()
	if err := c.getJSON(ctx, u, &page); err != nil {
		return nil, fmt.Errorf("versions for %s: %w", appSoftwareID, err)
	}
	return &page, nil
}

// AllAppVersions walks the cursor pagination and returns every version.
func (c *Client) AllAppVersions(ctx context.Context, appSoftwareID string) ([]RawVersion, error) {
	var all []RawVersion
	cursor := ""
	for {
		page, err := c.AppVersions(ctx, appSoftwareID, cursor)
		if err != nil {
			return all, err
		}
		if len(page.Versions) == 0 {
			return all, nil
		}
		all = append(all, page.Versions...)
		cursor = cursorFromLink(page.Links.Next)
		if cursor == "" {
			return all, nil
		}
	}
}

// ParentSoftwareVersions returns the build→version table for a host product.
func (c *Client) ParentSoftwareVersions(ctx context.Context, parentID string) ([]ParentVersion, error) {
	var page parentVersionsPage
	u := c.apiV3 + "/parent-software/" + url.PathEscape(parentID) + "/versions"
	if err := c.getJSON(ctx, u, &page); err != nil {
		return nil, fmt.Errorf("parent software versions for %s: %w", parentID, err)
	}
	return page.Versions, nil
}

// BinaryURL constructs the download URL for a version from the numeric
// marketplace id. Binary URLs are keyed by the numeric id, not the addon key.
func (c *Client) BinaryURL(marketplaceID int64, versionID string) string {
	return fmt.Sprintf("%s/download/apps/%d/version/%s", c.downloadBase, marketplaceID, url.PathEscape(versionID))
}

// FetchBinary issues a single streamed GET for a binary artifact. The caller
// owns retry policy and must close the body. The advertised content length is
// -1 when the remote did not send one.
func (c *Client) FetchBinary(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	c.limiter.OnResponse(resp.StatusCode)

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("fetch %s: %w", rawURL, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, 0, &StatusError{Status: resp.StatusCode, URL: rawURL}
	}
	return resp.Body, resp.ContentLength, nil
}

// getJSON performs a GET with rate limiting, retry on transient failures, and
// JSON decoding into out.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.retryBackoff << (attempt - 1)
			c.logger.Printf("retrying %s in %s (attempt %d/%d): %v", rawURL, wait, attempt+1, c.maxRetries, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		lastErr = c.doJSON(ctx, rawURL, out)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) doJSON(ctx context.Context, rawURL string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.limiter.OnResponse(resp.StatusCode)

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("get %s: %w", rawURL, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, URL: rawURL}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", rawURL, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.username != "" && c.apiToken != "" {
		req.SetBasicAuth(c.username, c.apiToken)
	}
}

// cursorFromLink extracts the cursor value from a next-page link.
func cursorFromLink(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Query().Get("cursor")
}
