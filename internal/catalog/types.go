package catalog

import "time"

// Entry represents one marketplace app discovered via the catalog search.
// AddonKey is the stable string identity; MarketplaceID is the numeric id
// required to build binary download URLs and is filled in by discovery
// (write-once: once set, later rediscoveries never change it).
type Entry struct {
	AddonKey       string
	MarketplaceID  int64
	Name           string
	Vendor         string
	Products       []string // host products this app supports (jira, confluence, ...)
	Hosting        []string // server, datacenter, cloud
	MarketplaceURL string
	ScrapedAt      time.Time
}

// Version represents one released version of one catalog entry.
// (AddonKey, VersionID) is unique. VersionID is the remote build number.
type Version struct {
	AddonKey      string
	VersionID     string
	VersionName   string
	BuildNumber   string
	ReleaseDate   time.Time
	HostingType   string // server, datacenter or cloud
	Compatibility string // e.g. "Confluence Data Center 8.5.1 - 9.2.0"
	DownloadURL   string // empty until resolved
	FileName      string
	FileSize      int64
	FilePath      string // local artifact path, empty until downloaded
	Downloaded    bool
	DownloadDate  time.Time
}

// FailedDownload records one exhausted or permanently failed binary fetch.
type FailedDownload struct {
	AddonKey  string
	VersionID string
	URL       string
	Error     string
	Timestamp time.Time
}
