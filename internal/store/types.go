package store

import "github.com/blackwell-systems/appmirror/internal/catalog"

// PendingVersion is a version record awaiting binary download, joined with
// the owning app's numeric id and host products so the downloader can build
// the binary URL and pick a storage directory without extra queries.
type PendingVersion struct {
	catalog.Version
	MarketplaceID int64
	Products      []string
}

// Summary aggregates pipeline progress for the status command.
type Summary struct {
	Apps            int
	Versions        int
	Downloaded      int
	Pending         int
	FailedDownloads int
	ArtifactBytes   int64
}
