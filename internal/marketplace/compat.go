package marketplace

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ParentVersionCache is the persistent side of the build→version lookup.
// The store implements it; a nil cache disables write-through.
type ParentVersionCache interface {
	GetParentVersion(parentID string, buildNumber int64) (string, error)
	SaveParentVersions(parentID string, versions []ParentVersion) error
}

// compatFetcher is the remote side of the lookup, satisfied by *Client.
type compatFetcher interface {
	ParentSoftwareVersions(ctx context.Context, parentID string) ([]ParentVersion, error)
}

// CompatResolver turns host-product build numbers into version strings.
// The same build numbers recur across apps, so results are memoized for the
// lifetime of the resolver (one engine run) and written through to the store
// so later runs skip the remote call entirely. Safe for concurrent workers.
type CompatResolver struct {
	api   compatFetcher
	cache ParentVersionCache

	mu     sync.Mutex
	byID   map[string]map[int64]string // parentID -> build -> version
	misses map[string]bool             // parentIDs whose remote fetch failed
}

// NewCompatResolver builds a resolver over the given client and optional
// persistent cache.
func NewCompatResolver(api compatFetcher, cache ParentVersionCache) *CompatResolver {
	return &CompatResolver{
		api:    api,
		cache:  cache,
		byID:   make(map[string]map[int64]string),
		misses: make(map[string]bool),
	}
}

// VersionString resolves a build number (e.g. 22972) to a version string
// (e.g. "10.0.1"). Returns "" when the mapping is unknown.
func (r *CompatResolver) VersionString(ctx context.Context, parentID string, build int64) string {
	if parentID == "" || build == 0 {
		return ""
	}

	r.mu.Lock()
	if table, ok := r.byID[parentID]; ok {
		v := table[build]
		r.mu.Unlock()
		return v
	}
	failed := r.misses[parentID]
	r.mu.Unlock()

	// Persistent cache before the network.
	if r.cache != nil {
		if v, err := r.cache.GetParentVersion(parentID, build); err == nil && v != "" {
			return v
		}
	}
	if failed {
		return ""
	}

	versions, err := r.api.ParentSoftwareVersions(ctx, parentID)
	if err != nil {
		r.mu.Lock()
		r.misses[parentID] = true
		r.mu.Unlock()
		return ""
	}

	table := make(map[int64]string, len(versions))
	for _, v := range versions {
		table[v.BuildNumber] = v.VersionNumber
	}
	r.mu.Lock()
	r.byID[parentID] = table
	r.mu.Unlock()

	if r.cache != nil && len(versions) > 0 {
		_ = r.cache.SaveParentVersions(parentID, versions)
	}
	return table[build]
}

// FormatCompatibility renders a compatibility range as a human-readable
// string like "Confluence Data Center 8.5.1 - 9.2.0". Unknown version
// strings fall back to the raw build numbers.
func (r *CompatResolver) FormatCompatibility(ctx context.Context, compat RawCompatibility, hostingType string) string {
	if compat.ParentSoftwareID == "" || compat.MinBuildNumber == 0 || compat.MaxBuildNumber == 0 {
		return ""
	}

	hosting := "Server"
	if hostingType == "datacenter" {
		hosting = "Data Center"
	}
	product := titleCase(compat.ParentSoftwareID)

	minV := r.VersionString(ctx, compat.ParentSoftwareID, compat.MinBuildNumber)
	maxV := r.VersionString(ctx, compat.ParentSoftwareID, compat.MaxBuildNumber)
	if minV == "" || maxV == "" {
		return fmt.Sprintf("%s %s %d - %d", product, hosting, compat.MinBuildNumber, compat.MaxBuildNumber)
	}
	return fmt.Sprintf("%s %s %s - %s", product, hosting, minV, maxV)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
