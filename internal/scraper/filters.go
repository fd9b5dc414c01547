package scraper

import (
	"time"

	"github.com/blackwell-systems/appmirror/internal/catalog"
)

// DefaultAllowedHosting is the hosting set mirrored by default. Cloud
// versions have no downloadable binary and are always excluded.
var DefaultAllowedHosting = map[string]bool{
	"server":     true,
	"datacenter": true,
}

// ByDate reports whether a version was released within the trailing window
// of windowDays ending at now. The boundary day itself is included. Versions
// without a release date never pass on their own.
func ByDate(v *catalog.Version, now time.Time, windowDays int) bool {
	if v.ReleaseDate.IsZero() {
		return false
	}
	cutoff := now.AddDate(0, 0, -windowDays)
	return !v.ReleaseDate.Before(cutoff)
}

// ByHosting reports whether the version's hosting type is in the allowed set.
func ByHosting(v *catalog.Version, allowed map[string]bool) bool {
	return allowed[v.HostingType]
}
