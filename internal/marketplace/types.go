package marketplace

// Wire types for the two remote API shapes. The v2 catalog search uses
// HAL-style _embedded/_links envelopes; the v3 version listings use a plain
// versions array with a cursor link.

// SearchPage is one page of catalog search results.
type SearchPage struct {
	Embedded struct {
		Addons []RawAddon `json:"addons"`
	} `json:"_embedded"`
	Links PageLinks `json:"_links"`
}

// HasNext reports whether the remote advertised another page.
func (p *SearchPage) HasNext() bool {
	return p.Links.Next.Href != ""
}

// PageLinks carries the pagination links of a HAL envelope.
type PageLinks struct {
	Next struct {
		Href string `json:"href"`
	} `json:"next"`
}

// RawAddon is one catalog entry as returned by the search endpoint.
type RawAddon struct {
	ID   int64  `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
	Embedded struct {
		Vendor struct {
			Name string `json:"name"`
		} `json:"vendor"`
	} `json:"_embedded"`
	Links struct {
		Alternate struct {
			Href string `json:"href"`
		} `json:"alternate"`
	} `json:"_links"`
}

// AppSoftware maps an addon key to one app-software listing per hosting type.
type AppSoftware struct {
	AppSoftwareID string `json:"appSoftwareId"`
	Hosting       string `json:"hosting"`
}

// VersionPage is one page of the v3 version listing for an app-software id.
type VersionPage struct {
	Versions   []RawVersion `json:"versions"`
	TotalCount int          `json:"totalCount"`
	Links      struct {
		Next string `json:"next"`
	} `json:"links"`
}

// RawVersion is one version descriptor from the v3 listing.
type RawVersion struct {
	BuildNumber    int64  `json:"buildNumber"`
	VersionNumber  string `json:"versionNumber"`
	CreatedAt      string `json:"createdAt"`
	ReleaseDetails *struct {
		ReleasedAt string `json:"releasedAt"`
	} `json:"releaseDetails"`
	Changelog *struct {
		ReleaseNotes   string `json:"releaseNotes"`
		ReleaseSummary string `json:"releaseSummary"`
	} `json:"changelog"`
	Compatibilities  []RawCompatibility `json:"compatibilities"`
	FrameworkDetails *struct {
		Attributes map[string]string `json:"attributes"`
	} `json:"frameworkDetails"`
}

// RawCompatibility names the host-product build range a version supports.
type RawCompatibility struct {
	ParentSoftwareID string `json:"parentSoftwareId"`
	MinBuildNumber   int64  `json:"minBuildNumber"`
	MaxBuildNumber   int64  `json:"maxBuildNumber"`
}

// ParentVersion maps a host-product build number to its version string.
type ParentVersion struct {
	BuildNumber   int64  `json:"buildNumber"`
	VersionNumber string `json:"versionNumber"`
}

type parentVersionsPage struct {
	Versions []ParentVersion `json:"versions"`
}
