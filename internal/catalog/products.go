package catalog

// Product is a host product whose app catalog gets mirrored.
type Product struct {
	Key  string // API identifier, e.g. "jira"
	Name string // display name, e.g. "Jira"
}

// Products is the fixed, ordered set of supported host products. Discovery
// walks this slice in order so checkpoint product indexes stay stable.
var Products = []Product{
	{Key: "jira", Name: "Jira"},
	{Key: "confluence", Name: "Confluence"},
	{Key: "bitbucket", Name: "Bitbucket"},
	{Key: "bamboo", Name: "Bamboo"},
	{Key: "crowd", Name: "Crowd"},
}

// ProductKeys returns the product keys in their fixed order.
func ProductKeys() []string {
	keys := make([]string, len(Products))
	for i, p := range Products {
		keys[i] = p.Key
	}
	return keys
}

// ProductName returns the display name for a product key, or the key itself
// if it is not a known product.
func ProductName(key string) string {
	for _, p := range Products {
		if p.Key == key {
			return p.Name
		}
	}
	return key
}

// IsKnownProduct reports whether key is in the supported product set.
func IsKnownProduct(key string) bool {
	for _, p := range Products {
		if p.Key == key {
			return true
		}
	}
	return false
}
