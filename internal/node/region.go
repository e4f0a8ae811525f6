package node

import (
	"net/url"
	"strings"

	"golang.org/x/exp/slices"
)

// RegionResolver maps a voice server endpoint to a region tag.
type RegionResolver interface {
	Resolve(endpoint string) string
}

// RegionTable maps a region tag to the voice server host prefixes that
// belong to it, e.g. "eu" -> {"rotterdam", "russia"}.
type RegionTable map[string][]string

// DefaultRegions groups the well-known voice server locations.
var DefaultRegions = RegionTable{
	"asia": {"hongkong", "singapore", "sydney", "japan", "southafrica", "india"},
	"eu":   {"rotterdam", "russia"},
	"us":   {"us-central", "us-east", "us-south", "us-west", "brazil"},
}

// Resolve returns the region whose prefix matches the endpoint host, or ""
// when nothing matches. The longest matching prefix wins; equal lengths
// are settled by region name.
func (t RegionTable) Resolve(endpoint string) string {
	host := endpointHost(endpoint)
	if host == "" {
		return ""
	}

	regions := make([]string, 0, len(t))
	for region := range t {
		regions = append(regions, region)
	}
	slices.Sort(regions)

	best, bestLen := "", 0
	for _, region := range regions {
		for _, prefix := range t[region] {
			prefix = strings.ToLower(prefix)
			if prefix != "" && strings.HasPrefix(host, prefix) && len(prefix) > bestLen {
				best, bestLen = region, len(prefix)
			}
		}
	}
	return best
}

// endpointHost extracts the lower-cased host from "host:port",
// "wss://host:port/path" or a bare host.
func endpointHost(endpoint string) string {
	endpoint = strings.TrimSpace(strings.ToLower(endpoint))
	if endpoint == "" {
		return ""
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "wss://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
