package crawler

import (
	"fmt"
	"strings"
)

// FindAncestor walks from link up its origin chain, link included, and returns
// the first link of the given kind.
func FindAncestor(link *Link, kind LinkKind) (*Link, bool) {
	for cur := link; cur != nil; cur = cur.origin {
		if cur.Kind == kind {
			return cur, true
		}
	}
	return nil, false
}

// ResolveRegion returns the region identifier for a link, e.g. "united_states"
// for a record discovered under the "United States" country page.
func ResolveRegion(link *Link) (string, error) {
	region, ok := FindAncestor(link, KindRegion)
	if !ok {
		return "", fmt.Errorf("resolve region for %s: %w", link, ErrUnresolvableContext)
	}
	return RegionID(region.Name), nil
}

// RegionID normalizes a region display name into its identifier form.
func RegionID(name string) string {
	return strings.Join(strings.Split(strings.ToLower(name), " "), "_")
}
