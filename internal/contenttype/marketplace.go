package contenttype

import (
	"fmt"
	"sort"
	"strings"
)

// Marketplace is a distribution channel an item can be published to.
type Marketplace string

const (
	XSOAR         Marketplace = "xsoar"
	MarketplaceV2 Marketplace = "marketplacev2"
	XPANSE        Marketplace = "xpanse"
)

// AllMarketplaces returns every known marketplace in a fixed order.
func AllMarketplaces() []Marketplace {
	return []Marketplace{XSOAR, MarketplaceV2, XPANSE}
}

// DefaultPackMarketplaces is used when pack metadata omits marketplaces.
func DefaultPackMarketplaces() []Marketplace {
	return []Marketplace{XSOAR, MarketplaceV2}
}

// ParseMarketplace resolves a marketplace tag case-insensitively.
func ParseMarketplace(s string) (Marketplace, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, m := range AllMarketplaces() {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown marketplace %q", s)
}

// MarketplaceSet is an unordered set of marketplaces.
type MarketplaceSet map[Marketplace]struct{}

// NewMarketplaceSet builds a set from the given tags.
func NewMarketplaceSet(ms ...Marketplace) MarketplaceSet {
	s := make(MarketplaceSet, len(ms))
	for _, m := range ms {
		s[m] = struct{}{}
	}
	return s
}

func (s MarketplaceSet) Has(m Marketplace) bool {
	_, ok := s[m]
	return ok
}

// Intersect returns the marketplaces present in both sets.
func (s MarketplaceSet) Intersect(other MarketplaceSet) MarketplaceSet {
	out := make(MarketplaceSet)
	for m := range s {
		if other.Has(m) {
			out[m] = struct{}{}
		}
	}
	return out
}

// Sorted returns the set as a slice ordered like AllMarketplaces, with
// unknown tags appended alphabetically.
func (s MarketplaceSet) Sorted() []Marketplace {
	out := make([]Marketplace, 0, len(s))
	for _, m := range AllMarketplaces() {
		if s.Has(m) {
			out = append(out, m)
		}
	}
	var extra []string
	for m := range s {
		known := false
		for _, k := range AllMarketplaces() {
			if k == m {
				known = true
				break
			}
		}
		if !known {
			extra = append(extra, string(m))
		}
	}
	sort.Strings(extra)
	for _, e := range extra {
		out = append(out, Marketplace(e))
	}
	return out
}
