package discovery

import (
	"sort"
	"strings"

	"github.com/hrygo/dealsense/store"
)

// advancedCapabilities earn a small per-capability score bonus.
var advancedCapabilities = map[string]bool{
	"bundle_pricing":   true,
	"dynamic_discount": true,
	"loyalty_offers":   true,
}

// rankSellers filters, scores, and sorts candidates, best first. Capability
// filtering is deliberately not performed here: the remote's true capability
// set is discovered at protocol-connect time, not trusted from the listing.
func rankSellers(sellers []store.SellerEndpoint, criteria Criteria) []store.SellerEndpoint {
	filtered := make([]store.SellerEndpoint, 0, len(sellers))
	for _, seller := range sellers {
		if criteria.MinRating > 0 && seller.Meta.Rating < criteria.MinRating {
			continue
		}
		if criteria.MaxResponseMs > 0 && seller.Meta.AvgResponseMs > criteria.MaxResponseMs {
			continue
		}
		if criteria.Specialty != "" && !hasSpecialty(seller, criteria.Specialty) {
			continue
		}
		filtered = append(filtered, seller)
	}

	// Stable sort: ties keep insertion order.
	sort.SliceStable(filtered, func(i, j int) bool {
		return score(filtered[i], criteria) > score(filtered[j], criteria)
	})
	return filtered
}

// score computes the composite ranking value:
// 0.4·rating + 0.3·successRate + 0.2·responsiveness + 0.1·specialty bonus,
// plus a small bonus per advanced capability.
func score(seller store.SellerEndpoint, criteria Criteria) float64 {
	responsiveness := 1 - minFloat(1, float64(seller.Meta.AvgResponseMs)/10000)

	specialtyBonus := 0.0
	if criteria.Specialty != "" && hasSpecialty(seller, criteria.Specialty) {
		specialtyBonus = 1.0
	}

	s := 0.4*(seller.Meta.Rating/5) +
		0.3*seller.Meta.SuccessRate +
		0.2*responsiveness +
		0.1*specialtyBonus

	for _, capability := range seller.Capabilities {
		if advancedCapabilities[strings.ToLower(capability)] {
			s += 0.02
		}
	}
	return s
}

func hasSpecialty(seller store.SellerEndpoint, specialty string) bool {
	for _, s := range seller.Meta.Specialties {
		if strings.EqualFold(s, specialty) {
			return true
		}
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
