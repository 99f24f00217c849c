package discovery

import "github.com/hrygo/dealsense/store"

// demoSellers is the built-in best-effort set used when the registry is
// unreachable after all retries. They go through the same filter and sort
// pipeline as real registry records.
func demoSellers() []store.SellerEndpoint {
	return []store.SellerEndpoint{
		{
			ID:           "demo-electromart",
			Name:         "ElectroMart Agent",
			Endpoint:     "https://demo.dealsense.local/electromart",
			Capabilities: []string{"negotiate", "dynamic_discount"},
			Meta: store.SellerMeta{
				Rating:        4.2,
				AvgResponseMs: 1200,
				SuccessRate:   0.78,
				Specialties:   []string{"electronics"},
			},
		},
		{
			ID:           "demo-stylehub",
			Name:         "StyleHub Agent",
			Endpoint:     "https://demo.dealsense.local/stylehub",
			Capabilities: []string{"negotiate", "bundle_pricing"},
			Meta: store.SellerMeta{
				Rating:        4.6,
				AvgResponseMs: 900,
				SuccessRate:   0.82,
				Specialties:   []string{"fashion"},
			},
		},
		{
			ID:           "demo-homegoods",
			Name:         "HomeGoods Agent",
			Endpoint:     "https://demo.dealsense.local/homegoods",
			Capabilities: []string{"negotiate"},
			Meta: store.SellerMeta{
				Rating:        3.9,
				AvgResponseMs: 2500,
				SuccessRate:   0.7,
				Specialties:   []string{"home", "garden"},
			},
		},
	}
}
