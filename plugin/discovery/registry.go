package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"github.com/hrygo/dealsense/store"
)

// sellerRecord is the registry's wire shape. Treated as untrusted input.
type sellerRecord struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Endpoint     string   `json:"endpoint"`
	Credential   string   `json:"credential,omitempty"`
	Capabilities []string `json:"capabilities"`
	Meta         struct {
		Rating          float64  `json:"rating"`
		AvgResponseMs   int64    `json:"avg_response_ms"`
		SuccessRate     float64  `json:"success_rate"`
		Specialties     []string `json:"specialties"`
		PaymentMethods  []string `json:"payment_methods"`
		ShippingOptions []string `json:"shipping_options"`
	} `json:"meta"`
}

type searchResponse struct {
	Sellers []json.RawMessage `json:"sellers"`
}

// queryRegistry performs the registry search with bounded retries. A
// per-attempt timeout aborts the attempt, not the whole call.
func (s *Service) queryRegistry(ctx context.Context, criteria Criteria) ([]store.SellerEndpoint, error) {
	var sellers []store.SellerEndpoint
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.client.Timeout)
		defer cancel()

		result, err := s.searchOnce(attemptCtx, criteria)
		if err != nil {
			return err
		}
		sellers = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sellers, nil
}

func (s *Service) searchOnce(ctx context.Context, criteria Criteria) ([]store.SellerEndpoint, error) {
	query := url.Values{}
	if criteria.Category != "" {
		query.Set("category", criteria.Category)
	}
	if criteria.MaxPrice > 0 {
		query.Set("max_price", strconv.FormatFloat(criteria.MaxPrice, 'f', 2, 64))
	}
	if criteria.MinRating > 0 {
		query.Set("min_rating", strconv.FormatFloat(criteria.MinRating, 'f', 1, 64))
	}
	if criteria.Specialty != "" {
		query.Set("specialty", criteria.Specialty)
	}

	endpoint := fmt.Sprintf("%s/sellers/search?%s", s.registryURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build registry request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "registry request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("registry returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read registry response")
	}

	var search searchResponse
	if err := json.Unmarshal(body, &search); err != nil {
		return nil, errors.Wrap(err, "failed to decode registry response")
	}

	sellers := make([]store.SellerEndpoint, 0, len(search.Sellers))
	for _, raw := range search.Sellers {
		seller, ok := decodeSellerRecord(raw)
		if !ok {
			continue
		}
		sellers = append(sellers, seller)
	}
	return sellers, nil
}

// decodeSellerRecord validates one registry record. Invalid records are
// dropped rather than failing the whole call.
func decodeSellerRecord(raw json.RawMessage) (store.SellerEndpoint, bool) {
	var record sellerRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		slog.Warn("dropping malformed seller record", "error", err)
		return store.SellerEndpoint{}, false
	}
	if record.ID == "" || record.Name == "" || record.Endpoint == "" || len(record.Capabilities) == 0 {
		slog.Warn("dropping incomplete seller record", "seller_id", record.ID, "name", record.Name)
		return store.SellerEndpoint{}, false
	}
	return store.SellerEndpoint{
		ID:           record.ID,
		Name:         record.Name,
		Endpoint:     record.Endpoint,
		Credential:   record.Credential,
		Capabilities: record.Capabilities,
		Meta: store.SellerMeta{
			Rating:          record.Meta.Rating,
			AvgResponseMs:   record.Meta.AvgResponseMs,
			SuccessRate:     record.Meta.SuccessRate,
			Specialties:     record.Meta.Specialties,
			PaymentMethods:  record.Meta.PaymentMethods,
			ShippingOptions: record.Meta.ShippingOptions,
		},
	}, true
}
