package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dealsense/internal/backoff"
	"github.com/hrygo/dealsense/store"
)

func fastPolicy() backoff.Policy {
	return backoff.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func sellerJSON(id, name string, rating, successRate float64, avgMs int64, caps string) string {
	return fmt.Sprintf(`{
		"id": %q, "name": %q, "endpoint": "https://agent.example.com/%s",
		"capabilities": [%s],
		"meta": {"rating": %g, "avg_response_ms": %d, "success_rate": %g, "specialties": ["electronics"]}
	}`, id, name, id, caps, rating, avgMs, successRate)
}

func TestFindSellersDropsMalformedRecords(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"sellers": [%s, {"id": "", "name": "nameless"}]}`,
			sellerJSON("s1", "Valid Seller", 4.5, 0.9, 800, `"negotiate"`))
	}))
	defer ts.Close()

	svc := NewService(ts.URL, WithBackoff(fastPolicy()))
	result := svc.FindSellers(context.Background(), Criteria{})
	require.Equal(t, OutcomeFound, result.Outcome)
	require.Len(t, result.Sellers, 1)
	assert.Equal(t, "s1", result.Sellers[0].ID)
	assert.False(t, result.Fallback)
}

func TestFindSellersRanksByCompositeScore(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"sellers": [%s, %s]}`,
			sellerJSON("slow", "Slow Low", 3.0, 0.5, 9000, `"negotiate"`),
			sellerJSON("fast", "Fast High", 4.8, 0.95, 500, `"negotiate", "bundle_pricing", "dynamic_discount"`))
	}))
	defer ts.Close()

	svc := NewService(ts.URL, WithBackoff(fastPolicy()))
	result := svc.FindSellers(context.Background(), Criteria{})
	require.Equal(t, OutcomeFound, result.Outcome)
	require.Len(t, result.Sellers, 2)
	assert.Equal(t, "fast", result.Sellers[0].ID)
}

func TestFindSellersAppliesFilters(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"sellers": [%s, %s]}`,
			sellerJSON("low", "Low Rating", 2.0, 0.9, 500, `"negotiate"`),
			sellerJSON("ok", "Good Rating", 4.5, 0.9, 500, `"negotiate"`))
	}))
	defer ts.Close()

	svc := NewService(ts.URL, WithBackoff(fastPolicy()))
	result := svc.FindSellers(context.Background(), Criteria{MinRating: 4.0})
	require.Equal(t, OutcomeFound, result.Outcome)
	require.Len(t, result.Sellers, 1)
	assert.Equal(t, "ok", result.Sellers[0].ID)
}

func TestFindSellersSendsCriteriaToRegistry(t *testing.T) {
	var query atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.Query())
		fmt.Fprintf(w, `{"sellers": [%s]}`, sellerJSON("s1", "Valid Seller", 4.5, 0.9, 800, `"negotiate"`))
	}))
	defer ts.Close()

	svc := NewService(ts.URL, WithBackoff(fastPolicy()))
	result := svc.FindSellers(context.Background(), Criteria{
		Category:  "electronics",
		MaxPrice:  149.99,
		MinRating: 4.0,
		Specialty: "keyboards",
	})
	require.Equal(t, OutcomeFound, result.Outcome)

	got := query.Load().(url.Values)
	assert.Equal(t, "electronics", got.Get("category"))
	assert.Equal(t, "149.99", got.Get("max_price"))
	assert.Equal(t, "4.0", got.Get("min_rating"))
	assert.Equal(t, "keyboards", got.Get("specialty"))
}

func TestFindSellersNotFoundWhenRegistryEmpty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sellers": []}`)
	}))
	defer ts.Close()

	svc := NewService(ts.URL, WithBackoff(fastPolicy()))
	result := svc.FindSellers(context.Background(), Criteria{})
	assert.Equal(t, OutcomeNotFound, result.Outcome)
	assert.Empty(t, result.Sellers)
	assert.False(t, result.Fallback)
}

func TestFindSellersFallsBackWhenRegistryDown(t *testing.T) {
	svc := NewService("http://127.0.0.1:1", WithBackoff(fastPolicy()))
	result := svc.FindSellers(context.Background(), Criteria{})
	require.Equal(t, OutcomeFound, result.Outcome)
	assert.True(t, result.Fallback)
	assert.NotEmpty(t, result.Sellers)
}

func TestFindSellersTransientFailureWithoutFallback(t *testing.T) {
	svc := NewService("http://127.0.0.1:1", WithBackoff(fastPolicy()), WithoutFallback())
	result := svc.FindSellers(context.Background(), Criteria{})
	assert.Equal(t, OutcomeTransientFailure, result.Outcome)
	assert.Error(t, result.Err)
}

func TestFindSellersRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"sellers": [%s]}`, sellerJSON("s1", "Eventually Up", 4.0, 0.8, 700, `"negotiate"`))
	}))
	defer ts.Close()

	svc := NewService(ts.URL, WithBackoff(fastPolicy()))
	result := svc.FindSellers(context.Background(), Criteria{})
	require.Equal(t, OutcomeFound, result.Outcome)
	assert.Equal(t, int32(3), calls.Load())
	assert.False(t, result.Fallback)
}

func TestFindSellersServesFromCache(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprintf(w, `{"sellers": [%s]}`, sellerJSON("s1", "Cached", 4.0, 0.8, 700, `"negotiate"`))
	}))
	defer ts.Close()

	svc := NewService(ts.URL, WithBackoff(fastPolicy()))
	criteria := Criteria{Category: "Electronics"}

	first := svc.FindSellers(context.Background(), criteria)
	second := svc.FindSellers(context.Background(), criteria)
	require.Equal(t, OutcomeFound, first.Outcome)
	require.Equal(t, OutcomeFound, second.Outcome)
	assert.Equal(t, int32(1), calls.Load())

	// Different criteria miss the cache.
	svc.FindSellers(context.Background(), Criteria{Category: "Fashion"})
	assert.Equal(t, int32(2), calls.Load())
}

func TestRankSellersCapabilityFilteringNotApplied(t *testing.T) {
	// The registry's capability claims are not trusted for filtering; a
	// seller claiming nothing useful still ranks.
	sellers := []store.SellerEndpoint{
		{ID: "bare", Name: "Bare", Endpoint: "e", Capabilities: []string{"unknown_op"},
			Meta: store.SellerMeta{Rating: 4.0, SuccessRate: 0.8, AvgResponseMs: 500}},
	}
	ranked := rankSellers(sellers, Criteria{})
	assert.Len(t, ranked, 1)
}
