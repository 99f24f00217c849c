// Package discovery finds and ranks candidate remote sellers before a
// negotiation begins. The registry is untrusted input: every record is
// validated, invalid ones are dropped, and transient registry failures are
// retried with backoff before falling back to the built-in demo sellers.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hrygo/dealsense/internal/backoff"
	"github.com/hrygo/dealsense/store"
)

const (
	// DefaultCacheTTL bounds how long a criteria lookup is served from cache.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultAttemptTimeout bounds a single registry attempt, not the call.
	DefaultAttemptTimeout = 5 * time.Second
)

// Criteria describes what kind of seller is wanted.
type Criteria struct {
	Category      string
	MaxPrice      float64
	MinRating     float64
	Specialty     string
	MaxResponseMs int64
}

// cacheKey normalizes the criteria into a stable lookup key.
func (c Criteria) cacheKey() string {
	return fmt.Sprintf("%s|%.2f|%.1f|%s|%d",
		strings.ToLower(strings.TrimSpace(c.Category)),
		c.MaxPrice,
		c.MinRating,
		strings.ToLower(strings.TrimSpace(c.Specialty)),
		c.MaxResponseMs,
	)
}

// Outcome tags a discovery result so callers branch on it instead of
// catching control-flow errors.
type Outcome int

const (
	// OutcomeFound means at least one seller passed validation and filters.
	OutcomeFound Outcome = iota
	// OutcomeNotFound means the registry was reachable but nothing matched.
	OutcomeNotFound
	// OutcomeTransientFailure means the registry could not be reached and no
	// fallback list was produced.
	OutcomeTransientFailure
)

// Result is the tagged outcome of FindSellers.
type Result struct {
	Outcome  Outcome
	Sellers  []store.SellerEndpoint
	Fallback bool // true when Sellers are the built-in demo set
	Err      error
}

type cacheEntry struct {
	result    Result
	fetchedAt time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBackoff overrides the retry policy.
func WithBackoff(p backoff.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithCacheTTL overrides the cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.cacheTTL = ttl }
}

// WithHTTPClient overrides the HTTP client used for registry calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithoutFallback disables the built-in demo sellers, letting transient
// registry failures surface to the caller.
func WithoutFallback() Option {
	return func(s *Service) { s.fallbackDisabled = true }
}

// Service queries the external seller registry.
type Service struct {
	registryURL      string
	client           *http.Client
	policy           backoff.Policy
	cacheTTL         time.Duration
	fallbackDisabled bool

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewService creates a discovery service against the given registry URL.
func NewService(registryURL string, opts ...Option) *Service {
	s := &Service{
		registryURL: strings.TrimRight(registryURL, "/"),
		client:      &http.Client{Timeout: DefaultAttemptTimeout},
		policy:      backoff.Default(),
		cacheTTL:    DefaultCacheTTL,
		cache:       make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindSellers returns an ordered best-first list of candidate sellers.
func (s *Service) FindSellers(ctx context.Context, criteria Criteria) Result {
	key := criteria.cacheKey()
	if cached, ok := s.fromCache(key); ok {
		return cached
	}

	records, err := s.queryRegistry(ctx, criteria)
	if err != nil {
		slog.Warn("seller registry unreachable", "error", err)
		if s.fallbackDisabled {
			return Result{Outcome: OutcomeTransientFailure, Err: err}
		}
		// Best effort: run the demo set through the same pipeline so the
		// orchestrator still receives a ranked list.
		sellers := rankSellers(demoSellers(), criteria)
		if len(sellers) == 0 {
			return Result{Outcome: OutcomeTransientFailure, Err: err}
		}
		return Result{Outcome: OutcomeFound, Sellers: sellers, Fallback: true}
	}

	sellers := rankSellers(records, criteria)
	if len(sellers) == 0 {
		// Registry reachable, genuinely no matches: propagate as not found,
		// never silently substitute fallback data.
		result := Result{Outcome: OutcomeNotFound}
		s.toCache(key, result)
		return result
	}

	result := Result{Outcome: OutcomeFound, Sellers: sellers}
	s.toCache(key, result)
	return result
}

// InvalidateCache drops all cached lookups.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]cacheEntry)
}

func (s *Service) fromCache(key string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[key]
	if !ok || time.Since(entry.fetchedAt) > s.cacheTTL {
		return Result{}, false
	}
	return entry.result, true
}

func (s *Service) toCache(key string, result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cacheEntry{result: result, fetchedAt: time.Now()}
}
