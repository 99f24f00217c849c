// Package v1 exposes the negotiation HTTP API.
package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/dealsense/internal/profile"
	"github.com/hrygo/dealsense/server/middleware"
	"github.com/hrygo/dealsense/server/orchestrator"
	"github.com/hrygo/dealsense/store"
)

type APIV1Service struct {
	Profile      *profile.Profile
	Store        *store.Store
	Orchestrator *orchestrator.Orchestrator

	rateLimiter *middleware.RateLimiter
}

// NewAPIV1Service creates the v1 API service.
func NewAPIV1Service(profile *profile.Profile, store *store.Store, orch *orchestrator.Orchestrator) *APIV1Service {
	return &APIV1Service{
		Profile:      profile,
		Store:        store,
		Orchestrator: orch,
		// Triggering a negotiation fans out to remote parties, keep it tight.
		rateLimiter: middleware.NewRateLimiter(time.Second, 5),
	}
}

// Register mounts the v1 routes on the echo instance.
func (s *APIV1Service) Register(e *echo.Echo) {
	e.GET("/healthz", s.Healthz)

	g := e.Group("/api/v1")
	g.POST("/negotiations", s.TriggerNegotiation, s.rateLimiter.Middleware())
	g.GET("/negotiations/:id", s.GetNegotiation)
	g.POST("/negotiations/:id/retry", s.RetryNegotiation)
	g.POST("/negotiations/:id/reject", s.RejectNegotiation)
	g.GET("/deals", s.ListDeals)
	g.GET("/stats", s.GetStats)
	g.GET("/metrics", s.GetMetrics)
}

// Healthz reports process liveness.
func (s *APIV1Service) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.Profile.Version,
	})
}
