// Package server assembles the HTTP surface and background jobs.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/dealsense/internal/profile"
	"github.com/hrygo/dealsense/server/orchestrator"
	apiv1 "github.com/hrygo/dealsense/server/router/api/v1"
	"github.com/hrygo/dealsense/store"
)

// Server owns the echo instance and the session cleanup job.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	cleanupJob *orchestrator.CleanupJob
}

// NewServer wires the API routes and background jobs.
func NewServer(ctx context.Context, profile *profile.Profile, st *store.Store, orch *orchestrator.Orchestrator) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.OPTIONS},
	}))
	e.Use(requestLogger())

	apiv1.NewAPIV1Service(profile, st, orch).Register(e)

	return &Server{
		Profile:    profile,
		Store:      st,
		echoServer: e,
		cleanupJob: orchestrator.NewCleanupJob(st, orchestrator.DefaultCleanupInterval),
	}, nil
}

// Start begins serving and launches background jobs. Blocks until the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.cleanupJob.Start()
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server listening", "address", address, "version", s.Profile.Version)
	return s.echoServer.Start(address)
}

// Shutdown stops background jobs and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	s.cleanupJob.Stop()
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down server gracefully", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server stopped")
}

// requestLogger logs one line per request with latency and status.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			slog.Debug("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds())
			return err
		}
	}
}
