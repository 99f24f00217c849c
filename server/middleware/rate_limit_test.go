package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dealsense/server/middleware"
)

func TestAllowEnforcesBurstPerKey(t *testing.T) {
	rl := middleware.NewRateLimiter(time.Minute, 2)

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))

	// Another client keeps its own budget.
	assert.True(t, rl.Allow("5.6.7.8"))
}

func TestWaitHonorsContext(t *testing.T) {
	rl := middleware.NewRateLimiter(time.Minute, 1)

	require.NoError(t, rl.Wait(context.Background(), "1.2.3.4"))

	// Budget exhausted, a bounded wait must give up with the context.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx, "1.2.3.4")
	require.Error(t, err)
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	rl := middleware.NewRateLimiter(time.Minute, 1)

	e := echo.New()
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, rl.Middleware())

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "1.2.3.4:1234"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do().Code)
	assert.Equal(t, http.StatusTooManyRequests, do().Code)
}
