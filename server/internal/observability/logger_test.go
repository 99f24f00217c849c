package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dealsense/server/internal/observability"
)

func newCapturedLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, &buf
}

func TestSessionContextCarriesBaseFields(t *testing.T) {
	logger, buf := newCapturedLogger()
	sctx := observability.NewSessionContext(logger, "sess-1", "prod-1")

	sctx.Info("negotiation run starting", slog.Int(observability.LogFieldRound, 2))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "negotiation run starting", entry["msg"])
	assert.Equal(t, "sess-1", entry[observability.LogFieldSessionID])
	assert.Equal(t, "prod-1", entry[observability.LogFieldProductID])
	assert.NotEmpty(t, entry[observability.LogFieldTraceID])
	assert.EqualValues(t, 2, entry[observability.LogFieldRound])
}

func TestSessionContextWithFields(t *testing.T) {
	logger, buf := newCapturedLogger()
	sctx := observability.NewSessionContext(logger, "sess-1", "prod-1")

	scoped := sctx.WithFields(slog.String(observability.LogFieldSellerID, "seller-9"))
	scoped.Info("seller selected")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "seller-9", entry[observability.LogFieldSellerID])
	assert.Equal(t, "sess-1", entry[observability.LogFieldSessionID])
}

func TestSessionContextErrorField(t *testing.T) {
	logger, buf := newCapturedLogger()
	sctx := observability.NewSessionContext(logger, "sess-1", "prod-1")

	sctx.Error("negotiation run failed", assert.AnError)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, assert.AnError.Error(), entry["error"])
}

func TestSessionContextRoundTripsThroughContext(t *testing.T) {
	logger, _ := newCapturedLogger()
	sctx := observability.NewSessionContext(logger, "sess-1", "prod-1")

	ctx := observability.WithSessionContext(context.Background(), sctx)
	got, ok := observability.FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, sctx, got)

	_, ok = observability.FromContext(context.Background())
	assert.False(t, ok)
}
