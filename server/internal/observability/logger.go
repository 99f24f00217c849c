package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

const (
	// LogFieldTraceID is the field name for the per-run trace ID.
	LogFieldTraceID = "trace_id"
	// LogFieldSessionID is the field name for the negotiation session ID.
	LogFieldSessionID = "session_id"
	// LogFieldProductID is the field name for the product under negotiation.
	LogFieldProductID = "product_id"
	// LogFieldSellerID is the field name for the selected seller.
	LogFieldSellerID = "seller_id"
	// LogFieldRound is the field name for the negotiation round.
	LogFieldRound = "round"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
	// LogFieldErrorCode is the field name for error code.
	LogFieldErrorCode = "error_code"
	// LogFieldDecision is the field name for the engine decision.
	LogFieldDecision = "decision"
)

// SessionContext carries structured logging state across one negotiation run.
type SessionContext struct {
	TraceID   string
	SessionID string
	ProductID string
	StartTime time.Time
	Logger    *slog.Logger
}

// NewSessionContext creates a session context with a generated trace ID.
func NewSessionContext(logger *slog.Logger, sessionID, productID string) *SessionContext {
	return &SessionContext{
		TraceID:   shortuuid.New(),
		SessionID: sessionID,
		ProductID: productID,
		StartTime: time.Now(),
		Logger:    logger,
	}
}

// WithFields returns a new logger with additional fields.
func (s *SessionContext) WithFields(attrs ...slog.Attr) *slog.Logger {
	base := s.baseAttrs()
	result := make([]any, 0, len(base)+len(attrs))
	for _, attr := range base {
		result = append(result, attr)
	}
	for _, attr := range attrs {
		result = append(result, attr)
	}
	return s.Logger.With(result...)
}

// Info logs an info message.
func (s *SessionContext) Info(msg string, attrs ...slog.Attr) {
	combined := s.baseAttrsAppended(attrs...)
	s.Logger.LogAttrs(context.Background(), slog.LevelInfo, msg, combined...)
}

// Debug logs a debug message.
func (s *SessionContext) Debug(msg string, attrs ...slog.Attr) {
	combined := s.baseAttrsAppended(attrs...)
	s.Logger.LogAttrs(context.Background(), slog.LevelDebug, msg, combined...)
}

// Warn logs a warning message.
func (s *SessionContext) Warn(msg string, attrs ...slog.Attr) {
	combined := s.baseAttrsAppended(attrs...)
	s.Logger.LogAttrs(context.Background(), slog.LevelWarn, msg, combined...)
}

// Error logs an error message with the error.
func (s *SessionContext) Error(msg string, err error, attrs ...slog.Attr) {
	allAttrs := append(attrs, slog.String("error", err.Error()))
	combined := s.baseAttrsAppended(allAttrs...)
	s.Logger.LogAttrs(context.Background(), slog.LevelError, msg, combined...)
}

// Duration returns the elapsed time since the run started.
func (s *SessionContext) Duration() time.Duration {
	return time.Since(s.StartTime)
}

// DurationMs returns the elapsed time in milliseconds.
func (s *SessionContext) DurationMs() int64 {
	return s.Duration().Milliseconds()
}

func (s *SessionContext) baseAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String(LogFieldTraceID, s.TraceID),
		slog.String(LogFieldSessionID, s.SessionID),
		slog.String(LogFieldProductID, s.ProductID),
	}
}

func (s *SessionContext) baseAttrsAppended(attrs ...slog.Attr) []slog.Attr {
	base := s.baseAttrs()
	return append(base, attrs...)
}

type ctxKey struct{}

// WithSessionContext adds the session context to the context.
func WithSessionContext(ctx context.Context, sessCtx *SessionContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, sessCtx)
}

// FromContext extracts the session context from the context.
func FromContext(ctx context.Context) (*SessionContext, bool) {
	sessCtx, ok := ctx.Value(ctxKey{}).(*SessionContext)
	return sessCtx, ok
}
