package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	nerrors "github.com/hrygo/dealsense/server/internal/errors"
	"github.com/hrygo/dealsense/server/internal/observability"
	"github.com/hrygo/dealsense/server/orchestrator"
	"github.com/hrygo/dealsense/store"
)

// TriggerNegotiationRequest is the POST /negotiations body.
type TriggerNegotiationRequest struct {
	SessionID   string                        `json:"session_id,omitempty"`
	Product     store.ProductRef              `json:"product"`
	Behavior    store.BehaviorSignal          `json:"behavior"`
	Preferences *store.NegotiationPreferences `json:"preferences,omitempty"`
	Manual      bool                          `json:"manual,omitempty"`
}

// SessionResponse is the API projection of a session.
type SessionResponse struct {
	*store.NegotiationSession
	Savings float64 `json:"savings"`
	Rounds  int     `json:"rounds"`
}

func sessionResponse(session *store.NegotiationSession) *SessionResponse {
	return &SessionResponse{
		NegotiationSession: session,
		Savings:            session.Savings(),
		Rounds:             session.Rounds(),
	}
}

// TriggerNegotiation starts a negotiation and returns the pending session.
// The round loop runs asynchronously; poll GET /negotiations/:id for
// progress.
func (s *APIV1Service) TriggerNegotiation(c echo.Context) error {
	var req TriggerNegotiationRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, nerrors.InvalidArgument("malformed request body"))
	}

	session, err := s.Orchestrator.StartNegotiation(c.Request().Context(), &orchestrator.TriggerRequest{
		SessionID:   req.SessionID,
		Product:     req.Product,
		Behavior:    req.Behavior,
		Preferences: req.Preferences,
		Manual:      req.Manual,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusAccepted, sessionResponse(session))
}

// GetNegotiation returns the full session including its step log.
func (s *APIV1Service) GetNegotiation(c echo.Context) error {
	session, err := s.Orchestrator.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, sessionResponse(session))
}

// RetryNegotiation reruns a finished session from scratch.
func (s *APIV1Service) RetryNegotiation(c echo.Context) error {
	session, err := s.Orchestrator.RetrySession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusAccepted, sessionResponse(session))
}

// RejectNegotiation terminates a session on the user's behalf.
func (s *APIV1Service) RejectNegotiation(c echo.Context) error {
	session, err := s.Orchestrator.RejectSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, sessionResponse(session))
}

// ListDeals returns the user-facing deal projections, newest first.
func (s *APIV1Service) ListDeals(c echo.Context) error {
	deals, err := s.Orchestrator.ListDeals(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"deals": deals})
}

// GetStats returns aggregate statistics across visible sessions.
func (s *APIV1Service) GetStats(c echo.Context) error {
	stats, err := s.Orchestrator.Stats(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// MetricsResponse wraps the run counters with the derived success rate.
type MetricsResponse struct {
	*observability.MetricsSnapshot
	SuccessRate float64 `json:"success_rate"`
}

// GetMetrics returns process-level run counters for this orchestrator.
func (s *APIV1Service) GetMetrics(c echo.Context) error {
	snapshot := s.Orchestrator.Metrics()
	return c.JSON(http.StatusOK, &MetricsResponse{
		MetricsSnapshot: snapshot,
		SuccessRate:     snapshot.SuccessRate(),
	})
}

// errorBody is the uniform error payload.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorResponse maps the error taxonomy onto HTTP statuses.
func errorResponse(c echo.Context, err error) error {
	code := nerrors.GetCodeFromError(err, nerrors.ErrCodeStoreFailed)

	status := http.StatusInternalServerError
	switch code {
	case nerrors.ErrCodeSessionNotFound:
		status = http.StatusNotFound
	case nerrors.ErrCodeInvalidArgument:
		status = http.StatusBadRequest
	case nerrors.ErrCodeSessionAlreadyActive, nerrors.ErrCodeSessionTerminal:
		status = http.StatusConflict
	case nerrors.ErrCodeRateLimitExceeded:
		status = http.StatusTooManyRequests
	case nerrors.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	case nerrors.ErrCodeEngineUnavailable:
		status = http.StatusServiceUnavailable
	case nerrors.ErrCodeRegistryUnavailable, nerrors.ErrCodeNoSellersFound, nerrors.ErrCodeProtocolFailed:
		status = http.StatusBadGateway
	}

	message := err.Error()
	if negotiationErr, ok := err.(*nerrors.NegotiationError); ok {
		message = negotiationErr.Message
	}
	return c.JSON(status, errorBody{Code: string(code), Message: message})
}
