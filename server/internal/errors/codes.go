// Package errors defines the structured error taxonomy for negotiation
// operations.
package errors

import (
	"fmt"
)

// ErrorCode represents a specific error type for negotiation operations.
type ErrorCode string

const (
	// ErrCodeSessionNotFound indicates the session id is unknown.
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	// ErrCodeSessionAlreadyActive indicates a round loop is already in flight
	// for the session id.
	ErrCodeSessionAlreadyActive ErrorCode = "SESSION_ALREADY_ACTIVE"
	// ErrCodeSessionTerminal indicates the operation needs a non-terminal
	// (or, for retry, a terminal) session and got the opposite.
	ErrCodeSessionTerminal ErrorCode = "SESSION_TERMINAL"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeNoSellersFound indicates the registry was reachable but nothing
	// matched the criteria.
	ErrCodeNoSellersFound ErrorCode = "NO_SELLERS_FOUND"
	// ErrCodeRegistryUnavailable indicates the seller registry could not be
	// reached.
	ErrCodeRegistryUnavailable ErrorCode = "REGISTRY_UNAVAILABLE"
	// ErrCodeProtocolFailed indicates a remote seller invocation failed.
	ErrCodeProtocolFailed ErrorCode = "PROTOCOL_FAILED"
	// ErrCodeEngineUnavailable indicates the reasoning backend failed.
	ErrCodeEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"
	// ErrCodeStoreFailed indicates a persistence failure.
	ErrCodeStoreFailed ErrorCode = "STORE_FAILED"
	// ErrCodeRateLimitExceeded indicates rate limit has been exceeded.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// NegotiationError represents a structured error for negotiation operations.
type NegotiationError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *NegotiationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *NegotiationError) Unwrap() error {
	return e.Cause
}

// GetCode returns the error code.
func (e *NegotiationError) GetCode() ErrorCode {
	return e.Code
}

// Convenience constructors for common error types.

// SessionNotFound creates a session not found error.
func SessionNotFound(id string) *NegotiationError {
	return &NegotiationError{
		Code:    ErrCodeSessionNotFound,
		Message: fmt.Sprintf("session not found: %s", id),
	}
}

// SessionAlreadyActive creates a session already active error.
func SessionAlreadyActive(id string) *NegotiationError {
	return &NegotiationError{
		Code:    ErrCodeSessionAlreadyActive,
		Message: fmt.Sprintf("negotiation already in flight for session: %s", id),
	}
}

// SessionTerminal creates a session terminal-state error.
func SessionTerminal(msg string) *NegotiationError {
	return &NegotiationError{Code: ErrCodeSessionTerminal, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *NegotiationError {
	return &NegotiationError{Code: ErrCodeInvalidArgument, Message: msg}
}

// NoSellersFound creates a no sellers found error.
func NoSellersFound(msg string) *NegotiationError {
	return &NegotiationError{Code: ErrCodeNoSellersFound, Message: msg}
}

// RegistryUnavailable creates a registry unavailable error.
func RegistryUnavailable(cause error) *NegotiationError {
	return &NegotiationError{Code: ErrCodeRegistryUnavailable, Message: "seller registry unavailable", Cause: cause}
}

// ProtocolFailed creates a protocol failure error.
func ProtocolFailed(msg string, cause error) *NegotiationError {
	return &NegotiationError{Code: ErrCodeProtocolFailed, Message: msg, Cause: cause}
}

// EngineUnavailable creates a reasoning backend failure error.
func EngineUnavailable(msg string, cause error) *NegotiationError {
	return &NegotiationError{Code: ErrCodeEngineUnavailable, Message: msg, Cause: cause}
}

// StoreFailed creates a persistence failure error.
func StoreFailed(cause error) *NegotiationError {
	return &NegotiationError{Code: ErrCodeStoreFailed, Message: "failed to persist session", Cause: cause}
}

// Timeout creates a timeout error.
func Timeout(msg string) *NegotiationError {
	return &NegotiationError{Code: ErrCodeTimeout, Message: msg}
}

// IsCode checks if an error is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	if negotiationErr, ok := err.(*NegotiationError); ok {
		return negotiationErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not a NegotiationError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	if negotiationErr, ok := err.(*NegotiationError); ok {
		return negotiationErr.Code
	}
	return defaultCode
}
