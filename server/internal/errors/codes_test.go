package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerrors "github.com/hrygo/dealsense/server/internal/errors"
)

func TestConstructorsCarryCodes(t *testing.T) {
	cases := []struct {
		name string
		err  *nerrors.NegotiationError
		code nerrors.ErrorCode
	}{
		{"session not found", nerrors.SessionNotFound("s1"), nerrors.ErrCodeSessionNotFound},
		{"already active", nerrors.SessionAlreadyActive("s1"), nerrors.ErrCodeSessionAlreadyActive},
		{"terminal", nerrors.SessionTerminal("done"), nerrors.ErrCodeSessionTerminal},
		{"invalid argument", nerrors.InvalidArgument("bad"), nerrors.ErrCodeInvalidArgument},
		{"no sellers", nerrors.NoSellersFound("nothing matched"), nerrors.ErrCodeNoSellersFound},
		{"registry unavailable", nerrors.RegistryUnavailable(assert.AnError), nerrors.ErrCodeRegistryUnavailable},
		{"protocol failed", nerrors.ProtocolFailed("call failed", assert.AnError), nerrors.ErrCodeProtocolFailed},
		{"engine unavailable", nerrors.EngineUnavailable("backend down", assert.AnError), nerrors.ErrCodeEngineUnavailable},
		{"store failed", nerrors.StoreFailed(assert.AnError), nerrors.ErrCodeStoreFailed},
		{"timeout", nerrors.Timeout("took too long"), nerrors.ErrCodeTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, tc.err.GetCode())
			assert.True(t, nerrors.IsCode(tc.err, tc.code))
			assert.Contains(t, tc.err.Error(), string(tc.code))
		})
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	err := nerrors.ProtocolFailed("call failed", assert.AnError)
	require.True(t, stderrors.Is(err, assert.AnError))

	bare := nerrors.SessionNotFound("s1")
	assert.Nil(t, stderrors.Unwrap(error(bare)))
}

func TestGetCodeFromError(t *testing.T) {
	assert.Equal(t, nerrors.ErrCodeTimeout,
		nerrors.GetCodeFromError(nerrors.Timeout("late"), nerrors.ErrCodeStoreFailed))
	assert.Equal(t, nerrors.ErrCodeStoreFailed,
		nerrors.GetCodeFromError(assert.AnError, nerrors.ErrCodeStoreFailed))
}

func TestIsCodeRejectsForeignErrors(t *testing.T) {
	assert.False(t, nerrors.IsCode(assert.AnError, nerrors.ErrCodeTimeout))
	assert.False(t, nerrors.IsCode(nerrors.Timeout("late"), nerrors.ErrCodeStoreFailed))
}
