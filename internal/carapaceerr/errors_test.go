package carapaceerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error_WithAndWithoutCause(t *testing.T) {
	t.Parallel()

	plain := New(CodeToolNotFound, "tool git is not configured")
	assert.Equal(t, "tool_not_found: tool git is not configured", plain.Error())

	cause := errors.New("dial unix: connect: connection refused")
	wrapped := Wrap(CodeConnectionRefused, "agent dial failed", cause)
	assert.Equal(t, "connection_refused: agent dial failed: dial unix: connect: connection refused", wrapped.Error())
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	wrapped := Wrap(CodeIOError, "write failed", cause)
	require.ErrorIs(t, wrapped, cause, "errors.Is should see through Unwrap to the wrapped cause")
}

func TestError_HTTPStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code Code
		want int
	}{
		{CodeInvalidMessage, 400},
		{CodeSerializationError, 400},
		{CodePolicyViolation, 403},
		{CodeShellInjection, 403},
		{CodeInvalidBinaryPath, 403},
		{CodeRateLimited, 429},
		{CodeRequestTimeout, 504},
		{CodeIOError, 500},
		{CodeToolNotFound, 500},
	}
	for _, tc := range cases {
		e := New(tc.code, "x")
		assert.Equalf(t, tc.want, e.HTTPStatus(), "HTTPStatus(%s)", tc.code)
	}
}
