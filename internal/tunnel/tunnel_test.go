package tunnel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddr_BarePort(t *testing.T) {
	t.Parallel()

	addr, err := ParseAddr("8081")
	require.NoError(t, err)
	assert.Equal(t, "localhost:8081", addr)
}

func TestParseAddr_HostAndPort(t *testing.T) {
	t.Parallel()

	addr, err := ParseAddr("192.168.1.10:3000")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10:3000", addr)
}

func TestParseAddr_EmptyHostUsesLocalhost(t *testing.T) {
	t.Parallel()

	addr, err := ParseAddr(":9000")
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", addr)
}

func TestParseAddr_RejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, arg := range []string{"", "  ", "abc", "0", "-1", "65536", "host:", "host:http", "a:b:c"} {
		_, err := ParseAddr(arg)
		require.Error(t, err, "arg %q", arg)

		var argErr *ArgumentError
		assert.True(t, errors.As(err, &argErr), "arg %q should yield ArgumentError", arg)
	}
}

func TestPortAddr(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "localhost:5000", PortAddr(5000))
}

func TestBackendError_Unwraps(t *testing.T) {
	t.Parallel()

	err := &BackendError{Op: "close", Err: ErrUnknownTunnel}

	assert.ErrorIs(t, err, ErrUnknownTunnel)
	assert.Contains(t, err.Error(), "close")
}
