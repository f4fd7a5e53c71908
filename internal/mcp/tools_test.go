package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/tunnelbot/internal/bot"
	"github.com/btouchard/tunnelbot/internal/tunnel"
	"github.com/btouchard/tunnelbot/internal/tunnel/tunneltest"
)

type nopReplier struct{}

func (nopReplier) Reply(context.Context, int64, string) error { return nil }

func newTestDeps() (*bot.Dispatcher, *tunneltest.Backend) {
	b := tunneltest.New()
	m := tunnel.NewManager(b, nil, "localhost:5000", time.Second)
	d := bot.NewDispatcher(nopReplier{})
	bot.RegisterCommands(d, bot.Deps{Tunnels: m})
	return d, b
}

func makeReq(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return result.Content[0].(mcp.TextContent).Text
}

func TestStartTunnel_ThenStatus(t *testing.T) {
	t.Parallel()
	d, _ := newTestDeps()

	result, err := command(d, "start_tunnel")(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.Equal(t, "Started new NgROK tunnel: https://t1.ngrok.test", textOf(t, result))

	result, err = command(d, "status")(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, result), "localhost:5000")
}

func TestStopTunnel_WhenNoneActive(t *testing.T) {
	t.Parallel()
	d, b := newTestDeps()

	result, err := command(d, "stop_tunnel")(context.Background(), makeReq(nil))
	require.NoError(t, err)

	assert.Equal(t, "No active NgROK tunnel to stop.", textOf(t, result))
	assert.Zero(t, b.Calls())
}

func TestCreateTunnel_WhenMissingPort_ReturnsError(t *testing.T) {
	t.Parallel()
	d, b := newTestDeps()

	result, err := createTunnel(d)(context.Background(), makeReq(map[string]any{}))
	require.NoError(t, err)

	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "port is required")
	assert.Zero(t, b.Calls())
}

func TestCreateTunnel_WhenInvalidPort_ReturnsError(t *testing.T) {
	t.Parallel()
	d, b := newTestDeps()

	result, err := createTunnel(d)(context.Background(), makeReq(map[string]any{"port": "99999"}))
	require.NoError(t, err)

	assert.True(t, result.IsError)
	assert.Zero(t, b.Calls())
}

func TestCreateTunnel_OpensOnPort(t *testing.T) {
	t.Parallel()
	d, _ := newTestDeps()

	result, err := createTunnel(d)(context.Background(), makeReq(map[string]any{"port": "8081"}))
	require.NoError(t, err)

	assert.False(t, result.IsError)
	assert.Equal(t, "Started new NgROK tunnel on port 8081: https://t1.ngrok.test", textOf(t, result))
}

func TestListEndpoints_ShowsBackendTunnels(t *testing.T) {
	t.Parallel()
	d, b := newTestDeps()
	b.Seed(tunnel.Tunnel{PublicURL: "https://foreign.ngrok.test", LocalAddr: "localhost:22"})

	result, err := command(d, "endpoints")(context.Background(), makeReq(nil))
	require.NoError(t, err)

	assert.Contains(t, textOf(t, result), "https://foreign.ngrok.test")
}

func TestCommand_WhenNotRegistered_ReturnsError(t *testing.T) {
	t.Parallel()
	d, _ := newTestDeps()

	result, err := command(d, "history")(context.Background(), makeReq(nil))
	require.NoError(t, err)

	assert.True(t, result.IsError)
}

func TestNewServer_Builds(t *testing.T) {
	t.Parallel()
	d, _ := newTestDeps()

	assert.NotNil(t, NewServer(&Deps{Commands: d, Version: "test"}))
}
