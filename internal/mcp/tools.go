package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/tunnelbot/internal/tunnel"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	s.AddTool(
		mcp.NewTool("tunnel_status",
			mcp.WithDescription("Report the tunnel this bot currently manages, if any."),
		),
		command(deps.Commands, "status"),
	)

	s.AddTool(
		mcp.NewTool("start_tunnel",
			mcp.WithDescription("Open a tunnel to the default local port. Does nothing if a tunnel is already active."),
		),
		command(deps.Commands, "start_tunnel"),
	)

	s.AddTool(
		mcp.NewTool("stop_tunnel",
			mcp.WithDescription("Close the active tunnel."),
		),
		command(deps.Commands, "stop_tunnel"),
	)

	s.AddTool(
		mcp.NewTool("create_tunnel",
			mcp.WithDescription("Open a tunnel to the given local port, replacing the active tunnel."),
			mcp.WithString("port",
				mcp.Required(),
				mcp.Description("Local port (1-65535) or host:port to expose"),
			),
		),
		createTunnel(deps.Commands),
	)

	s.AddTool(
		mcp.NewTool("list_endpoints",
			mcp.WithDescription("List every tunnel the ngrok account currently hosts."),
		),
		command(deps.Commands, "endpoints"),
	)
}

// command returns a handler that runs a bot command without arguments.
func command(ex Executor, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return execute(ctx, ex, name, nil), nil
	}
}

func createTunnel(ex Executor) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		port, _ := args["port"].(string)
		if port == "" {
			return mcp.NewToolResultError("port is required"), nil
		}
		if _, err := tunnel.ParseAddr(port); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return execute(ctx, ex, "create_tunnel", []string{port}), nil
	}
}

func execute(ctx context.Context, ex Executor, name string, args []string) *mcp.CallToolResult {
	reply, ok := ex.Execute(ctx, name, args)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("command %s is not available", name))
	}
	return mcp.NewToolResultText(reply)
}
