// Package mcp exposes the tunnel commands as MCP tools.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
)

// Executor runs a bot command and returns its reply.
type Executor interface {
	Execute(ctx context.Context, name string, args []string) (string, bool)
}

// Deps holds shared dependencies injected into MCP handlers.
type Deps struct {
	Commands Executor
	Version  string
}

// NewServer creates and configures the MCP server with all tools registered.
func NewServer(deps *Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"tunnelbot",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	registerTools(s, deps)

	return s
}
