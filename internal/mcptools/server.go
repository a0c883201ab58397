package mcptools

import (
	"github.com/mark3labs/mcp-go/server"
)

// New creates the MCP server with all tools registered. lister may be nil,
// in which case list_tasks is not offered.
func New(version string, c *Client, lister TaskLister) *server.MCPServer {
	s := server.NewMCPServer(
		"taskrelay",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	submit := NewSubmitTaskTool(c)
	s.AddTool(submit.Definition(), submit.Handle)

	control := NewServiceControlTool(c)
	s.AddTool(control.Definition(), control.Handle)

	if lister != nil {
		list := NewListTasksTool(lister)
		s.AddTool(list.Definition(), list.Handle)
	}
	return s
}
