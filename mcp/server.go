// Package mcp exposes collaborative sessions as MCP tools so coding agents
// can read, edit and run a shared document.
package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pairpad/server/execute"
	"github.com/pairpad/server/protocol"
	"github.com/pairpad/server/session"
)

type Server struct {
	registry *session.Registry
	backend  execute.Backend
	mcp      *server.MCPServer
}

func NewServer(registry *session.Registry, backend execute.Backend, version string) *Server {
	s := &Server{
		registry: registry,
		backend:  backend,
		mcp:      server.NewMCPServer("pairpad", version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

func languageEnum() []string {
	out := make([]string, len(protocol.Languages))
	for i, l := range protocol.Languages {
		out[i] = string(l)
	}
	return out
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("session_create",
		mcp.WithDescription("Create a new collaborative session and return its token."),
		mcp.WithString("initial_code", mcp.Description("Initial document contents")),
		mcp.WithString("language", mcp.Description("Session language"), mcp.Enum(languageEnum()...)),
	), s.handleSessionCreate)

	s.mcp.AddTool(mcp.NewTool("session_get",
		mcp.WithDescription("Get the current document, language and participant count of a session."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Session token")),
	), s.handleSessionGet)

	s.mcp.AddTool(mcp.NewTool("session_update_code",
		mcp.WithDescription("Replace the whole document of a session. Connected editors receive the new text."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Session token")),
		mcp.WithString("code", mcp.Required(), mcp.Description("Full new document text")),
	), s.handleSessionUpdateCode)

	s.mcp.AddTool(mcp.NewTool("session_set_language",
		mcp.WithDescription("Change the language of a session. The document text is kept."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Session token")),
		mcp.WithString("language", mcp.Required(), mcp.Enum(languageEnum()...)),
	), s.handleSessionSetLanguage)

	s.mcp.AddTool(mcp.NewTool("session_run",
		mcp.WithDescription("Execute the current document of a session and return its output."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Session token")),
		mcp.WithString("stdin", mcp.Description("Standard input for the program")),
	), s.handleSessionRun)
}
