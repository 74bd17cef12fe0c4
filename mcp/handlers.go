package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pairpad/server/execute"
	"github.com/pairpad/server/protocol"
	"github.com/pairpad/server/rpc"
)

// agent joins a session for the duration of one tool call. It does not
// listen, so every frame is discarded.
type agent struct {
	id string
}

func newAgent() agent {
	return agent{id: "mcp-" + uuid.Must(uuid.NewV7()).String()}
}

func (a agent) ID() string                { return a.id }
func (a agent) User() string              { return "agent" }
func (a agent) Deliver(frame []byte) bool { return true }

func (s *Server) handleSessionCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	language := protocol.Language(req.GetString("language", ""))

	var token string
	var err error
	if code, ok := req.GetArguments()["initial_code"].(string); ok {
		token, err = s.registry.CreateNew(code, language)
	} else {
		token, err = s.registry.CreateDefault(language)
	}
	if errors.Is(err, protocol.ErrUnknownLanguage) {
		return invalidArgument("unknown language: " + string(language)), nil
	}
	if err != nil {
		return sessionError("", err), nil
	}
	return jsonResult(rpc.SessionCreateResult{Token: token})
}

func (s *Server) handleSessionGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("token")
	if err != nil {
		return invalidArgument("token is required"), nil
	}

	st, err := s.registry.Snapshot(ctx, token)
	if err != nil {
		return sessionError(token, err), nil
	}
	return jsonResult(rpc.NewSessionInfo(st, s.registry.Members(token)))
}

func (s *Server) handleSessionUpdateCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("token")
	if err != nil {
		return invalidArgument("token is required"), nil
	}
	code, err := req.RequireString("code")
	if err != nil {
		return invalidArgument("code is required"), nil
	}

	return s.submit(ctx, token, protocol.CodeUpdate{Code: code})
}

func (s *Server) handleSessionSetLanguage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("token")
	if err != nil {
		return invalidArgument("token is required"), nil
	}
	language := protocol.Language(req.GetString("language", ""))
	if !language.IsValid() {
		return invalidArgument("unknown language: " + string(language)), nil
	}

	return s.submit(ctx, token, protocol.LanguageUpdate{Language: language})
}

func (s *Server) handleSessionRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("token")
	if err != nil {
		return invalidArgument("token is required"), nil
	}

	result, err := execute.RunSession(ctx, s.backend, s.registry, token, req.GetString("stdin", ""))
	if err != nil {
		return sessionError(token, err), nil
	}
	return jsonResult(result)
}

// submit applies ev as a short-lived participant so the edit is ordered and
// broadcast like one typed in an editor.
func (s *Server) submit(ctx context.Context, token string, ev protocol.Event) (*mcp.CallToolResult, error) {
	if _, err := s.registry.Snapshot(ctx, token); err != nil {
		return sessionError(token, err), nil
	}

	a := newAgent()
	actor, err := s.registry.Join(token, a)
	if err != nil {
		return sessionError(token, err), nil
	}
	defer s.registry.Leave(token, a.ID())

	if err := actor.Submit(ctx, a.ID(), ev); err != nil {
		return sessionError(token, err), nil
	}
	st, err := actor.Snapshot(ctx)
	if err != nil {
		return sessionError(token, err), nil
	}
	return jsonResult(rpc.NewSessionInfo(st, s.registry.Members(token)-1))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}
