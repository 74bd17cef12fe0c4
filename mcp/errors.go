package mcp

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pairpad/server/execute"
	"github.com/pairpad/server/session"
)

type ErrorCode string

const (
	ErrNotFound    ErrorCode = "session_not_found"
	ErrValidation  ErrorCode = "invalid_argument"
	ErrUnavailable ErrorCode = "backend_unavailable"
	ErrInternal    ErrorCode = "internal"
)

// toolError is the JSON body of an error result. Agents branch on Code.
type toolError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Token   string    `json:"token,omitempty"`
}

func (e toolError) result() *mcp.CallToolResult {
	data, _ := json.Marshal(e)
	return mcp.NewToolResultError(string(data))
}

func invalidArgument(msg string) *mcp.CallToolResult {
	return toolError{Code: ErrValidation, Message: msg}.result()
}

// sessionError classifies a failure from the registry or the execution
// backend. Unexpected errors are logged here since the agent only sees a code.
func sessionError(token string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return toolError{Code: ErrNotFound, Message: "no live or saved session with this token", Token: token}.result()
	case errors.Is(err, execute.ErrBackend):
		slog.Warn("mcp run failed", "session", token, "error", err)
		return toolError{Code: ErrUnavailable, Message: "execution backend unavailable", Token: token}.result()
	default:
		slog.Error("mcp tool failed", "session", token, "error", err)
		return toolError{Code: ErrInternal, Message: err.Error(), Token: token}.result()
	}
}
