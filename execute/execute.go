// Package execute dispatches a snapshot of a session's document to a remote
// code execution service.
package execute

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"

	"github.com/pairpad/server/protocol"
	"github.com/pairpad/server/session"
)

var ErrBackend = errors.New("execution backend error")

type Request struct {
	Language protocol.Language `json:"language"`
	Source   string            `json:"source"`
	Stdin    string            `json:"stdin,omitempty"`
}

type Result struct {
	RunID      string            `json:"run_id"`
	Language   protocol.Language `json:"language"`
	Version    string            `json:"version"`
	Stage      string            `json:"stage"` // "compile" or "run"
	Stdout     string            `json:"stdout"`
	Stderr     string            `json:"stderr"`
	Output     string            `json:"output"`
	ExitStatus int               `json:"exit_status"`
	Signal     string            `json:"signal,omitempty"`
}

// Backend runs source code. Implementations never touch session state.
type Backend interface {
	Run(ctx context.Context, req Request) (Result, error)
}

func newRunID() string {
	return ulid.Make().String()
}

// Snapshotter is satisfied by *session.Registry.
type Snapshotter interface {
	Snapshot(ctx context.Context, token string) (session.State, error)
}

// RunSession executes the authoritative document of a session as of the
// call. The result is never written back to the session.
func RunSession(ctx context.Context, b Backend, s Snapshotter, token, stdin string) (Result, error) {
	st, err := s.Snapshot(ctx, token)
	if err != nil {
		return Result{}, err
	}
	return b.Run(ctx, Request{Language: st.Language, Source: st.Code, Stdin: stdin})
}
