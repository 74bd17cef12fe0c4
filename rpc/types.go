// Package rpc defines JSON-RPC 2.0 wire format types for WebSocket communication.
// These types represent the params and result structures for all RPC methods.
package rpc

import (
	"time"

	"github.com/pairpad/server/protocol"
	"github.com/pairpad/server/session"
)

// Client → Server

type AuthParams struct {
	Credential string `json:"credential"`
}

type AuthResult struct {
	Version  string `json:"version"`
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// SessionCreateParams leaves InitialCode nil to get the default document.
type SessionCreateParams struct {
	InitialCode *string           `json:"initial_code,omitempty"`
	Language    protocol.Language `json:"language,omitempty"`
}

type SessionCreateResult struct {
	Token string `json:"token"`
}

type SessionGetParams struct {
	Token string `json:"token"`
}

type SessionRunParams struct {
	Token string `json:"token"`
	Stdin string `json:"stdin,omitempty"`
}

// Server → Client

type SessionInfo struct {
	Token        string            `json:"token"`
	Code         string            `json:"code"`
	Language     protocol.Language `json:"language"`
	Participants int               `json:"participants"`
	Connections  []string          `json:"connections,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func NewSessionInfo(st session.State, participants int) SessionInfo {
	return SessionInfo{
		Token:        st.Token,
		Code:         st.Code,
		Language:     st.Language,
		Participants: participants,
		CreatedAt:    st.CreatedAt,
		UpdatedAt:    st.UpdatedAt,
	}
}
