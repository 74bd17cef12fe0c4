// Package protocol defines the wire format spoken between editor clients and the
// session server: one JSON object per websocket text frame, discriminated by "type".
package protocol

// Type is the frame discriminator.
type Type string

const (
	TypeCodeUpdate       Type = "code_update"
	TypeLanguageUpdate   Type = "language_update"
	TypeCursorUpdate     Type = "cursor_update"
	TypeFullState        Type = "full_state"
	TypeFullStateRequest Type = "request_full_state"
)

// Event is a decoded protocol message. The set of implementations is closed.
type Event interface {
	Type() Type
}

// CodeUpdate carries the complete document text, never a diff.
type CodeUpdate struct {
	Code string `json:"code"`
}

type LanguageUpdate struct {
	Language Language `json:"language"`
}

// Position is a 1-based cursor location in the document.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// CursorUpdate is ephemeral. Clients send only Position; the server fills in
// ConnectionID and User before relaying so receivers can draw per-user cursors.
type CursorUpdate struct {
	Position     Position `json:"position"`
	ConnectionID string   `json:"connection_id,omitempty"`
	User         string   `json:"user,omitempty"`
}

type FullStateRequest struct{}

// FullState is the authoritative snapshot sent on join and on request.
// Token is set so a client that joined without one learns the minted token.
type FullState struct {
	Code     string   `json:"code"`
	Language Language `json:"language"`
	Token    string   `json:"token,omitempty"`
}

func (CodeUpdate) Type() Type       { return TypeCodeUpdate }
func (LanguageUpdate) Type() Type   { return TypeLanguageUpdate }
func (CursorUpdate) Type() Type     { return TypeCursorUpdate }
func (FullStateRequest) Type() Type { return TypeFullStateRequest }
func (FullState) Type() Type        { return TypeFullState }
