package session

import (
	"errors"
	"time"

	"github.com/pairpad/server/protocol"
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrRegistryClosed = errors.New("registry closed")
	ErrNotFound       = errors.New("session not found")
)

// State is the authoritative document of one session.
type State struct {
	Token     string            `json:"token"`
	Code      string            `json:"code"`
	Language  protocol.Language `json:"language"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (s State) fullState() protocol.FullState {
	return protocol.FullState{Code: s.Code, Language: s.Language, Token: s.Token}
}

// Participant is one live connection joined to a session.
type Participant interface {
	// ID is unique per connection, not per user.
	ID() string
	// User is the display name attached to cursor updates.
	User() string
	// Deliver queues an encoded frame and must not block. It returns false
	// when the frame was dropped.
	Deliver(frame []byte) bool
}

// Stats is a point-in-time summary of live sessions.
type Stats struct {
	Sessions     int `json:"sessions"`
	Participants int `json:"participants"`
}
