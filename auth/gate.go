package auth

import (
	"errors"
	"fmt"

	"github.com/coder/websocket"

	"github.com/pairpad/server/protocol"
)

var ErrInvalidSessionToken = errors.New("invalid session token")

// SessionCreator mints a fresh session holding the default document and
// returns its token.
type SessionCreator interface {
	CreateDefault(language protocol.Language) (string, error)
}

// Admission is the outcome of a successful Admit.
type Admission struct {
	Token    string
	Identity Identity
	// Minted is true when the caller asked for a new session instead of a join.
	Minted bool
}

// Placeholder tokens that clients use before a real session exists. They
// always mint a new session so two parties never share one by accident.
var placeholderTokens = map[string]bool{
	"":     true,
	"new":  true,
	"demo": true,
}

// Gate authenticates connection attempts. It never retries: a rejected attempt
// is final and the caller closes the transport with CloseStatus(err).
type Gate struct {
	verifier *Verifier
	sessions SessionCreator
}

func NewGate(verifier *Verifier, sessions SessionCreator) *Gate {
	return &Gate{verifier: verifier, sessions: sessions}
}

func (g *Gate) Admit(sessionToken, credential string) (Admission, error) {
	id, err := g.verifier.Verify(credential)
	if err != nil {
		return Admission{}, err
	}

	if placeholderTokens[sessionToken] {
		token, err := g.sessions.CreateDefault("")
		if err != nil {
			return Admission{}, fmt.Errorf("create session: %w", err)
		}
		return Admission{Token: token, Identity: id, Minted: true}, nil
	}

	if !protocol.ValidToken(sessionToken) {
		return Admission{}, fmt.Errorf("%w: %q", ErrInvalidSessionToken, sessionToken)
	}

	return Admission{Token: sessionToken, Identity: id}, nil
}

// CloseStatus maps an Admit error to the websocket close code sent to the client.
func CloseStatus(err error) websocket.StatusCode {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return protocol.StatusMissingCredential
	case errors.Is(err, ErrInvalidCredential):
		return protocol.StatusInvalidCredential
	case errors.Is(err, ErrInvalidSessionToken):
		return protocol.StatusInvalidSession
	default:
		return websocket.StatusInternalError
	}
}
