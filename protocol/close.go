package protocol

import "github.com/coder/websocket"

// Application close codes (4000-4999 range reserved for applications).
const (
	StatusMissingCredential websocket.StatusCode = 4001
	StatusInvalidCredential websocket.StatusCode = 4002
	StatusInvalidSession    websocket.StatusCode = 4003
	StatusSlowConsumer      websocket.StatusCode = 4008
)

// IsAuthFailure reports whether a close status means the client must
// re-authenticate instead of reconnecting.
func IsAuthFailure(code websocket.StatusCode) bool {
	return code == StatusMissingCredential || code == StatusInvalidCredential
}

// IsPermanent reports whether reconnecting with the same parameters cannot succeed.
func IsPermanent(code websocket.StatusCode) bool {
	return IsAuthFailure(code) || code == StatusInvalidSession
}
