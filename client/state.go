package client

// State is the connection state of an Adapter.
//
//	Connecting → Joined → Disconnected → Reconnecting → Joined … → Closed
type State int

const (
	StateConnecting State = iota
	StateJoined
	StateDisconnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Live reports whether the local document mirrors the session.
func (s State) Live() bool {
	return s == StateJoined
}
