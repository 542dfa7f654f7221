package connection

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates the socket is connected but the CSP login has
	// not completed.
	StateConnected

	// StateLoggedIn indicates the CSP login completed.
	StateLoggedIn
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateLoggedIn:
		return "LOGGEDIN"
	default:
		return "UNKNOWN"
	}
}

// StateNames lists every state name, in order.
func StateNames() []string {
	return []string{
		StateDisconnected.String(),
		StateConnecting.String(),
		StateConnected.String(),
		StateLoggedIn.String(),
	}
}

// StateListener is notified when the connection state changes.
//
// Listeners are called synchronously from the goroutine changing the state
// and must not call Start or Stop.
type StateListener interface {
	UpdateConnectionState(state State)
}
