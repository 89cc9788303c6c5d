package pulse

// ConnectionState describes the connection as reported by the transport.
// States are surfaced, never computed, by this package. Unknown values pass
// through untouched.
type ConnectionState string

const (
	StateConnecting    ConnectionState = "connecting"
	StateConnected     ConnectionState = "connected"
	StateDisconnecting ConnectionState = "disconnecting"
	StateDisconnected  ConnectionState = "disconnected"
	StateReconnecting  ConnectionState = "reconnecting"
	// StateReconnectingWhenNetworkBecomesReachable is reported by transports
	// that defer reconnection until the network returns.
	StateReconnectingWhenNetworkBecomesReachable ConnectionState = "reconnectingWhenNetworkBecomesReachable"
)

// ConnectionStateChange is one observed transition.
type ConnectionStateChange struct {
	Previous ConnectionState
	Current  ConnectionState
}

// ConnectionError is a semantic failure reported by the messaging backend,
// for example an authentication rejection. It is delivered as a value to the
// error handler, not returned as a Go error. All fields are optional.
type ConnectionError struct {
	Message   string
	Code      string
	Exception string
}
