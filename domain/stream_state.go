package domain

type StreamState int

const (
	StreamIdle StreamState = iota
	StreamConnecting
	StreamStreaming
	StreamReconnectPending
	StreamExhausted
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamConnecting:
		return "connecting"
	case StreamStreaming:
		return "streaming"
	case StreamReconnectPending:
		return "reconnect_pending"
	case StreamExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Live reports whether a connection chain is in progress.
func (s StreamState) Live() bool {
	return s == StreamConnecting || s == StreamStreaming || s == StreamReconnectPending
}

func (s StreamState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
