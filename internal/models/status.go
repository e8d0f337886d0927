package models

// StatusKind enumerates the externally visible connection states.
type StatusKind int

const (
	Disconnected StatusKind = iota
	Connecting
	Connected
	Error
)

// String returns the lowercase name of the kind.
func (k StatusKind) String() string {
	switch k {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// ConnectionStatus is the value reported to status observers.
// Message is only meaningful when Kind is Error.
type ConnectionStatus struct {
	Kind    StatusKind `json:"kind"`
	Message string     `json:"message,omitempty"`
}

// StatusDisconnected returns the Disconnected status.
func StatusDisconnected() ConnectionStatus { return ConnectionStatus{Kind: Disconnected} }

// StatusConnecting returns the Connecting status.
func StatusConnecting() ConnectionStatus { return ConnectionStatus{Kind: Connecting} }

// StatusConnected returns the Connected status.
func StatusConnected() ConnectionStatus { return ConnectionStatus{Kind: Connected} }

// StatusError returns an Error status carrying msg.
func StatusError(msg string) ConnectionStatus {
	return ConnectionStatus{Kind: Error, Message: msg}
}

// IsError reports whether the status is an Error.
func (s ConnectionStatus) IsError() bool { return s.Kind == Error }

func (s ConnectionStatus) String() string {
	if s.Kind == Error {
		return "error: " + s.Message
	}
	return s.Kind.String()
}
