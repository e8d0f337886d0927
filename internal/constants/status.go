package constants

// Status messages reported through ConnectionStatus errors.
const (
	StatusInvalidDeviceID    = "invalid device id"
	StatusReconnectExhausted = "reconnect attempts exhausted"
	StatusNetworkUnavailable = "network unavailable"
	StatusChannelClosed      = "channel closed"
	StatusUnknownError       = "unknown error"
)
