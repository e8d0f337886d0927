package models

// ControlCommand is received on the relay control topic.
type ControlCommand struct {
	Action   string `json:"action"`              // "connect", "disconnect", "reconnect" or "toggle".
	DeviceID string `json:"device_id,omitempty"` // Required for "connect".
}
