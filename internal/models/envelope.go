package models

// Envelope is one Phoenix channel message.
type Envelope struct {
	Topic   string         `json:"topic,omitempty"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
	Ref     string         `json:"ref,omitempty"`
}
