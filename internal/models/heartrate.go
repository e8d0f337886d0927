package models

import "time"

// HeartRateSample is the latest heart-rate reading received from the service.
type HeartRateSample struct {
	BPM        int       `json:"bpm"`
	ObservedAt time.Time `json:"observed_at"`
}

// SessionConfig identifies one connection session.
type SessionConfig struct {
	DeviceID  string
	AuthToken string
}
