package models

import "time"

// RelayHeartRate is the MQTT payload published for every heart-rate change.
type RelayHeartRate struct {
	DeviceID   string    `json:"device_id"`
	BPM        *int      `json:"bpm"`
	ObservedAt time.Time `json:"observed_at"`
}

// RelayStatus is the MQTT payload published for every connection status change.
type RelayStatus struct {
	DeviceID  string    `json:"device_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
