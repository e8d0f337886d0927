package constants

import "time"

// Phoenix channel events
const (
	// EventJoin subscribes the socket to a channel topic
	EventJoin = "phx_join"
	// EventLeave unsubscribes the socket from a channel topic
	EventLeave = "phx_leave"
	// EventReply is the server's answer to a client push
	EventReply = "phx_reply"
	// EventError is pushed by the server when a channel crashed
	EventError = "phx_error"
	// EventClose is pushed by the server when a channel was closed
	EventClose = "phx_close"
)

// Heart-rate channel defaults
const (
	DeviceTopicPrefix    = "hr:"
	HeartRateUpdateEvent = "hr_update"
	HeartRateKey         = "hr"
	PingEvent            = "ping"
	PingTimestampKey     = "timestamp"
	JoinRef              = "1"

	PhoenixTopic          = "phoenix"
	PhoenixHeartbeatEvent = "heartbeat"
	PhoenixUpdateEvent    = "hr:update"
	PhoenixHeartRateKey   = "heartrate"

	ReplyStatusOK    = "ok"
	ReplyStatusError = "error"
)

// Connection timing defaults
const (
	DefaultHeartbeatInterval    = 15 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultBaseDelay            = 2 * time.Second
	DefaultMaxDelay             = 60 * time.Second
	DefaultLeaveGrace           = 100 * time.Millisecond
	DefaultHandshakeTimeout     = 10 * time.Second
)

// WebSocket close codes used by the agent.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)
