package constants

// MQTT relay topic suffixes, appended to the configured prefix.
const (
	RelayStatusSuffix    = "status"
	RelayHeartRateSuffix = "heartrate"
	RelayControlSuffix   = "control"
)

// Control actions accepted on the relay control topic.
const (
	ControlActionConnect    = "connect"
	ControlActionDisconnect = "disconnect"
	ControlActionReconnect  = "reconnect"
	ControlActionToggle     = "toggle"
)

const (
	DefaultRelayTopicPrefix = "hyperate"
	DefaultRelayBufferSize  = 64
	DefaultMQTTQuiesce      = 250
)
