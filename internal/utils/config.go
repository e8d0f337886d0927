package utils

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/hyperate-agent/internal/constants"
	"github.com/benmeehan/hyperate-agent/internal/protocol"
	"github.com/benmeehan/hyperate-agent/pkg/file"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the structure of the configuration file.
type Config struct {
	Server struct {
		URL              string        `yaml:"url"`               // Base WebSocket URL (ws:// or wss://)
		URLStyle         string        `yaml:"url_style"`         // "path" (<url>/<device>) or "socket"
		ProtocolVersion  string        `yaml:"protocol_version"`  // Phoenix vsn, socket style only
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"` // WebSocket handshake timeout
	} `yaml:"server"`

	Session struct {
		SettingsFile string `yaml:"settings_file"` // Path to the persisted device id / token file
		DeviceID     string `yaml:"device_id"`     // Device id used when the settings file has none
		AuthToken    string `yaml:"auth_token"`    // API token; HYPERATE_API_KEY takes precedence
		AutoConnect  bool   `yaml:"auto_connect"`  // Connect on startup
	} `yaml:"session"`

	Protocol struct {
		Variant     string `yaml:"variant"`      // "default" or "phoenix"
		UpdateEvent string `yaml:"update_event"` // Overrides the variant's update event name
		BPMKey      string `yaml:"bpm_key"`      // Overrides the variant's bpm payload key
	} `yaml:"protocol"`

	Connection struct {
		HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`     // Keep-alive interval while joined
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // Automatic retries before giving up
		BaseDelay            time.Duration `yaml:"base_delay"`             // First reconnect delay
		MaxDelay             time.Duration `yaml:"max_delay"`              // Reconnect delay cap
		LeaveGrace           time.Duration `yaml:"leave_grace"`            // Wait between leave and close
	} `yaml:"connection"`

	Logging struct {
		Level   string `yaml:"level"`   // zerolog level name
		Console bool   `yaml:"console"` // Human-readable output instead of JSON
	} `yaml:"logging"`

	Metrics struct {
		Enabled   bool   `yaml:"enabled"`   // Serve Prometheus metrics
		Address   string `yaml:"address"`   // Listen address for the metrics endpoint
		Path      string `yaml:"path"`      // HTTP path for the metrics endpoint
		Namespace string `yaml:"namespace"` // Metric name prefix
	} `yaml:"metrics"`

	MQTT struct {
		Broker         string        `yaml:"broker"`          // MQTT broker address
		ClientID       string        `yaml:"client_id"`       // MQTT client ID
		Username       string        `yaml:"username"`        // Optional broker username
		Password       string        `yaml:"password"`        // Optional broker password
		CACertificate  string        `yaml:"ca_certificate"`  // Path to the CA certificate, enables TLS
		ConnectTimeout time.Duration `yaml:"connect_timeout"` // Initial connect timeout
	} `yaml:"mqtt"`

	Services struct {
		Relay struct {
			Enabled     bool   `yaml:"enabled"`      // Enable/disable the MQTT relay
			TopicPrefix string `yaml:"topic_prefix"` // Prefix for status/heartrate/control topics
			QOS         int    `yaml:"qos"`          // MQTT QoS level for relay messages
			Retain      bool   `yaml:"retain"`       // Publish retained messages
			Control     bool   `yaml:"control"`      // Accept connect/disconnect on the control topic
		} `yaml:"relay"`
	} `yaml:"services"`
}

// LoadConfig loads the YAML configuration from the specified file, fills
// defaults and validates it.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	var config Config
	config.Server.URL = "wss://app.hyperate.io/ws"
	config.Session.AutoConnect = true
	config.ApplyDefaults()
	return &config
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Server.URLStyle == "" {
		c.Server.URLStyle = string(protocol.URLStylePath)
	}
	if c.Server.HandshakeTimeout <= 0 {
		c.Server.HandshakeTimeout = constants.DefaultHandshakeTimeout
	}
	if c.Session.SettingsFile == "" {
		c.Session.SettingsFile = "settings.json"
	}
	if c.Protocol.Variant == "" {
		c.Protocol.Variant = "default"
	}
	if c.Connection.HeartbeatInterval <= 0 {
		c.Connection.HeartbeatInterval = constants.DefaultHeartbeatInterval
	}
	if c.Connection.MaxReconnectAttempts <= 0 {
		c.Connection.MaxReconnectAttempts = constants.DefaultMaxReconnectAttempts
	}
	if c.Connection.BaseDelay <= 0 {
		c.Connection.BaseDelay = constants.DefaultBaseDelay
	}
	if c.Connection.MaxDelay <= 0 {
		c.Connection.MaxDelay = constants.DefaultMaxDelay
	}
	if c.Connection.LeaveGrace <= 0 {
		c.Connection.LeaveGrace = constants.DefaultLeaveGrace
	}
	if c.Logging.Level == "" {
		c.Logging.Level = zerolog.InfoLevel.String()
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "hyperate"
	}
	if c.MQTT.ConnectTimeout <= 0 {
		c.MQTT.ConnectTimeout = 10 * time.Second
	}
	if c.Services.Relay.TopicPrefix == "" {
		c.Services.Relay.TopicPrefix = constants.DefaultRelayTopicPrefix
	}
}

// Validate checks the configuration for values the agent cannot run with.
func (c *Config) Validate() error {
	var problems []string

	u, err := url.Parse(c.Server.URL)
	switch {
	case c.Server.URL == "":
		problems = append(problems, "server.url is required")
	case err != nil:
		problems = append(problems, fmt.Sprintf("server.url: %v", err))
	case u.Scheme != "ws" && u.Scheme != "wss":
		problems = append(problems, "server.url must use ws or wss")
	}

	styles := SliceToSet([]protocol.URLStyle{protocol.URLStylePath, protocol.URLStyleSocket})
	if _, ok := styles[protocol.URLStyle(c.Server.URLStyle)]; !ok {
		problems = append(problems, fmt.Sprintf("server.url_style %q is not one of path, socket", c.Server.URLStyle))
	}

	if _, ok := protocol.VariantByName(c.Protocol.Variant); !ok {
		problems = append(problems, fmt.Sprintf("protocol.variant %q is unknown", c.Protocol.Variant))
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		problems = append(problems, fmt.Sprintf("logging.level: %v", err))
	}

	if c.Connection.MaxDelay < c.Connection.BaseDelay {
		problems = append(problems, "connection.max_delay must not be below connection.base_delay")
	}

	if c.Services.Relay.Enabled {
		if c.MQTT.Broker == "" {
			problems = append(problems, "mqtt.broker is required when the relay is enabled")
		}
		if c.Services.Relay.QOS < 0 || c.Services.Relay.QOS > 2 {
			problems = append(problems, "services.relay.qos must be 0, 1 or 2")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ProtocolVariant resolves the configured variant and applies overrides.
func (c *Config) ProtocolVariant() (protocol.Variant, error) {
	variant, ok := protocol.VariantByName(c.Protocol.Variant)
	if !ok {
		return protocol.Variant{}, fmt.Errorf("%w: unknown protocol variant %q", ErrInvalidConfig, c.Protocol.Variant)
	}
	if c.Protocol.UpdateEvent != "" {
		variant.UpdateEvent = c.Protocol.UpdateEvent
	}
	if c.Protocol.BPMKey != "" {
		variant.BPMKey = c.Protocol.BPMKey
	}
	return variant, nil
}
