package protocol

import "github.com/benmeehan/hyperate-agent/internal/constants"

// Variant holds the wire names that differ between server deployments.
type Variant struct {
	TopicPrefix    string `yaml:"topic_prefix"`
	UpdateEvent    string `yaml:"update_event"`
	BPMKey         string `yaml:"bpm_key"`
	HeartbeatTopic string `yaml:"heartbeat_topic"`
	HeartbeatEvent string `yaml:"heartbeat_event"`
	// HeartbeatTimestamp puts the send time into the heartbeat payload
	// instead of the ref.
	HeartbeatTimestamp bool   `yaml:"heartbeat_timestamp"`
	JoinRef            string `yaml:"join_ref"`
	// MatchJoinRef only accepts a phx_reply carrying JoinRef as the join ack.
	MatchJoinRef bool `yaml:"match_join_ref"`
}

// DefaultVariant is the /ws/<device> deployment: hr_update events with an
// "hr" key and bare ping heartbeats.
func DefaultVariant() Variant {
	return Variant{
		TopicPrefix:        constants.DeviceTopicPrefix,
		UpdateEvent:        constants.HeartRateUpdateEvent,
		BPMKey:             constants.HeartRateKey,
		HeartbeatEvent:     constants.PingEvent,
		HeartbeatTimestamp: true,
		JoinRef:            constants.JoinRef,
		MatchJoinRef:       true,
	}
}

// PhoenixVariant is the /socket/websocket deployment speaking the stock
// Phoenix heartbeat on the "phoenix" topic.
func PhoenixVariant() Variant {
	return Variant{
		TopicPrefix:    constants.DeviceTopicPrefix,
		UpdateEvent:    constants.PhoenixUpdateEvent,
		BPMKey:         constants.PhoenixHeartRateKey,
		HeartbeatTopic: constants.PhoenixTopic,
		HeartbeatEvent: constants.PhoenixHeartbeatEvent,
		JoinRef:        constants.JoinRef,
		MatchJoinRef:   true,
	}
}

// VariantByName resolves a configured variant name. Unknown names return false.
func VariantByName(name string) (Variant, bool) {
	switch name {
	case "", "default", "ws":
		return DefaultVariant(), true
	case "phoenix", "socket":
		return PhoenixVariant(), true
	default:
		return Variant{}, false
	}
}

// withDefaults fills empty fields from DefaultVariant.
func (v Variant) withDefaults() Variant {
	d := DefaultVariant()
	if v.TopicPrefix == "" {
		v.TopicPrefix = d.TopicPrefix
	}
	if v.UpdateEvent == "" {
		v.UpdateEvent = d.UpdateEvent
	}
	if v.BPMKey == "" {
		v.BPMKey = d.BPMKey
	}
	if v.HeartbeatEvent == "" {
		v.HeartbeatEvent = d.HeartbeatEvent
	}
	if v.JoinRef == "" {
		v.JoinRef = d.JoinRef
	}
	return v
}
