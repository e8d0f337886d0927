// Package protocol translates Phoenix channel envelopes to and from their
// JSON wire form and builds the messages the agent sends.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/benmeehan/hyperate-agent/internal/constants"
	"github.com/benmeehan/hyperate-agent/internal/models"
)

// ErrDecode is returned for inbound frames that are not a valid envelope.
var ErrDecode = errors.New("protocol: cannot decode envelope")

// Codec encodes and decodes envelopes for one protocol variant.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	variant Variant
}

// NewCodec creates a Codec. Empty variant fields fall back to DefaultVariant.
func NewCodec(variant Variant) *Codec {
	return &Codec{variant: variant.withDefaults()}
}

// Variant returns the effective variant.
func (c *Codec) Variant() Variant {
	return c.variant
}

// wireEnvelope mirrors the JSON form loosely so that missing fields can be told apart.
type wireEnvelope struct {
	Topic   string          `json:"topic"`
	Event   *string         `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     json.RawMessage `json:"ref"`
}

// Encode serializes env to JSON text.
func (c *Codec) Encode(env models.Envelope) (string, error) {
	if env.Payload == nil {
		env.Payload = map[string]any{}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s envelope: %w", env.Event, err)
	}
	return string(data), nil
}

// Decode parses text into an envelope. Unknown fields are ignored.
func (c *Codec) Decode(text string) (models.Envelope, error) {
	var wire wireEnvelope
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	if err := dec.Decode(&wire); err != nil {
		return models.Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if wire.Event == nil || *wire.Event == "" {
		return models.Envelope{}, fmt.Errorf("%w: missing event", ErrDecode)
	}

	env := models.Envelope{
		Topic: wire.Topic,
		Event: *wire.Event,
		Ref:   decodeRef(wire.Ref),
	}

	if len(wire.Payload) > 0 && wire.Payload[0] == '{' {
		payloadDec := json.NewDecoder(bytes.NewReader(wire.Payload))
		payloadDec.UseNumber()
		if err := payloadDec.Decode(&env.Payload); err != nil {
			return models.Envelope{}, fmt.Errorf("%w: payload: %v", ErrDecode, err)
		}
	}

	return env, nil
}

// decodeRef accepts string and numeric refs; null or absent yields "".
func decodeRef(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// DeviceTopic returns the channel topic for deviceID.
func (c *Codec) DeviceTopic(deviceID string) string {
	return c.variant.TopicPrefix + deviceID
}

// JoinMessage builds the join request for deviceID's channel.
func (c *Codec) JoinMessage(deviceID string) models.Envelope {
	return models.Envelope{
		Topic:   c.DeviceTopic(deviceID),
		Event:   constants.EventJoin,
		Payload: map[string]any{},
		Ref:     c.variant.JoinRef,
	}
}

// LeaveMessage builds the leave request for deviceID's channel. The ref is
// the send time so acks for successive leaves can be told apart.
func (c *Codec) LeaveMessage(deviceID string, nowMillis int64) models.Envelope {
	return models.Envelope{
		Topic:   c.DeviceTopic(deviceID),
		Event:   constants.EventLeave,
		Payload: map[string]any{},
		Ref:     strconv.FormatInt(nowMillis, 10),
	}
}

// HeartbeatMessage builds the keep-alive frame.
func (c *Codec) HeartbeatMessage(nowMillis int64) models.Envelope {
	env := models.Envelope{
		Topic:   c.variant.HeartbeatTopic,
		Event:   c.variant.HeartbeatEvent,
		Payload: map[string]any{},
	}
	if c.variant.HeartbeatTimestamp {
		env.Payload[constants.PingTimestampKey] = nowMillis
	} else {
		env.Ref = strconv.FormatInt(nowMillis, 10)
	}
	return env
}

// IsReply reports whether env is a phx_reply.
func (c *Codec) IsReply(env models.Envelope) bool {
	return env.Event == constants.EventReply
}

// IsJoinAck reports whether env acknowledges the join for deviceID.
// With MatchJoinRef set only a reply carrying the join ref qualifies.
func (c *Codec) IsJoinAck(env models.Envelope, deviceID string) bool {
	if !c.IsReply(env) {
		return false
	}
	if c.variant.MatchJoinRef && env.Ref != c.variant.JoinRef {
		return false
	}
	return env.Topic == "" || env.Topic == c.DeviceTopic(deviceID)
}

// ReplyError returns the rejection reason of a reply whose status is "error".
func (c *Codec) ReplyError(env models.Envelope) (string, bool) {
	status, _ := env.Payload["status"].(string)
	if status != constants.ReplyStatusError {
		return "", false
	}
	if response, ok := env.Payload["response"].(map[string]any); ok {
		if reason, ok := response["reason"].(string); ok && reason != "" {
			return reason, true
		}
	}
	return "join rejected", true
}

// IsHeartRateUpdate reports whether env carries a heart-rate update.
func (c *Codec) IsHeartRateUpdate(env models.Envelope) bool {
	return env.Event == c.variant.UpdateEvent
}

// IsChannelError reports whether the server crashed the channel.
func (c *Codec) IsChannelError(env models.Envelope) bool {
	return env.Event == constants.EventError
}

// IsChannelClose reports whether the server closed the channel.
func (c *Codec) IsChannelClose(env models.Envelope) bool {
	return env.Event == constants.EventClose
}

// ExtractBPM returns the integer heart rate carried by an update.
// Non-integer, negative or missing values yield false.
func (c *Codec) ExtractBPM(env models.Envelope) (int, bool) {
	raw, ok := env.Payload[c.variant.BPMKey]
	if !ok {
		return 0, false
	}

	var bpm int64
	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil || f != math.Trunc(f) {
				return 0, false
			}
			n = int64(f)
		}
		bpm = n
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		bpm = int64(v)
	case int:
		bpm = int64(v)
	case int64:
		bpm = v
	default:
		return 0, false
	}

	if bpm < 0 || bpm > math.MaxInt32 {
		return 0, false
	}
	return int(bpm), true
}
