package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/hyperate-agent/internal/models"
	"github.com/benmeehan/hyperate-agent/internal/protocol"
)

func decodeJSON(t *testing.T, text string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	return out
}

// TestCodec_JoinMessage_WireFormat checks the exact join frame.
func TestCodec_JoinMessage_WireFormat(t *testing.T) {
	codec := protocol.NewCodec(protocol.DefaultVariant())

	text, err := codec.Encode(codec.JoinMessage("abc123"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"hr:abc123","event":"phx_join","payload":{},"ref":"1"}`, text)
}

// TestCodec_LeaveMessage_WireFormat checks the leave frame uses the timestamp as ref.
func TestCodec_LeaveMessage_WireFormat(t *testing.T) {
	codec := protocol.NewCodec(protocol.DefaultVariant())

	text, err := codec.Encode(codec.LeaveMessage("xyz789", 1700000000123))
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"hr:xyz789","event":"phx_leave","payload":{},"ref":"1700000000123"}`, text)
}

// TestCodec_HeartbeatMessage_Ping checks the default bare ping heartbeat.
func TestCodec_HeartbeatMessage_Ping(t *testing.T) {
	codec := protocol.NewCodec(protocol.DefaultVariant())

	text, err := codec.Encode(codec.HeartbeatMessage(1700000000123))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ping","payload":{"timestamp":1700000000123}}`, text)

	raw := decodeJSON(t, text)
	assert.NotContains(t, raw, "topic")
	assert.NotContains(t, raw, "ref")
}

// TestCodec_HeartbeatMessage_Phoenix checks the phoenix topic heartbeat variant.
func TestCodec_HeartbeatMessage_Phoenix(t *testing.T) {
	codec := protocol.NewCodec(protocol.PhoenixVariant())

	text, err := codec.Encode(codec.HeartbeatMessage(42))
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"phoenix","event":"heartbeat","payload":{},"ref":"42"}`, text)
}

func TestCodec_Decode(t *testing.T) {
	codec := protocol.NewCodec(protocol.DefaultVariant())

	tests := []struct {
		name    string
		text    string
		wantErr bool
		want    models.Envelope
	}{
		{
			name: "reply with payload",
			text: `{"topic":"hr:abc123","event":"phx_reply","payload":{"status":"ok","response":{}},"ref":"1"}`,
			want: models.Envelope{Topic: "hr:abc123", Event: "phx_reply", Ref: "1"},
		},
		{
			name: "numeric ref",
			text: `{"event":"phx_reply","ref":7}`,
			want: models.Envelope{Event: "phx_reply", Ref: "7"},
		},
		{
			name: "null ref and unknown fields",
			text: `{"event":"hr_update","ref":null,"join_ref":"3","extra":[1,2]}`,
			want: models.Envelope{Event: "hr_update"},
		},
		{name: "not json", text: `hello`, wantErr: true},
		{name: "array", text: `[1,2,3]`, wantErr: true},
		{name: "null", text: `null`, wantErr: true},
		{name: "missing event", text: `{"topic":"hr:abc"}`, wantErr: true},
		{name: "empty event", text: `{"event":""}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := codec.Decode(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, protocol.ErrDecode))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Topic, env.Topic)
			assert.Equal(t, tt.want.Event, env.Event)
			assert.Equal(t, tt.want.Ref, env.Ref)
		})
	}
}

// TestCodec_ExtractBPM covers the integer checks on the payload value.
func TestCodec_ExtractBPM(t *testing.T) {
	codec := protocol.NewCodec(protocol.DefaultVariant())

	tests := []struct {
		text   string
		want   int
		wantOK bool
	}{
		{`{"event":"hr_update","payload":{"hr":72}}`, 72, true},
		{`{"event":"hr_update","payload":{"hr":0}}`, 0, true},
		{`{"event":"hr_update","payload":{"hr":120.0}}`, 120, true},
		{`{"event":"hr_update","payload":{"hr":72.5}}`, 0, false},
		{`{"event":"hr_update","payload":{"hr":-1}}`, 0, false},
		{`{"event":"hr_update","payload":{"hr":"72"}}`, 0, false},
		{`{"event":"hr_update","payload":{"heartrate":72}}`, 0, false},
		{`{"event":"hr_update"}`, 0, false},
	}

	for _, tt := range tests {
		env, err := codec.Decode(tt.text)
		require.NoError(t, err)
		got, ok := codec.ExtractBPM(env)
		assert.Equal(t, tt.wantOK, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

// TestCodec_PhoenixVariant_Update checks the alternative event and key names.
func TestCodec_PhoenixVariant_Update(t *testing.T) {
	codec := protocol.NewCodec(protocol.PhoenixVariant())

	env, err := codec.Decode(`{"topic":"hr:abc","event":"hr:update","payload":{"heartrate":91}}`)
	require.NoError(t, err)
	assert.True(t, codec.IsHeartRateUpdate(env))

	bpm, ok := codec.ExtractBPM(env)
	assert.True(t, ok)
	assert.Equal(t, 91, bpm)
}

// TestCodec_IsJoinAck covers ref and topic matching of join replies.
func TestCodec_IsJoinAck(t *testing.T) {
	strict := protocol.NewCodec(protocol.DefaultVariant())

	loose := protocol.DefaultVariant()
	loose.MatchJoinRef = false
	lenient := protocol.NewCodec(loose)

	ack := models.Envelope{Topic: "hr:abc", Event: "phx_reply", Ref: "1"}
	otherRef := models.Envelope{Topic: "hr:abc", Event: "phx_reply", Ref: "5"}
	otherTopic := models.Envelope{Topic: "hr:zzz", Event: "phx_reply", Ref: "1"}
	update := models.Envelope{Topic: "hr:abc", Event: "hr_update", Ref: "1"}

	assert.True(t, strict.IsJoinAck(ack, "abc"))
	assert.False(t, strict.IsJoinAck(otherRef, "abc"))
	assert.False(t, strict.IsJoinAck(otherTopic, "abc"))
	assert.False(t, strict.IsJoinAck(update, "abc"))

	assert.True(t, lenient.IsJoinAck(otherRef, "abc"))
	assert.True(t, lenient.IsJoinAck(models.Envelope{Event: "phx_reply"}, "abc"))
}

// TestCodec_ReplyError extracts the rejection reason.
func TestCodec_ReplyError(t *testing.T) {
	codec := protocol.NewCodec(protocol.DefaultVariant())

	env, err := codec.Decode(`{"event":"phx_reply","ref":"1","payload":{"status":"error","response":{"reason":"unauthorized"}}}`)
	require.NoError(t, err)
	reason, ok := codec.ReplyError(env)
	assert.True(t, ok)
	assert.Equal(t, "unauthorized", reason)

	env, err = codec.Decode(`{"event":"phx_reply","ref":"1","payload":{"status":"ok"}}`)
	require.NoError(t, err)
	_, ok = codec.ReplyError(env)
	assert.False(t, ok)
}

func TestVariantByName(t *testing.T) {
	v, ok := protocol.VariantByName("phoenix")
	assert.True(t, ok)
	assert.Equal(t, "hr:update", v.UpdateEvent)

	v, ok = protocol.VariantByName("")
	assert.True(t, ok)
	assert.Equal(t, "hr_update", v.UpdateEvent)

	_, ok = protocol.VariantByName("bogus")
	assert.False(t, ok)
}
