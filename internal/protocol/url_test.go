package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/hyperate-agent/internal/models"
	"github.com/benmeehan/hyperate-agent/internal/protocol"
)

func TestBuildURL_PathStyle(t *testing.T) {
	session := models.SessionConfig{DeviceID: "abc123", AuthToken: "secret"}

	got, err := protocol.BuildURL("wss://app.hyperate.io/ws/", protocol.URLStylePath, session, "")
	require.NoError(t, err)
	assert.Equal(t, "wss://app.hyperate.io/ws/abc123?token=secret", got)
}

func TestBuildURL_SocketStyle(t *testing.T) {
	session := models.SessionConfig{DeviceID: "abc123", AuthToken: "secret"}

	got, err := protocol.BuildURL("wss://app.hyperate.io/socket/websocket", protocol.URLStyleSocket, session, "2.0.0")
	require.NoError(t, err)
	assert.Equal(t, "wss://app.hyperate.io/socket/websocket?token=secret&vsn=2.0.0", got)
}

func TestBuildURL_Errors(t *testing.T) {
	session := models.SessionConfig{DeviceID: "abc123"}

	_, err := protocol.BuildURL("https://app.hyperate.io/ws", protocol.URLStylePath, session, "")
	assert.Error(t, err)

	_, err = protocol.BuildURL("wss://app.hyperate.io/socket/websocket", protocol.URLStyleSocket, session, "two")
	assert.Error(t, err)

	_, err = protocol.BuildURL("wss://app.hyperate.io/ws", "query", session, "")
	assert.Error(t, err)
}

func TestBuildURL_NoToken(t *testing.T) {
	got, err := protocol.BuildURL("ws://localhost:4000/ws", protocol.URLStylePath, models.SessionConfig{DeviceID: "abc"}, "")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:4000/ws/abc", got)
}
