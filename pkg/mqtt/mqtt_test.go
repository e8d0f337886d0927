package mqtt_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/hyperate-agent/pkg/mqtt"
	"github.com/benmeehan/hyperate-agent/tests/mocks"
)

func TestInitialize_CACertReadError(t *testing.T) {
	fileOps := new(mocks.MockFileOperations)
	fileOps.On("ReadFileRaw", "ca.pem").Return(nil, errors.New("permission denied"))

	svc := mqtt.NewMqttService(fileOps)
	err := svc.Initialize(mqtt.Options{Broker: "tcp://localhost:1883", ClientID: "test", CACertPath: "ca.pem"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read CA certificate")
	fileOps.AssertExpectations(t)
}

func TestInitialize_InvalidCACert(t *testing.T) {
	fileOps := new(mocks.MockFileOperations)
	fileOps.On("ReadFileRaw", "ca.pem").Return([]byte("not a certificate"), nil)

	svc := mqtt.NewMqttService(fileOps)
	err := svc.Initialize(mqtt.Options{Broker: "tcp://localhost:1883", ClientID: "test", CACertPath: "ca.pem"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to append CA certificate")
}

func TestMqttService_DelegatesToClient(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	token := new(mocks.MockToken)
	client.On("Publish", "hr/status", byte(1), true, []byte("x")).Return(token)
	client.On("Disconnect", uint(250)).Return()

	svc := mqtt.NewMqttService(nil)
	svc.SetClient(client)

	assert.Equal(t, token, svc.Publish("hr/status", 1, true, []byte("x")))
	svc.Disconnect(250)
	client.AssertExpectations(t)
}
