package service_registry_test

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/hyperate-agent/internal/service_registry"
	"github.com/benmeehan/hyperate-agent/internal/utils"
	"github.com/benmeehan/hyperate-agent/tests/mocks"
)

type recordingService struct {
	name     string
	log      *[]string
	startErr error
	stopErr  error
}

func (s *recordingService) Start() error {
	*s.log = append(*s.log, "start "+s.name)
	return s.startErr
}

func (s *recordingService) Stop() error {
	*s.log = append(*s.log, "stop "+s.name)
	return s.stopErr
}

func TestServiceRegistry_StartStopOrder(t *testing.T) {
	var log []string
	sr := service_registry.NewServiceRegistry(nil, zerolog.Nop())
	sr.RegisterService("a", &recordingService{name: "a", log: &log})
	sr.RegisterService("b", &recordingService{name: "b", log: &log})
	sr.RegisterService("a", &recordingService{name: "dup", log: &log})

	require.NoError(t, sr.StartServices())
	require.NoError(t, sr.StopServices())

	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
	assert.Equal(t, []string{"a", "b"}, sr.Names())
}

func TestServiceRegistry_StartFailureRollsBack(t *testing.T) {
	var log []string
	sr := service_registry.NewServiceRegistry(nil, zerolog.Nop())
	sr.RegisterService("a", &recordingService{name: "a", log: &log})
	sr.RegisterService("b", &recordingService{name: "b", log: &log, startErr: errors.New("boom")})
	sr.RegisterService("c", &recordingService{name: "c", log: &log})

	err := sr.StartServices()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start b")
	assert.Equal(t, []string{"start a", "start b", "stop a"}, log)
}

func TestServiceRegistry_StopJoinsErrors(t *testing.T) {
	var log []string
	first := errors.New("first")
	second := errors.New("second")
	sr := service_registry.NewServiceRegistry(nil, zerolog.Nop())
	sr.RegisterService("a", &recordingService{name: "a", log: &log, stopErr: first})
	sr.RegisterService("b", &recordingService{name: "b", log: &log, stopErr: second})

	err := sr.StopServices()
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
}

func TestRegisterServices(t *testing.T) {
	cfg := utils.DefaultConfig()

	sr := service_registry.NewServiceRegistry(nil, zerolog.Nop())
	heartRate, err := sr.RegisterServices(cfg, service_registry.Dependencies{})
	require.NoError(t, err)
	require.NotNil(t, heartRate)
	assert.Equal(t, []string{"heartrate"}, sr.Names())
}

func TestRegisterServices_RelayEnabled(t *testing.T) {
	cfg := utils.DefaultConfig()
	cfg.Services.Relay.Enabled = true

	sr := service_registry.NewServiceRegistry(new(mocks.MockMQTTClient), zerolog.Nop())
	_, err := sr.RegisterServices(cfg, service_registry.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, []string{"heartrate", "relay"}, sr.Names())
}

func TestRegisterServices_RelayWithoutClient(t *testing.T) {
	cfg := utils.DefaultConfig()
	cfg.Services.Relay.Enabled = true

	sr := service_registry.NewServiceRegistry(nil, zerolog.Nop())
	_, err := sr.RegisterServices(cfg, service_registry.Dependencies{})
	assert.Error(t, err)
}
