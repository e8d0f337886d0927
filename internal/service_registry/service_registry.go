package service_registry

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/benmeehan/hyperate-agent/internal/metrics"
	"github.com/benmeehan/hyperate-agent/internal/protocol"
	"github.com/benmeehan/hyperate-agent/internal/registry"
	"github.com/benmeehan/hyperate-agent/internal/services"
	"github.com/benmeehan/hyperate-agent/internal/utils"
	"github.com/benmeehan/hyperate-agent/pkg/clock"
	"github.com/benmeehan/hyperate-agent/pkg/identity"
	"github.com/benmeehan/hyperate-agent/pkg/mqtt"
	"github.com/benmeehan/hyperate-agent/pkg/websocket"
)

// Dependencies are the collaborators shared by the registered services.
type Dependencies struct {
	TransportFactory websocket.Factory
	Settings         identity.SettingsStoreInterface
	Network          services.NetworkAvailability
	Clock            clock.Clock
	Metrics          metrics.Collector
}

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	mqttClient  mqtt.MQTTClient
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry. mqttClient may be
// nil when the relay is disabled.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]registry.Service),
		mqttClient: mqttClient,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// Names returns the registered service names in start order.
func (sr *ServiceRegistry) Names() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices initializes and registers enabled services based on
// configuration. The heart rate service is always registered and returned.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, deps Dependencies) (*services.HeartRateService, error) {
	variant, err := config.ProtocolVariant()
	if err != nil {
		return nil, err
	}

	heartRate := services.NewHeartRateService(
		services.HeartRateConfig{
			ServerURL:         config.Server.URL,
			URLStyle:          protocol.URLStyle(config.Server.URLStyle),
			ProtocolVersion:   config.Server.ProtocolVersion,
			Variant:           variant,
			HeartbeatInterval: config.Connection.HeartbeatInterval,
			LeaveGrace:        config.Connection.LeaveGrace,
			Policy: services.ReconnectPolicy{
				MaxAttempts: config.Connection.MaxReconnectAttempts,
				BaseDelay:   config.Connection.BaseDelay,
				MaxDelay:    config.Connection.MaxDelay,
			},
			AutoConnect: config.Session.AutoConnect,
		},
		deps.TransportFactory,
		deps.Settings,
		deps.Network,
		deps.Clock,
		deps.Metrics,
		sr.Logger.With().Str("service", "heartrate").Logger(),
	)

	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (registry.Service, error)
	}{
		{
			name:    "heartrate",
			enabled: true,
			constructor: func() (registry.Service, error) {
				return heartRate, nil
			},
		},
		{
			name:    "relay",
			enabled: config.Services.Relay.Enabled,
			constructor: func() (registry.Service, error) {
				if sr.mqttClient == nil {
					return nil, errors.New("relay requires an MQTT client")
				}
				var controller services.SessionController
				if config.Services.Relay.Control {
					controller = heartRate
				}
				return services.NewRelayService(
					config.Services.Relay.TopicPrefix,
					config.Services.Relay.QOS,
					config.Services.Relay.Retain,
					heartRate,
					controller,
					deps.Settings,
					sr.mqttClient,
					sr.Logger.With().Str("service", "relay").Logger(),
				), nil
			},
		},
	}

	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return nil, err
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return heartRate, nil
}
