package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/benmeehan/hyperate-agent/internal/constants"
	"github.com/benmeehan/hyperate-agent/internal/metrics"
	"github.com/benmeehan/hyperate-agent/internal/models"
	"github.com/benmeehan/hyperate-agent/internal/service_registry"
	"github.com/benmeehan/hyperate-agent/internal/utils"
	"github.com/benmeehan/hyperate-agent/pkg/clock"
	"github.com/benmeehan/hyperate-agent/pkg/file"
	"github.com/benmeehan/hyperate-agent/pkg/identity"
	"github.com/benmeehan/hyperate-agent/pkg/mqtt"
	"github.com/benmeehan/hyperate-agent/pkg/netmon"
	"github.com/benmeehan/hyperate-agent/pkg/websocket"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	deviceID := flag.String("device", "", "device id to connect to, saved to the settings file")
	flag.Parse()

	// Bootstrap logger until the configured level is known
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	fileClient := file.NewFileService()

	// Load configuration from file, falling back to defaults when absent
	config := utils.DefaultConfig()
	exists, err := fileClient.IsFileExists(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("Failed to stat configuration")
	}
	if exists {
		config, err = utils.LoadConfig(*configPath, fileClient)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}
	} else {
		log.Warn().Str("path", *configPath).Msg("Configuration file not found, using defaults")
	}

	log = newLogger(config)

	// Load persisted device id and token
	settings := identity.NewSettingsStore(config.Session.SettingsFile, fileClient, config.Session.AuthToken)
	if err := settings.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load settings")
	}
	initialID := *deviceID
	if initialID == "" && settings.DeviceID() == "" {
		initialID = config.Session.DeviceID
	}
	if initialID != "" {
		if _, err := settings.UpdateDeviceID(initialID); err != nil {
			log.Fatal().Err(err).Str("device_id", initialID).Msg("Failed to save device id")
		}
	}
	if settings.AuthToken() == "" {
		log.Warn().Msgf("No auth token configured, set session.auth_token or %s", identity.AuthTokenEnv)
	}

	// Metrics
	var collector metrics.Collector = metrics.NewNop()
	var metricsServer *http.Server
	if config.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = metrics.NewPrometheus(reg, config.Metrics.Namespace)
		metricsServer = serveMetrics(config, reg, log)
	}

	// Initialize the shared MQTT connection when relaying
	var mqttClient mqtt.MQTTClient
	if config.Services.Relay.Enabled {
		// Generate a unique MQTT Client ID by appending a UUID
		config.MQTT.ClientID = config.MQTT.ClientID + "-" + uuid.New().String()
		log.Info().Str("client_id", config.MQTT.ClientID).Msg("Using MQTT Client ID")

		mqttService := mqtt.NewMqttService(fileClient)
		err = mqttService.Initialize(mqtt.Options{
			Broker:         config.MQTT.Broker,
			ClientID:       config.MQTT.ClientID,
			Username:       config.MQTT.Username,
			Password:       config.MQTT.Password,
			CACertPath:     config.MQTT.CACertificate,
			ConnectTimeout: config.MQTT.ConnectTimeout,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}
		mqttClient = mqttService
	}

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(mqttClient, log)

	heartRate, err := serviceRegistry.RegisterServices(config, service_registry.Dependencies{
		TransportFactory: websocket.NewGorillaFactory(config.Server.HandshakeTimeout, log.With().Str("component", "websocket").Logger()),
		Settings:         settings,
		Network:          netmon.NewMonitor(log.With().Str("component", "netmon").Logger()),
		Clock:            clock.New(),
		Metrics:          collector,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register services")
	}

	heartRate.SubscribeStatus(func(s models.ConnectionStatus) {
		log.Info().Str("status", s.String()).Msg("Connection status")
	})
	heartRate.SubscribeHeartRate(func(hr *models.HeartRateSample) {
		if hr != nil {
			log.Info().Int("bpm", hr.BPM).Msg("Heart rate")
		}
	})

	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Some services failed to stop")
	}
	if mqttClient != nil {
		mqttClient.Disconnect(constants.DefaultMQTTQuiesce)
	}
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to shut down metrics server")
		}
	}
}

func newLogger(config *utils.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(config.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if config.Logging.Console {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func serveMetrics(config *utils.Config, reg *prometheus.Registry, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(config.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{
		Addr:              config.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("address", config.Metrics.Address).Str("path", config.Metrics.Path).Msg("Serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return server
}
