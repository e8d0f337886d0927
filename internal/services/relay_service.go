package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/benmeehan/hyperate-agent/internal/constants"
	"github.com/benmeehan/hyperate-agent/internal/models"
	"github.com/benmeehan/hyperate-agent/pkg/identity"
	"github.com/benmeehan/hyperate-agent/pkg/mqtt"
)

// HeartRateSource is the observer side of the HeartRateService. DeviceID
// is read from inside the callbacks and names the session the value
// belongs to.
type HeartRateSource interface {
	SubscribeStatus(fn func(models.ConnectionStatus)) func()
	SubscribeHeartRate(fn func(*models.HeartRateSample)) func()
	DeviceID() string
}

// SessionController drives the HeartRateService from the control topic.
type SessionController interface {
	Connect(deviceID string)
	Disconnect()
	Reconnect()
	Toggle()
}

type relayEvent struct {
	deviceID  string
	status    *models.ConnectionStatus
	heartRate *models.HeartRateSample
	isRate    bool
	at        time.Time
}

// RelayService mirrors connection status and heart rate to MQTT and accepts
// connect/disconnect commands on a control topic.
type RelayService struct {
	TopicPrefix string
	QOS         int
	Retain      bool
	BufferSize  int

	source     HeartRateSource
	controller SessionController
	settings   identity.SettingsStoreInterface
	mqttClient mqtt.MQTTClient
	logger     zerolog.Logger

	mu                sync.Mutex
	ctx               context.Context
	cancel            context.CancelFunc
	wg                sync.WaitGroup
	unsubscribeStatus func()
	unsubscribeRate   func()
}

// NewRelayService initializes a new RelayService. controller may be nil to
// disable the control topic.
func NewRelayService(topicPrefix string, qos int, retain bool, source HeartRateSource, controller SessionController,
	settings identity.SettingsStoreInterface, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *RelayService {
	if topicPrefix == "" {
		topicPrefix = constants.DefaultRelayTopicPrefix
	}

	return &RelayService{
		TopicPrefix: strings.TrimRight(topicPrefix, "/"),
		QOS:         qos,
		Retain:      retain,
		BufferSize:  constants.DefaultRelayBufferSize,
		source:      source,
		controller:  controller,
		settings:    settings,
		mqttClient:  mqttClient,
		logger:      logger,
	}
}

func (r *RelayService) topic(suffix string) string {
	return r.TopicPrefix + "/" + suffix
}

// Start subscribes to the control topic and starts relaying.
func (r *RelayService) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		r.logger.Warn().Msg("RelayService is already running")
		return errors.New("relay service is already running")
	}

	if r.controller != nil {
		topic := r.topic(constants.RelayControlSuffix)
		token := r.mqttClient.Subscribe(topic, byte(r.QOS), r.HandleControl)
		token.Wait()
		if err := token.Error(); err != nil {
			r.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
			return err
		}
		r.logger.Info().Str("topic", topic).Msg("Successfully subscribed to MQTT topic")
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan relayEvent, r.BufferSize)
	r.ctx, r.cancel = ctx, cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, events)
	}()

	// Callbacks run on the HeartRateService loop and must not block it.
	enqueue := func(ev relayEvent) {
		select {
		case <-ctx.Done():
		case events <- ev:
		default:
			r.logger.Warn().Msg("Relay buffer full, dropping event")
		}
	}
	r.unsubscribeStatus = r.source.SubscribeStatus(func(s models.ConnectionStatus) {
		enqueue(relayEvent{deviceID: r.source.DeviceID(), status: &s, at: time.Now()})
	})
	r.unsubscribeRate = r.source.SubscribeHeartRate(func(hr *models.HeartRateSample) {
		enqueue(relayEvent{deviceID: r.source.DeviceID(), heartRate: hr, isRate: true, at: time.Now()})
	})

	r.logger.Info().Str("prefix", r.TopicPrefix).Msg("RelayService started successfully")
	return nil
}

// Stop unsubscribes from the source and the control topic and waits for
// in-flight publishes.
func (r *RelayService) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx == nil {
		r.logger.Warn().Msg("RelayService is not running")
		return errors.New("relay service is not running")
	}

	r.unsubscribeStatus()
	r.unsubscribeRate()
	r.cancel()
	r.wg.Wait()

	if r.controller != nil {
		token := r.mqttClient.Unsubscribe(r.topic(constants.RelayControlSuffix))
		token.Wait()
		if err := token.Error(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to unsubscribe from control topic")
		}
	}

	r.ctx = nil
	r.cancel = nil

	r.logger.Info().Msg("RelayService stopped successfully")
	return nil
}

func (r *RelayService) run(ctx context.Context, events <-chan relayEvent) {
	for {
		select {
		case ev := <-events:
			r.publish(ev)
		case <-ctx.Done():
			r.logger.Info().Msg("RelayService stopping gracefully")
			return
		}
	}
}

func (r *RelayService) publish(ev relayEvent) {
	var (
		topic   string
		message any
	)
	if ev.isRate {
		topic = r.topic(constants.RelayHeartRateSuffix)
		msg := models.RelayHeartRate{DeviceID: ev.deviceID, ObservedAt: ev.at}
		if ev.heartRate != nil {
			bpm := ev.heartRate.BPM
			msg.BPM = &bpm
			msg.ObservedAt = ev.heartRate.ObservedAt
		}
		message = msg
	} else {
		topic = r.topic(constants.RelayStatusSuffix)
		message = models.RelayStatus{
			DeviceID:  ev.deviceID,
			Status:    ev.status.Kind.String(),
			Message:   ev.status.Message,
			Timestamp: ev.at,
		}
	}

	payload, err := json.Marshal(message)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to serialize relay message")
		return
	}

	token := r.mqttClient.Publish(topic, byte(r.QOS), r.Retain, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		r.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish relay message")
		return
	}
	r.logger.Debug().Str("topic", topic).Msg("Relay message published")
}

// HandleControl processes a connect/disconnect command.
func (r *RelayService) HandleControl(client MQTT.Client, msg MQTT.Message) {
	var cmd models.ControlCommand
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		r.logger.Error().Err(err).Msg("Failed to parse control command")
		return
	}

	switch cmd.Action {
	case constants.ControlActionConnect:
		deviceID := strings.TrimSpace(cmd.DeviceID)
		if r.settings != nil {
			stored, err := r.settings.UpdateDeviceID(deviceID)
			if err != nil {
				r.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Device id not saved")
			} else {
				deviceID = stored
			}
		}
		r.logger.Info().Str("device_id", deviceID).Msg("Control: connect")
		r.controller.Connect(deviceID)
	case constants.ControlActionDisconnect:
		r.logger.Info().Msg("Control: disconnect")
		r.controller.Disconnect()
	case constants.ControlActionReconnect:
		r.logger.Info().Msg("Control: reconnect")
		r.controller.Reconnect()
	case constants.ControlActionToggle:
		r.logger.Info().Msg("Control: toggle")
		r.controller.Toggle()
	default:
		r.logger.Warn().Str("action", cmd.Action).Msg("Unknown control action")
	}
}
