package services

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/benmeehan/hyperate-agent/internal/constants"
	"github.com/benmeehan/hyperate-agent/internal/metrics"
	"github.com/benmeehan/hyperate-agent/internal/models"
	"github.com/benmeehan/hyperate-agent/internal/observe"
	"github.com/benmeehan/hyperate-agent/internal/protocol"
	"github.com/benmeehan/hyperate-agent/internal/utils"
	"github.com/benmeehan/hyperate-agent/pkg/clock"
	"github.com/benmeehan/hyperate-agent/pkg/identity"
	"github.com/benmeehan/hyperate-agent/pkg/websocket"
)

var (
	ErrAlreadyStarted     = errors.New("heart rate service is already running")
	ErrNotStarted         = errors.New("heart rate service is not running")
	ErrReconnectExhausted = errors.New(constants.StatusReconnectExhausted)
)

// Phase is the internal lifecycle position of the connection.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseAwaitingJoinAck
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseAwaitingJoinAck:
		return "awaiting_join_ack"
	case PhaseConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// SessionConfigProvider supplies the stored device id and the auth token.
type SessionConfigProvider interface {
	DeviceID() string
	AuthToken() string
}

// NetworkAvailability reports whether the host currently has a usable network.
type NetworkAvailability interface {
	Available() bool
}

// HeartRateConfig configures the HeartRateService.
type HeartRateConfig struct {
	ServerURL         string
	URLStyle          protocol.URLStyle
	ProtocolVersion   string
	Variant           protocol.Variant
	HeartbeatInterval time.Duration
	LeaveGrace        time.Duration
	Policy            ReconnectPolicy
	// AutoConnect connects to the provider's device id on Start.
	AutoConnect bool
}

// HeartRateService keeps a WebSocket session to the heart-rate service
// alive and publishes connection status and heart rate to subscribers.
//
// Every state transition, transport callback and timer fire runs on a
// single-worker pool, so the fields below the "loop state" marker are only
// touched from that goroutine. Connect and Disconnect only enqueue work.
type HeartRateService struct {
	config   HeartRateConfig
	codec    *protocol.Codec
	factory  websocket.Factory
	settings SessionConfigProvider
	network  NetworkAvailability
	clock    clock.Clock
	metrics  metrics.Collector
	logger   zerolog.Logger

	status    *observe.Broadcaster[models.ConnectionStatus]
	heartRate *observe.Broadcaster[*models.HeartRateSample]

	mu          sync.Mutex
	pool        *utils.WorkerPool
	graceCloses map[uint64]graceClose
	graceSeq    uint64

	phaseSnapshot    atomic.Int32
	attemptsSnapshot atomic.Int32
	deviceIDSnapshot atomic.Value

	// loop state
	phase          Phase
	session        models.SessionConfig
	sessionID      string
	transport      websocket.Transport
	transportGen   uint64
	manual         bool
	attempts       int
	reconnectTimer clock.Timer
	reconnectToken uint64
	heartbeatTimer clock.Timer
	heartbeatToken uint64
}

type graceClose struct {
	timer     clock.Timer
	transport websocket.Transport
}

// NewHeartRateService initializes a new HeartRateService.
// network may be nil, in which case the network is assumed available.
func NewHeartRateService(
	config HeartRateConfig,
	factory websocket.Factory,
	settings SessionConfigProvider,
	network NetworkAvailability,
	clk clock.Clock,
	collector metrics.Collector,
	logger zerolog.Logger,
) *HeartRateService {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = constants.DefaultHeartbeatInterval
	}
	if config.LeaveGrace <= 0 {
		config.LeaveGrace = constants.DefaultLeaveGrace
	}
	config.Policy = config.Policy.withDefaults()
	if clk == nil {
		clk = clock.New()
	}
	if collector == nil {
		collector = metrics.NewNop()
	}

	s := &HeartRateService{
		config:      config,
		codec:       protocol.NewCodec(config.Variant),
		factory:     factory,
		settings:    settings,
		network:     network,
		clock:       clk,
		metrics:     collector,
		logger:      logger,
		graceCloses: make(map[uint64]graceClose),
		status: observe.New(models.StatusDisconnected(), func(a, b models.ConnectionStatus) bool {
			return a == b
		}),
		heartRate: observe.New[*models.HeartRateSample](nil, func(a, b *models.HeartRateSample) bool {
			if a == nil || b == nil {
				return a == b
			}
			return *a == *b
		}),
	}

	onPanic := func(r any) {
		s.logger.Error().Interface("panic", r).Msg("Subscriber callback panicked")
	}
	s.status.OnPanic(onPanic)
	s.heartRate.OnPanic(onPanic)

	return s
}

// Start launches the event loop and, with AutoConnect, connects to the
// stored device id.
func (s *HeartRateService) Start() error {
	s.mu.Lock()
	if s.pool != nil {
		s.mu.Unlock()
		s.logger.Warn().Msg("HeartRateService is already running")
		return ErrAlreadyStarted
	}
	s.pool = utils.NewWorkerPool(1)
	s.mu.Unlock()

	s.logger.Info().Str("server", s.config.ServerURL).Msg("HeartRateService started successfully")

	if s.config.AutoConnect && s.settings != nil {
		if deviceID := s.settings.DeviceID(); deviceID != "" {
			s.Connect(deviceID)
		}
	}
	return nil
}

// Stop disconnects, drains the event loop and closes any transport still
// waiting out its leave grace period.
func (s *HeartRateService) Stop() error {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()
	if pool == nil {
		s.logger.Warn().Msg("HeartRateService is not running")
		return ErrNotStarted
	}

	_ = pool.Submit(s.disconnect)
	pool.Shutdown()

	s.mu.Lock()
	s.pool = nil
	pending := s.graceCloses
	s.graceCloses = make(map[uint64]graceClose)
	s.mu.Unlock()

	// A fired timer may still be waiting on s.mu; Close is idempotent.
	for _, gc := range pending {
		gc.timer.Stop()
		gc.transport.Close(constants.CloseNormal)
	}

	s.logger.Info().
		Int("status_subscribers", s.status.Len()).
		Int("heart_rate_subscribers", s.heartRate.Len()).
		Msg("HeartRateService stopped successfully")
	return nil
}

// Connect starts a new session for deviceID, replacing any current one.
func (s *HeartRateService) Connect(deviceID string) {
	if !s.submit(func() { s.connect(deviceID) }) {
		s.logger.Warn().Str("device_id", deviceID).Msg("Connect ignored, service is not running")
	}
}

// Disconnect ends the current session and suppresses reconnection.
// Safe to call in any state.
func (s *HeartRateService) Disconnect() {
	if !s.submit(s.disconnect) {
		s.logger.Warn().Msg("Disconnect ignored, service is not running")
	}
}

// Reconnect starts a fresh session for the stored device id, resetting the
// retry budget. With no stored id it reuses the current session's id.
func (s *HeartRateService) Reconnect() {
	if !s.submit(func() { s.connect(s.storedDeviceID()) }) {
		s.logger.Warn().Msg("Reconnect ignored, service is not running")
	}
}

// Toggle disconnects a connected session and connects the stored device id
// when disconnected or failed. It does nothing while connecting.
func (s *HeartRateService) Toggle() {
	ok := s.submit(func() {
		switch s.status.Current().Kind {
		case models.Connected:
			s.disconnect()
		case models.Disconnected, models.Error:
			s.connect(s.storedDeviceID())
		default:
			s.logger.Debug().Msg("Toggle ignored while connecting")
		}
	})
	if !ok {
		s.logger.Warn().Msg("Toggle ignored, service is not running")
	}
}

func (s *HeartRateService) storedDeviceID() string {
	if s.settings != nil {
		if id := s.settings.DeviceID(); id != "" {
			return id
		}
	}
	return s.session.DeviceID
}

// SubscribeStatus registers fn for status changes. fn is first called with
// the current status. The returned function unsubscribes.
func (s *HeartRateService) SubscribeStatus(fn func(models.ConnectionStatus)) func() {
	return subscribe(s, s.status, fn)
}

// SubscribeHeartRate registers fn for heart-rate changes; nil means no
// sample. fn is first called with the current sample.
func (s *HeartRateService) SubscribeHeartRate(fn func(*models.HeartRateSample)) func() {
	return subscribe(s, s.heartRate, fn)
}

func subscribe[T any](s *HeartRateService, b *observe.Broadcaster[T], fn func(T)) func() {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()

	var id string
	if pool == nil {
		// No loop is running, so nothing can publish concurrently.
		id = b.Subscribe(fn)
	} else {
		id = b.Add(fn)
		if err := pool.Submit(func() { b.Activate(id) }); err != nil {
			b.Activate(id)
		}
	}
	return func() { b.Remove(id) }
}

// Status returns the last reported connection status.
func (s *HeartRateService) Status() models.ConnectionStatus {
	return s.status.Current()
}

// HeartRate returns the latest sample, or nil.
func (s *HeartRateService) HeartRate() *models.HeartRateSample {
	return s.heartRate.Current()
}

// DeviceID returns the device id of the most recent Connect, including a
// rejected one. Subscriber callbacks see the id the published value
// belongs to.
func (s *HeartRateService) DeviceID() string {
	id, _ := s.deviceIDSnapshot.Load().(string)
	return id
}

// Phase returns the current lifecycle phase.
func (s *HeartRateService) Phase() Phase {
	return Phase(s.phaseSnapshot.Load())
}

// Attempts returns the number of reconnect attempts since the last
// successful join or manual connect/disconnect.
func (s *HeartRateService) Attempts() int {
	return int(s.attemptsSnapshot.Load())
}

// Sync blocks until all work queued before the call has been processed.
// It must not be called from a subscriber callback.
func (s *HeartRateService) Sync() {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()
	if pool != nil {
		pool.Sync()
	}
}

func (s *HeartRateService) submit(fn func()) bool {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()
	if pool == nil {
		return false
	}
	return pool.Submit(fn) == nil
}

func (s *HeartRateService) setPhase(p Phase) {
	s.phase = p
	s.phaseSnapshot.Store(int32(p))
}

func (s *HeartRateService) setAttempts(n int) {
	s.attempts = n
	s.attemptsSnapshot.Store(int32(n))
}

func (s *HeartRateService) publishStatus(status models.ConnectionStatus) {
	if s.status.Publish(status) {
		s.metrics.RecordStatus(status.Kind.String())
		s.logger.Debug().Str("status", status.String()).Msg("Connection status changed")
	}
}

// connect handles an explicit Connect.
func (s *HeartRateService) connect(deviceID string) {
	s.teardown()
	s.manual = false
	s.setAttempts(0)
	s.heartRate.Publish(nil)
	s.deviceIDSnapshot.Store(deviceID)

	if !identity.ValidateDeviceID(deviceID) {
		s.logger.Warn().Str("device_id", deviceID).Err(identity.ErrInvalidDeviceID).Msg("Rejecting connect")
		s.session = models.SessionConfig{}
		s.publishStatus(models.StatusError(constants.StatusInvalidDeviceID))
		return
	}

	var token string
	if s.settings != nil {
		token = s.settings.AuthToken()
	}
	s.session = models.SessionConfig{DeviceID: deviceID, AuthToken: token}
	s.sessionID = uuid.New().String()
	s.logger.Info().Str("device_id", deviceID).Str("session_id", s.sessionID).Msg("Starting heart rate session")

	s.open()
}

// open creates a transport for the current session and starts dialing.
func (s *HeartRateService) open() {
	url, err := protocol.BuildURL(s.config.ServerURL, s.config.URLStyle, s.session, s.config.ProtocolVersion)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build connection URL")
		s.setPhase(PhaseIdle)
		s.publishStatus(models.StatusError(err.Error()))
		return
	}

	s.transportGen++
	gen := s.transportGen
	s.transport = s.factory.New(url, &transportHandler{service: s, gen: gen})
	s.setPhase(PhaseConnecting)
	s.publishStatus(models.StatusConnecting())

	s.logger.Debug().
		Str("device_id", s.session.DeviceID).
		Uint64("transport", gen).
		Int("attempt", s.attempts).
		Msg("Opening WebSocket connection")
	s.transport.Open()
}

// disconnect handles an explicit Disconnect.
func (s *HeartRateService) disconnect() {
	s.manual = true
	s.teardown()
	s.setAttempts(0)
	s.heartRate.Publish(nil)
	s.publishStatus(models.StatusDisconnected())
}

// teardown cancels timers and detaches the current transport. A joined
// channel is left first and the socket closed after the grace delay.
func (s *HeartRateService) teardown() {
	s.cancelReconnect()
	s.stopHeartbeat()

	if s.transport != nil {
		t := s.transport
		s.transport = nil
		if s.phase == PhaseConnected {
			leave := s.codec.LeaveMessage(s.session.DeviceID, s.clock.Now().UnixMilli())
			if err := s.sendOn(t, leave); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to send leave message")
			}
			s.scheduleGraceClose(t)
		} else {
			t.Close(constants.CloseNormal)
		}
		s.logger.Info().Str("device_id", s.session.DeviceID).Msg("Heart rate session closed")
	}
	s.setPhase(PhaseIdle)
}

func (s *HeartRateService) scheduleGraceClose(t websocket.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.graceSeq++
	id := s.graceSeq
	timer := s.clock.AfterFunc(s.config.LeaveGrace, func() {
		s.mu.Lock()
		_, pending := s.graceCloses[id]
		delete(s.graceCloses, id)
		s.mu.Unlock()
		if pending {
			t.Close(constants.CloseNormal)
		}
	})
	s.graceCloses[id] = graceClose{timer: timer, transport: t}
}

func (s *HeartRateService) isCurrent(gen uint64) bool {
	return s.transport != nil && gen == s.transportGen
}

func (s *HeartRateService) send(env models.Envelope) error {
	if s.transport == nil {
		return websocket.ErrNotOpen
	}
	return s.sendOn(s.transport, env)
}

func (s *HeartRateService) sendOn(t websocket.Transport, env models.Envelope) error {
	text, err := s.codec.Encode(env)
	if err != nil {
		return err
	}
	if err := t.Send(text); err != nil {
		return err
	}
	s.metrics.RecordFrameSent(env.Event)
	return nil
}

func (s *HeartRateService) onOpen(gen uint64) {
	if !s.isCurrent(gen) || s.phase != PhaseConnecting {
		return
	}

	if err := s.send(s.codec.JoinMessage(s.session.DeviceID)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to send join message")
		s.fail(models.StatusError(err.Error()), "send")
		return
	}
	s.setPhase(PhaseAwaitingJoinAck)
	s.logger.Debug().Str("topic", s.codec.DeviceTopic(s.session.DeviceID)).Msg("Join sent")
}

func (s *HeartRateService) onMessage(gen uint64, text string) {
	if !s.isCurrent(gen) {
		s.logger.Debug().Uint64("transport", gen).Msg("Dropping frame from superseded transport")
		return
	}

	env, err := s.codec.Decode(text)
	if err != nil {
		s.metrics.RecordDecodeError()
		s.logger.Warn().Err(err).Msg("Failed to decode frame")
		return
	}
	s.metrics.RecordFrameReceived(env.Event)

	deviceTopic := s.codec.DeviceTopic(s.session.DeviceID)

	switch {
	case s.codec.IsReply(env):
		if s.phase != PhaseAwaitingJoinAck || !s.codec.IsJoinAck(env, s.session.DeviceID) {
			return
		}
		if reason, rejected := s.codec.ReplyError(env); rejected {
			s.logger.Error().Str("reason", reason).Msg("Join rejected")
			s.fail(models.StatusError(reason), "join_rejected")
			return
		}
		s.joined()

	case s.codec.IsHeartRateUpdate(env):
		if s.phase != PhaseAwaitingJoinAck && s.phase != PhaseConnected {
			return
		}
		bpm, ok := s.codec.ExtractBPM(env)
		if !ok {
			s.logger.Warn().Str("event", env.Event).Msg("Heart rate update without a valid bpm")
			return
		}
		s.heartRate.Publish(&models.HeartRateSample{BPM: bpm, ObservedAt: s.clock.Now()})
		s.metrics.RecordHeartRate(bpm)

	case s.codec.IsChannelError(env) && env.Topic == deviceTopic:
		reason, _ := env.Payload["reason"].(string)
		if reason == "" {
			reason = constants.StatusUnknownError
		}
		s.fail(models.StatusError(reason), "channel_error")

	case s.codec.IsChannelClose(env) && env.Topic == deviceTopic:
		s.logger.Warn().Str("topic", deviceTopic).Msg("Channel closed by server")
		s.fail(models.StatusDisconnected(), "channel_close")

	default:
		s.logger.Debug().Str("event", env.Event).Str("topic", env.Topic).Msg("Ignoring frame")
	}
}

func (s *HeartRateService) joined() {
	s.cancelReconnect()
	s.setAttempts(0)
	s.setPhase(PhaseConnected)
	s.publishStatus(models.StatusConnected())
	s.startHeartbeat()
	s.logger.Info().Str("device_id", s.session.DeviceID).Msg("Joined heart rate channel")
}

func (s *HeartRateService) onClose(gen uint64, code int, reason string) {
	if !s.isCurrent(gen) {
		return
	}
	s.logger.Warn().Int("code", code).Str("reason", reason).Msg("WebSocket closed")

	if code == constants.CloseNormal {
		s.fail(models.StatusDisconnected(), "close")
		return
	}
	msg := fmt.Sprintf("connection closed (code %d)", code)
	if reason != "" {
		msg += ": " + reason
	}
	s.fail(models.StatusError(msg), "close")
}

func (s *HeartRateService) onError(gen uint64, err error) {
	if !s.isCurrent(gen) {
		return
	}
	s.logger.Error().Err(err).Msg("WebSocket error")
	s.fail(models.StatusError(err.Error()), "error")
}

// fail handles an unexpected loss of the session.
func (s *HeartRateService) fail(status models.ConnectionStatus, reason string) {
	s.stopHeartbeat()
	if s.transport != nil {
		t := s.transport
		s.transport = nil
		t.Close(constants.CloseNormal)
	}
	s.setPhase(PhaseIdle)
	s.metrics.RecordTransportFailure(reason)

	if s.manual {
		s.publishStatus(models.StatusDisconnected())
		return
	}
	s.publishStatus(status)
	s.scheduleReconnect()
}

func (s *HeartRateService) scheduleReconnect() {
	if s.config.Policy.Exhausted(s.attempts) {
		s.logger.Error().Int("attempts", s.attempts).Err(ErrReconnectExhausted).Msg("Giving up on reconnection")
		s.metrics.RecordReconnectExhausted()
		s.publishStatus(models.StatusError(constants.StatusReconnectExhausted))
		return
	}

	s.setAttempts(s.attempts + 1)
	delay := s.config.Policy.Delay(s.attempts)
	s.publishStatus(models.StatusConnecting())
	s.metrics.RecordReconnectScheduled(s.attempts, delay)

	s.reconnectToken++
	token := s.reconnectToken
	s.reconnectTimer = s.clock.AfterFunc(delay, func() {
		s.submit(func() { s.onReconnectTimer(token) })
	})

	s.logger.Info().
		Int("attempt", s.attempts).
		Dur("delay", delay).
		Str("device_id", s.session.DeviceID).
		Msg("Reconnect scheduled")
}

func (s *HeartRateService) onReconnectTimer(token uint64) {
	if token != s.reconnectToken || s.reconnectTimer == nil || s.manual {
		return
	}
	s.reconnectTimer = nil

	if s.network != nil && !s.network.Available() {
		s.logger.Warn().Int("attempt", s.attempts).Msg("Network unavailable, skipping reconnect attempt")
		s.publishStatus(models.StatusError(constants.StatusNetworkUnavailable))
		s.scheduleReconnect()
		return
	}
	s.open()
}

func (s *HeartRateService) cancelReconnect() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.reconnectToken++
}

func (s *HeartRateService) startHeartbeat() {
	s.stopHeartbeat()
	token := s.heartbeatToken
	s.heartbeatTimer = s.clock.AfterFunc(s.config.HeartbeatInterval, func() {
		s.submit(func() { s.onHeartbeat(token) })
	})
}

func (s *HeartRateService) stopHeartbeat() {
	if s.heartbeatTimer != nil {
		s.heartbeatTimer.Stop()
		s.heartbeatTimer = nil
	}
	s.heartbeatToken++
}

func (s *HeartRateService) onHeartbeat(token uint64) {
	if token != s.heartbeatToken || s.heartbeatTimer == nil || s.phase != PhaseConnected {
		return
	}
	s.heartbeatTimer = nil

	if err := s.send(s.codec.HeartbeatMessage(s.clock.Now().UnixMilli())); err != nil {
		s.logger.Error().Err(err).Msg("Failed to send heartbeat")
		s.fail(models.StatusError(err.Error()), "heartbeat")
		return
	}
	s.logger.Debug().Msg("Heartbeat sent")
	s.startHeartbeat()
}

// transportHandler forwards one transport's callbacks onto the event loop,
// tagged with the transport's generation.
type transportHandler struct {
	service *HeartRateService
	gen     uint64
}

func (h *transportHandler) OnOpen() {
	h.service.submit(func() { h.service.onOpen(h.gen) })
}

func (h *transportHandler) OnMessage(text string) {
	h.service.submit(func() { h.service.onMessage(h.gen, text) })
}

func (h *transportHandler) OnClose(code int, reason string) {
	h.service.submit(func() { h.service.onClose(h.gen, code, reason) })
}

func (h *transportHandler) OnError(err error) {
	h.service.submit(func() { h.service.onError(h.gen, err) })
}
