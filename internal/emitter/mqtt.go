// Package emitter publishes turret telemetry to an MQTT broker and relays
// detector keypoints arriving on a subscribed topic.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/psg-sentry/sentry/internal/config"
	"github.com/psg-sentry/sentry/pkg/core"
	"github.com/psg-sentry/sentry/pkg/streaming"
)

// ErrNotConnected is returned by publishes made while the broker is away.
var ErrNotConnected = errors.New("mqtt not connected")

// MQTTEmitter publishes status envelopes to <prefix>/<type>.
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	Client mqtt.Client
	logger *slog.Logger

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg config.MQTTConfig, logger *slog.Logger) *MQTTEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTEmitter{
		cfg:       cfg,
		logger:    logger.With("component", "mqtt"),
		published: make(map[string]uint64),
	}
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.Broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker)
	}

	e.Client = mqtt.NewClient(opts)

	e.logger.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Topic returns the topic a message type is published under.
func (e *MQTTEmitter) Topic(typ string) string {
	return e.cfg.TopicPrefix + "/" + typ
}

// PublishStatus publishes a turret status sample.
func (e *MQTTEmitter) PublishStatus(s core.TurretStatus) error {
	return e.Publish(streaming.TypeStatus, s.Event())
}

// PublishEngagement publishes an engagement.
func (e *MQTTEmitter) PublishEngagement(g core.Engagement) error {
	return e.Publish(streaming.TypeEngagement, g)
}

// PublishControls publishes an operator policy change.
func (e *MQTTEmitter) PublishControls(c core.ControlsConfig) error {
	return e.Publish(streaming.TypeControls, c)
}

// Publish wraps v in an envelope and publishes it.
func (e *MQTTEmitter) Publish(typ string, v any) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	payload, err := streaming.Encode(typ, v)
	if err != nil {
		e.countError()
		return err
	}

	topic := e.Topic(typ)
	token := e.Client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	e.logger.Debug("message published", "topic", topic, "size", len(payload))
	return nil
}

// SubscribeKeypoints relays messages on the keypoints topic to handle.
// Handler errors are logged; the message is dropped.
func (e *MQTTEmitter) SubscribeKeypoints(handle func([]byte) error) error {
	return e.subscribe("keypoint", e.cfg.KeypointsTopic, handle)
}

// SubscribeFrames relays encoded camera frames on the frames topic to handle.
func (e *MQTTEmitter) SubscribeFrames(handle func([]byte) error) error {
	return e.subscribe("frame", e.cfg.FramesTopic, handle)
}

func (e *MQTTEmitter) subscribe(kind, topic string, handle func([]byte) error) error {
	if e.Client == nil {
		return ErrNotConnected
	}

	e.logger.Info("subscribing", "kind", kind, "topic", topic, "qos", e.cfg.QoS)

	token := e.Client.Subscribe(topic, e.cfg.QoS, func(c mqtt.Client, msg mqtt.Message) {
		if err := handle(msg.Payload()); err != nil {
			e.countError()
			e.logger.Warn("rejected message", "kind", kind, "topic", msg.Topic(), "error", err)
		}
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("%s subscription timeout", kind)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s subscription failed: %w", kind, err)
	}
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		e.logger.Info("mqtt disconnected")
	}

	e.setConnected(false)
	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64)
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
