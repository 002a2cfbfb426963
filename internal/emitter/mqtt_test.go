package emitter

import (
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/psg-sentry/sentry/internal/config"
	"github.com/psg-sentry/sentry/pkg/core"
	"github.com/psg-sentry/sentry/pkg/streaming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timeout {
		close(ch)
	}
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu          sync.Mutex
	published   []published
	handlers    map[string]mqtt.MessageHandler
	publishErr  error
	connected   bool
	disconnects int
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler), connected: true}
}

func (c *fakeClient) IsConnected() bool      { return c.connected }
func (c *fakeClient) IsConnectionOpen() bool { return c.connected }
func (c *fakeClient) Connect() mqtt.Token    { return &fakeToken{} }
func (c *fakeClient) Disconnect(uint) {
	c.disconnects++
	c.connected = false
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return &fakeToken{err: c.publishErr}
	}
	c.published = append(c.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
	return &fakeToken{}
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic := range filters {
		c.Subscribe(topic, 0, callback)
	}
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token             { return &fakeToken{} }
func (c *fakeClient) AddRoute(topic string, callback mqtt.MessageHandler) {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled:        true,
		Broker:         "tcp://localhost:1883",
		ClientID:       "sentry-test",
		TopicPrefix:    "sentry",
		KeypointsTopic: "sentry/keypoints",
		FramesTopic:    "sentry/frames",
		QoS:            1,
	}
}

func connectedEmitter(t *testing.T) (*MQTTEmitter, *fakeClient) {
	t.Helper()
	e := NewMQTTEmitter(testConfig(), nil)
	c := newFakeClient()
	e.Client = c
	e.setConnected(true)
	return e, c
}

func TestPublish_NotConnected(t *testing.T) {
	e := NewMQTTEmitter(testConfig(), nil)
	err := e.PublishStatus(core.TurretStatus{Pan: 1})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, uint64(1), e.Stats().Errors)
}

func TestPublishStatus(t *testing.T) {
	e, c := connectedEmitter(t)

	require.NoError(t, e.PublishStatus(core.TurretStatus{Time: time.Now(), Pan: 90, Tilt: 45, Firing: true}))
	require.Len(t, c.published, 1)
	assert.Equal(t, "sentry/turret_status", c.published[0].topic)
	assert.Equal(t, byte(1), c.published[0].qos)

	ev, err := streaming.DecodeEvent(c.published[0].payload)
	require.NoError(t, err)
	assert.Equal(t, core.TurretEvent{Pan: 90, Tilt: 45, Firing: true}, ev)

	stats := e.Stats()
	assert.True(t, stats.Connected)
	assert.Equal(t, uint64(1), stats.Published["sentry/turret_status"])
}

func TestPublishEngagementAndControls(t *testing.T) {
	e, c := connectedEmitter(t)

	require.NoError(t, e.PublishEngagement(core.Engagement{Colour: core.Red, Pan: 10}))
	require.NoError(t, e.PublishControls(core.DefaultControls()))

	require.Len(t, c.published, 2)
	assert.Equal(t, "sentry/engagement", c.published[0].topic)
	assert.Contains(t, string(c.published[0].payload), `"colour":"RED"`)
	assert.Equal(t, "sentry/controls", c.published[1].topic)
}

func TestPublish_BrokerError(t *testing.T) {
	e, c := connectedEmitter(t)
	c.publishErr = errors.New("boom")

	err := e.PublishStatus(core.TurretStatus{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish failed")
	assert.Equal(t, uint64(1), e.Stats().Errors)
}

func TestSubscribeKeypoints(t *testing.T) {
	e, c := connectedEmitter(t)

	var got [][]byte
	require.NoError(t, e.SubscribeKeypoints(func(b []byte) error {
		if string(b) == "bad" {
			return errors.New("bad payload")
		}
		got = append(got, b)
		return nil
	}))

	h, ok := c.handlers["sentry/keypoints"]
	require.True(t, ok)

	h(c, &fakeMessage{topic: "sentry/keypoints", payload: []byte(`{"keypoints":[]}`)})
	h(c, &fakeMessage{topic: "sentry/keypoints", payload: []byte("bad")})

	assert.Len(t, got, 1)
	assert.Equal(t, uint64(1), e.Stats().Errors)
}

func TestSubscribeKeypoints_NoClient(t *testing.T) {
	e := NewMQTTEmitter(testConfig(), nil)
	assert.ErrorIs(t, e.SubscribeKeypoints(func([]byte) error { return nil }), ErrNotConnected)
}

func TestSubscribeFrames(t *testing.T) {
	e, c := connectedEmitter(t)

	frames := 0
	require.NoError(t, e.SubscribeFrames(func(b []byte) error {
		frames++
		return nil
	}))

	h, ok := c.handlers["sentry/frames"]
	require.True(t, ok)
	h(c, &fakeMessage{topic: "sentry/frames", payload: []byte{0xff, 0xd8}})

	assert.Equal(t, 1, frames)
	assert.Zero(t, e.Stats().Errors)
}

func TestDisconnect(t *testing.T) {
	e, c := connectedEmitter(t)
	require.NoError(t, e.Disconnect())
	assert.Equal(t, 1, c.disconnects)
	assert.False(t, e.Stats().Connected)

	// already disconnected
	require.NoError(t, e.Disconnect())
	assert.Equal(t, 1, c.disconnects)
}
