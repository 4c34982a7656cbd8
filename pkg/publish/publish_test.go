package publish

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/thruststand/pkg/config"
	"github.com/itohio/thruststand/pkg/telemetry"
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

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	connectErr   error
	subscribeErr error
	publishErr   error
	timeout      bool
	published    []published
	handlers     map[string]mqtt.MessageHandler
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeClient) Connect() mqtt.Token {
	return &fakeToken{err: c.connectErr, timeout: c.timeout}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr == nil {
		c.published = append(c.published, published{topic: topic, payload: payload.([]byte)})
	}
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr == nil {
		c.handlers[topic] = cb
	}
	return &fakeToken{err: c.subscribeErr}
}

func (c *fakeClient) deliver(topic, payload string) {
	c.mu.Lock()
	cb := c.handlers[topic]
	c.mu.Unlock()
	if cb != nil {
		cb(nil, &fakeMessage{topic: topic, payload: []byte(payload)})
	}
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *fakeSender) Send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, cmd)
	return s.err
}

func TestClientID(t *testing.T) {
	assert.Equal(t, "bench-1", ClientID(config.MQTTConfig{ClientID: "bench-1"}))

	id := ClientID(config.MQTTConfig{})
	assert.True(t, strings.HasPrefix(id, "standmon-"))
	assert.Len(t, id, len("standmon-")+36)
	assert.NotEqual(t, id, ClientID(config.MQTTConfig{}))
}

func TestNew_NoBroker(t *testing.T) {
	_, err := New(config.MQTTConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoBroker)
}

func TestNew(t *testing.T) {
	p, err := New(config.MQTTConfig{Broker: "localhost:1883", TopicPrefix: "bench/"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "bench/telemetry", p.Topic(TelemetryTopic))
}

func TestTopic(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "thruststand", want: "thruststand/command"},
		{prefix: "lab/stand1/", want: "lab/stand1/command"},
		{prefix: "", want: "command"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			p := NewWithClient(newFakeClient(), tt.prefix, nil)
			assert.Equal(t, tt.want, p.Topic(CommandTopic))
		})
	}
}

func TestPublish(t *testing.T) {
	client := newFakeClient()
	p := NewWithClient(client, "thruststand", nil)

	rec := telemetry.Record{
		Time: 1.5, Thrust: 845.13, RPM: 9000, Temperature: 31.2, TemperatureValid: true,
		Voltage: 15.8, Current: 12.4, Power: 195.92, Throttle: 60,
	}
	require.NoError(t, p.Publish(rec))

	require.Len(t, client.published, 1)
	assert.Equal(t, "thruststand/telemetry", client.published[0].topic)

	var got map[string]any
	require.NoError(t, json.Unmarshal(client.published[0].payload, &got))
	assert.Equal(t, 845.13, got["thrust"])
	assert.Equal(t, 31.2, got["temperature"])
	assert.Equal(t, 60.0, got["throttle"])
}

func TestPublish_InvalidTemperatureOmitted(t *testing.T) {
	client := newFakeClient()
	p := NewWithClient(client, "thruststand", nil)

	require.NoError(t, p.Publish(telemetry.Record{Time: 1}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(client.published[0].payload, &got))
	assert.NotContains(t, got, "temperature")
}

func TestPublish_Error(t *testing.T) {
	client := newFakeClient()
	client.publishErr = errors.New("not connected")
	p := NewWithClient(client, "thruststand", nil)

	assert.EqualError(t, p.Publish(telemetry.Record{}), "not connected")
}

func TestConnect(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(c *fakeClient)
		wantErr error
	}{
		{name: "ok", setup: func(*fakeClient) {}},
		{name: "connect error", setup: func(c *fakeClient) { c.connectErr = errors.New("refused") }},
		{name: "subscribe error", setup: func(c *fakeClient) { c.subscribeErr = errors.New("denied") }},
		{name: "timeout", setup: func(c *fakeClient) { c.timeout = true }, wantErr: ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			tt.setup(client)
			p := NewWithClient(client, "thruststand", nil)

			err := p.Connect(&fakeSender{})
			switch {
			case tt.name == "ok":
				require.NoError(t, err)
				assert.Contains(t, client.handlers, "thruststand/command")
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				assert.Error(t, err)
			}
		})
	}
}

func TestCommandsForwarded(t *testing.T) {
	client := newFakeClient()
	sender := &fakeSender{}
	p := NewWithClient(client, "thruststand", nil)
	require.NoError(t, p.Connect(sender))

	client.deliver("thruststand/command", " procedure\n")
	client.deliver("thruststand/command", "")
	client.deliver("thruststand/command", "40")

	assert.Equal(t, []string{"procedure", "40"}, sender.sent)

	sender.err = errors.New("link closed")
	client.deliver("thruststand/command", "s")
	assert.Equal(t, []string{"procedure", "40", "s"}, sender.sent)
}

func TestClose(t *testing.T) {
	client := newFakeClient()
	p := NewWithClient(client, "thruststand", nil)
	p.Close()
	assert.True(t, client.disconnected)
}
