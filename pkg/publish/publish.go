// Package publish republishes stand telemetry over MQTT and accepts operator
// commands from a command topic.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/itohio/thruststand/pkg/config"
	"github.com/itohio/thruststand/pkg/telemetry"
)

const (
	TelemetryTopic = "telemetry"
	CommandTopic   = "command"

	DefaultTimeout = 5 * time.Second
)

var (
	ErrNoBroker = errors.New("mqtt broker not configured")
	ErrTimeout  = errors.New("mqtt operation timed out")
)

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Sender forwards an operator command line to the stand.
type Sender interface {
	Send(cmd string) error
}

// Message is the JSON form of one telemetry record.
type Message struct {
	Time        float64   `json:"time"`
	Thrust      float64   `json:"thrust"`
	RPM         float64   `json:"rpm"`
	Temperature *float64  `json:"temperature,omitempty"`
	Voltage     float64   `json:"voltage"`
	Current     float64   `json:"current"`
	Power       float64   `json:"power"`
	Throttle    float64   `json:"throttle"`
	Received    time.Time `json:"received"`
}

// NewMessage converts rec. An invalid temperature is omitted.
func NewMessage(rec telemetry.Record) Message {
	m := Message{
		Time:     rec.Time,
		Thrust:   rec.Thrust,
		RPM:      rec.RPM,
		Voltage:  rec.Voltage,
		Current:  rec.Current,
		Power:    rec.Power,
		Throttle: rec.Throttle,
		Received: rec.Received,
	}
	if rec.TemperatureValid {
		t := rec.Temperature
		m.Temperature = &t
	}
	return m
}

// ClientID returns the configured client id or a fresh standmon-<uuid>.
func ClientID(cfg config.MQTTConfig) string {
	if cfg.ClientID != "" {
		return cfg.ClientID
	}
	return "standmon-" + uuid.NewString()
}

// Publisher republishes records and relays commands.
type Publisher struct {
	client  Client
	prefix  string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	sender Sender
}

// New creates a paho client for cfg.Broker. Call Connect before use.
func New(cfg config.MQTTConfig, logger *slog.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}
	if logger == nil {
		logger = slog.Default()
	}

	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(ClientID(cfg))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("connected to mqtt broker", "broker", broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	}

	return NewWithClient(mqtt.NewClient(opts), cfg.TopicPrefix, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client Client, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// Topic returns prefix/name.
func (p *Publisher) Topic(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "/" + name
}

// Connect connects to the broker and subscribes to the command topic.
// Commands received are forwarded to sender.
func (p *Publisher) Connect(sender Sender) error {
	p.mu.Lock()
	p.sender = sender
	p.mu.Unlock()

	if err := p.wait(p.client.Connect()); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	topic := p.Topic(CommandTopic)
	if err := p.wait(p.client.Subscribe(topic, 1, p.onCommand)); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	p.logger.Info("subscribed", "topic", topic)
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// Publish sends rec to the telemetry topic.
func (p *Publisher) Publish(rec telemetry.Record) error {
	payload, err := json.Marshal(NewMessage(rec))
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return p.wait(p.client.Publish(p.Topic(TelemetryTopic), 0, false, payload))
}

// Run publishes every record from input until it closes. Publish failures
// are logged and do not stop the loop.
func (p *Publisher) Run(input <-chan telemetry.Record) {
	for rec := range input {
		if err := p.Publish(rec); err != nil {
			p.logger.Warn("publish failed", "error", err)
		}
	}
}

func (p *Publisher) onCommand(_ mqtt.Client, msg mqtt.Message) {
	cmd := strings.TrimSpace(string(msg.Payload()))
	if cmd == "" {
		return
	}

	p.mu.Lock()
	sender := p.sender
	p.mu.Unlock()
	if sender == nil {
		return
	}

	p.logger.Debug("mqtt command", "topic", msg.Topic(), "command", cmd)
	if err := sender.Send(cmd); err != nil {
		p.logger.Warn("failed to forward command", "command", cmd, "error", err)
	}
}

func (p *Publisher) wait(token mqtt.Token) error {
	if !token.WaitTimeout(p.timeout) {
		return ErrTimeout
	}
	return token.Error()
}
