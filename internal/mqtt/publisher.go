// Package mqtt publishes retained device state to an MQTT broker.
package mqtt

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/joshp123/gohome-daichi/internal/config"
)

const (
	defaultPublishTimeout = 5 * time.Second
	maxPayloadSize        = 1 << 20
	disconnectQuiesceMs   = 250

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// client is the part of pahomqtt.Client the publisher uses.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Publisher writes retained messages under a topic prefix.
type Publisher struct {
	client  client
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
}

// Connect dials the broker. The status topic carries "online" while connected
// and the broker publishes "offline" as last will.
func Connect(cfg config.MQTTConfig, logger *slog.Logger) (*Publisher, error) {
	prefix := strings.TrimRight(cfg.TopicPrefix, "/")
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "gohome-daichi-" + uuid.NewString()[:8]
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOrderMatters(false).
		SetWill(statusTopic(prefix), payloadOffline, cfg.QoSLevel(), true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	p := &Publisher{
		prefix:  prefix,
		qos:     cfg.QoSLevel(),
		timeout: defaultPublishTimeout,
		logger:  logger.With("component", "mqtt"),
	}
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		p.logger.Info("mqtt connected", "broker", cfg.Broker)
		c.Publish(statusTopic(prefix), cfg.QoSLevel(), true, payloadOnline)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		p.logger.Warn("mqtt connection lost", "error", err)
	})

	c := pahomqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		c.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	p.client = c
	return p, nil
}

func newPublisher(c client, prefix string, qos byte, logger *slog.Logger) *Publisher {
	return &Publisher{
		client:  c,
		prefix:  strings.TrimRight(prefix, "/"),
		qos:     qos,
		timeout: defaultPublishTimeout,
		logger:  logger,
	}
}

// Publish sends one retained message.
func (p *Publisher) Publish(topic string, payload []byte) error {
	if topic == "" || strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(topic, p.qos, true, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishState writes <prefix>/<deviceID>/state.
func (p *Publisher) PublishState(deviceID string, payload []byte) error {
	return p.Publish(p.prefix+"/"+deviceID+"/state", payload)
}

// Close marks the publisher offline and disconnects.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	if p.client.IsConnected() {
		if err := p.Publish(statusTopic(p.prefix), []byte(payloadOffline)); err != nil {
			p.logger.Warn("mqtt offline status not published", "error", err)
		}
	}
	p.client.Disconnect(disconnectQuiesceMs)
	return nil
}

func statusTopic(prefix string) string {
	return prefix + "/status"
}
