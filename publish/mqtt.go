// Package publish pushes acquisition snapshots to an MQTT broker: one
// retained topic per channel reading plus a YAML status document.
package publish

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/softi2c/acquisition"
)

var ErrTimeout = errors.New("mqtt operation timed out")

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type Publisher struct {
	client  Client
	prefix  string
	qos     byte
	timeout time.Duration
}

type Config struct {
	ClientID string
	QoS      byte
	Timeout  time.Duration
}

type Option func(*Config)

func WithClientID(id string) Option {
	return func(c *Config) {
		c.ClientID = id
	}
}

func WithQoS(qos byte) Option {
	return func(c *Config) {
		if qos <= 2 {
			c.QoS = qos
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

func defaults(opts []Option) *Config {
	config := &Config{
		ClientID: "softi2c",
		Timeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(config)
	}
	return config
}

// Connect dials broker (e.g. tcp://localhost:1883) and publishes under prefix.
func Connect(broker, prefix string, opts ...Option) (*Publisher, error) {
	config := defaults(opts)
	o := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(config.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(config.Timeout)
	client := mqtt.NewClient(o)
	token := client.Connect()
	if !token.WaitTimeout(config.Timeout) {
		return nil, fmt.Errorf("connecting to %s: %w", broker, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", broker, err)
	}
	slog.Info("connected to mqtt broker", "broker", broker, "prefix", prefix)
	return New(client, prefix, opts...), nil
}

// New wraps an already connected client.
func New(client Client, prefix string, opts ...Option) *Publisher {
	config := defaults(opts)
	return &Publisher{
		client:  client,
		prefix:  prefix,
		qos:     config.QoS,
		timeout: config.Timeout,
	}
}

// Publish sends every reading and the status document. Readings of a failed
// cycle are still sent; the status tells whether they are fresh.
func (p *Publisher) Publish(snap acquisition.Snapshot) error {
	for name, reading := range snap.Readings {
		if err := p.send(p.prefix+"/"+name, reading); err != nil {
			return err
		}
	}
	status, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("could not encode status: %w", err)
	}
	return p.send(p.prefix+"/status", status)
}

func (p *Publisher) send(topic string, payload interface{}) error {
	token := p.client.Publish(topic, p.qos, true, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publishing %s: %w", topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("could not publish %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
