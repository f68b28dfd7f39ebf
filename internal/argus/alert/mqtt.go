package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrNotConnected = errors.New("mqtt not connected")

type MQTTConfig struct {
	// Broker is host:port of the broker.
	Broker   string
	ClientID string
	// TopicPrefix is followed by the alert level, e.g. argus/alerts/critical.
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTTChannel publishes alerts as JSON to an MQTT broker. The client
// reconnects on its own after the first successful Connect.
type MQTTChannel struct {
	cfg    MQTTConfig
	logger *log.Logger

	mu        sync.RWMutex
	client    mqtt.Client
	connected bool
	published uint64
}

func NewMQTTChannel(cfg MQTTConfig, logger *log.Logger) *MQTTChannel {
	if cfg.ClientID == "" {
		cfg.ClientID = "argus"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "argus/alerts"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return &MQTTChannel{cfg: cfg, logger: logger}
}

func (c *MQTTChannel) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		c.setConnected(true)
		c.logger.Printf("mqtt connected (broker=%s client_id=%s)", c.cfg.Broker, c.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.setConnected(false)
		c.logger.Printf("mqtt connection lost, reconnecting: %v", err)
	}

	client := mqtt.NewClient(opts)
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	timeout := c.cfg.ConnectTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connect %s: timeout", c.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", c.cfg.Broker, err)
	}
	c.setConnected(true)
	return nil
}

func (c *MQTTChannel) Notify(_ context.Context, a Alert) error {
	c.mu.RLock()
	client, connected := c.client, c.connected
	c.mu.RUnlock()
	if !connected || client == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	topic := c.Topic(a)
	token := client.Publish(topic, c.cfg.QoS, false, payload)
	if !token.WaitTimeout(c.cfg.PublishTimeout) {
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}

	c.mu.Lock()
	c.published++
	c.mu.Unlock()
	return nil
}

// Topic is the topic an alert is published on.
func (c *MQTTChannel) Topic(a Alert) string {
	return c.cfg.TopicPrefix + "/" + string(a.Level)
}

func (c *MQTTChannel) Published() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.published
}

func (c *MQTTChannel) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.connected = false
	c.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		c.logger.Printf("mqtt disconnected")
	}
}

func (c *MQTTChannel) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
