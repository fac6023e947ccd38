package mqtt

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var errNotConnected = errors.New("MQTT client not connected")

// Client wraps a paho client with synchronous publish and subscribe.
type Client struct {
	opts    *mqtt.ClientOptions
	client  mqtt.Client
	logger  *zap.Logger
	timeout time.Duration
}

// NewClient creates a new MQTT client with the given options and logger.
func NewClient(opts *mqtt.ClientOptions, logger ...*zap.Logger) *Client {
	client := &Client{
		opts:    opts,
		logger:  zap.NewNop(),
		timeout: 10 * time.Second,
	}

	if len(logger) > 0 && logger[0] != nil {
		client.logger = logger[0]
	}
	return client
}

// Connect establishes a connection to the MQTT broker.
func (c *Client) Connect() error {
	c.client = mqtt.NewClient(c.opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("broker connection error: %w", token.Error())
	}
	return nil
}

// Publish sends a message to the specified MQTT topic and waits for the
// broker to acknowledge it.
func (c *Client) Publish(topic string, qos byte, retained bool, payload any) error {
	if c.client == nil {
		return errNotConnected
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("publish to %s: timed out after %s", topic, c.timeout)
	}
	if err := token.Error(); err != nil {
		c.logger.Error("publish error", zap.Error(err), zap.String("topic", topic))
		return err
	}
	c.logger.Debug("message published", zap.String("topic", topic))
	return nil
}

// Subscribe registers a callback for messages on the specified MQTT topic.
func (c *Client) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) error {
	if c.client == nil {
		return errNotConnected
	}
	token := c.client.Subscribe(topic, qos, callback)
	token.Wait()
	if err := token.Error(); err != nil {
		c.logger.Error("subscribe error", zap.Error(err), zap.String("topic", topic))
		return fmt.Errorf("subscribe error: %w", err)
	}
	c.logger.Debug("subscribed to topic", zap.String("topic", topic))
	return nil
}

// Disconnect closes the connection to the MQTT broker.
func (c *Client) Disconnect() {
	if c.client == nil {
		return
	}
	c.client.Disconnect(250)
	c.logger.Info("disconnected from MQTT broker")
}
