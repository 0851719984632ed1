package bridge

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	TopicRotation        = "sensor/rotation"
	TopicAccel           = "sensor/accel"
	TopicMag             = "sensor/mag"
	TopicDisplayRotation = "display/rotation"
	TopicState           = "state"
)

type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// Client is a paho connection that remembers its subscriptions and
// restores them after an automatic reconnect.
type Client struct {
	cfg    Config
	client mqtt.Client

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler
}

func Connect(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt: broker is empty")
	}
	c := &Client{cfg: cfg, subs: make(map[string]mqtt.MessageHandler)}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = c.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("mqtt: connection lost: %v (will auto-reconnect)", err)
	}

	c.client = mqtt.NewClient(opts)
	log.Printf("mqtt: connecting to %s as %s", cfg.Broker, cfg.ClientID)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}
	return c, nil
}

// Topic joins suffix onto the configured prefix.
func (c *Client) Topic(suffix string) string {
	return joinTopic(c.cfg.TopicPrefix, suffix)
}

func joinTopic(prefix, suffix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

func (c *Client) Subscribe(topic string, h mqtt.MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()
	return wait(c.client.Subscribe(topic, 0, h), "subscribe "+topic)
}

func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()
	if !c.client.IsConnected() {
		return nil
	}
	return wait(c.client.Unsubscribe(topics...), "unsubscribe")
}

func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	return wait(c.client.Publish(topic, 0, retained, payload), "publish "+topic)
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(250)
}

func (c *Client) onConnect(client mqtt.Client) {
	log.Printf("mqtt: connected to %s", c.cfg.Broker)
	c.mu.Lock()
	subs := make(map[string]mqtt.MessageHandler, len(c.subs))
	for t, h := range c.subs {
		subs[t] = h
	}
	c.mu.Unlock()
	for t, h := range subs {
		if err := wait(client.Subscribe(t, 0, h), "resubscribe "+t); err != nil {
			log.Printf("%v", err)
		}
	}
}

func wait(token mqtt.Token, what string) error {
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt: %s timed out", what)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: %s: %w", what, err)
	}
	return nil
}
