package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloudpico-node/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrStopped      = errors.New("mqtt client stopped")
	// ErrConnectionLost is returned by Wait when the broker session drops.
	ErrConnectionLost = errors.New("mqtt connection lost")
	ErrPublishTimeout = errors.New("mqtt publish timeout")
)

const publishTimeout = 5 * time.Second

type Client struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	// closed and replaced on every connection loss
	lost    chan struct{}
	lostErr error

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewClient configures a session for a node that wakes, publishes and
// sleeps: no automatic reconnects, a clean session, QoS 1 publishes.
func NewClient(cfg config.Config, logger *slog.Logger) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		logger: logger,
		lost:   make(chan struct{}),
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(cfg))
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.BrokerTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	// nothing is subscribed, so there is no session state worth keeping
	opts.SetCleanSession(true)

	// a lost session is reported through Wait and never healed here
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(10 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetWriteTimeout(publishTimeout)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.Broker, "port", cfg.BrokerPort)
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		c.signalLost(err)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// BrokerURL builds the paho broker URL; TLS switches the scheme to ssl.
func BrokerURL(cfg config.Config) string {
	scheme := "tcp"
	if cfg.BrokerTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker, cfg.BrokerPort)
}

// Connect opens the broker session once. It gives up when ctx is done or
// the client is disconnected; there is no retry.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// the OnConnect handler runs on its own goroutine
			c.setConnected(true)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrStopped
		default:
		}
	}
}

// Publish sends payload to topic with QoS 1 and waits for the broker's
// acknowledgment.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w for topic %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	c.logger.Debug("published", "topic", topic, "bytes", len(payload))
	return nil
}

// Wait blocks for d, returning early with ErrConnectionLost if the session
// drops or with ctx's error if ctx is done.
func (c *Client) Wait(ctx context.Context, d time.Duration) error {
	c.mu.RLock()
	lost, lostErr := c.lost, c.lostErr
	c.mu.RUnlock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-lost:
		if lostErr == nil {
			c.mu.RLock()
			lostErr = c.lostErr
			c.mu.RUnlock()
		}
		return fmt.Errorf("%w: %v", ErrConnectionLost, lostErr)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return ErrStopped
	}
}

// IsConnected reports whether the session is up as far as both the client
// and paho know.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect ends the session. It may be called more than once; later
// Connect calls return ErrStopped.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	// give in-flight acks 250ms
	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) signalLost(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lostErr = err
	close(c.lost)
	c.lost = make(chan struct{})
}
