// Package messaging is the coordination backbone's event bus: a thin NATS
// client carrying cache-invalidation, cache-load, scheduler-job, breaker,
// and rate-limit notifications to external consumers. Publishing is always
// best-effort; a publish failure is logged and never fails the cache
// write, job run, or breaker transition it describes.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Client owns the NATS connection and its JetStream context. It exposes
// only the surface the backbone needs: JSON publish (sync and async) and
// plain subscribe for in-process consumers.
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger

	mu         sync.RWMutex
	subs       map[string]*nats.Subscription
	reconnects int
	connected  bool
}

// Config holds connection settings for the event bus.
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
	Logger         *zap.Logger
}

// NewClient connects to NATS and initializes JetStream. Reconnects are
// handled by the underlying connection; the client only tracks them for
// observability.
func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &Client{
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			client.mu.Lock()
			client.reconnects++
			client.connected = true
			client.mu.Unlock()
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			client.mu.Lock()
			client.connected = false
			client.mu.Unlock()
			logger.Warn("nats disconnected", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	client.conn = conn
	client.js = js
	client.connected = true
	return client, nil
}

// Publish marshals data as JSON and publishes it on subject over core NATS.
func (c *Client) Publish(ctx context.Context, subject string, data interface{}) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// PublishAsync hands the payload to JetStream without waiting for the ack,
// so a slow or full stream never backs up the caller. Ack failures are
// logged, not returned. Falls back to core-NATS publish when JetStream is
// unavailable.
func (c *Client) PublishAsync(ctx context.Context, subject string, data interface{}) error {
	if c.js == nil {
		return c.Publish(ctx, subject, data)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	future, err := c.js.PublishAsync(subject, payload)
	if err != nil {
		return fmt.Errorf("jetstream publish: %w", err)
	}

	go func() {
		select {
		case <-future.Ok():
		case ackErr := <-future.Err():
			c.logger.Warn("async publish not acked", zap.String("subject", subject), zap.Error(ackErr))
		}
	}()
	return nil
}

// Subscribe registers an in-process handler for subject. One subscription
// per subject; a second call for the same subject is an error.
func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.subs[subject]; exists {
		return fmt.Errorf("already subscribed to %s", subject)
	}

	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	c.subs[subject] = sub
	return nil
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.conn != nil && c.conn.IsConnected()
}

// Reconnects returns how many times the connection has been re-established.
func (c *Client) Reconnects() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnects
}

// Drain flushes buffered messages and unsubscribes before closing; prefer
// it over Close on graceful shutdown.
func (c *Client) Drain() error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.Drain()
}

// Close drops every subscription and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("unsubscribe failed during close", zap.String("subject", subject), zap.Error(err))
		}
		delete(c.subs, subject)
	}

	if c.conn != nil {
		c.conn.Close()
	}
	c.connected = false
	return nil
}
