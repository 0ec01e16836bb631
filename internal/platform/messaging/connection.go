// Package messaging publishes order events to a RabbitMQ topic exchange.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	defaultDialAttempts = 5
	// DefaultExchange receives order events when no exchange is configured.
	DefaultExchange = "orders_topic"
)

// Connection owns one AMQP connection and channel, re-dialling when the broker drops them.
type Connection struct {
	mu       sync.Mutex
	url      string
	exchange string
	attempts int
	logger   *zap.Logger
	dial     func(url string) (*amqp.Connection, error)

	conn    *amqp.Connection
	channel *amqp.Channel
}

// Dial connects to url and declares the durable topic exchange.
func Dial(ctx context.Context, url, exchange string, logger *zap.Logger) (*Connection, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("messaging: amqp url is required")
	}
	if strings.TrimSpace(exchange) == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Connection{
		url:      url,
		exchange: exchange,
		attempts: defaultDialAttempts,
		logger:   logger,
		dial:     amqp.Dial,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, fmt.Errorf("messaging: initial connection: %w", err)
	}
	return c, nil
}

// Exchange reports the exchange events are published to.
func (c *Connection) Exchange() string {
	return c.exchange
}

func (c *Connection) connectLocked(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		err = c.openLocked()
		if err == nil {
			return nil
		}
		if attempt == c.attempts {
			break
		}
		wait := time.Duration(attempt) * 2 * time.Second
		c.logger.Warn("rabbitmq connection failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("connect to rabbitmq after %d attempts: %w", c.attempts, err)
}

func (c *Connection) openLocked() error {
	conn, err := c.dial(c.url)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := channel.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", c.exchange, err)
	}
	c.conn = conn
	c.channel = channel
	return nil
}

// channelFor returns a live channel, reconnecting when the previous one was closed.
func (c *Connection) channelFor(ctx context.Context) (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}
	c.closeLocked()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	return c.channel, nil
}

// Ping reports an error when the connection is down and cannot be re-established.
func (c *Connection) Ping(ctx context.Context) error {
	_, err := c.channelFor(ctx)
	return err
}

// Close releases the channel and connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Connection) closeLocked() error {
	if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}
	var err error
	if c.conn != nil {
		if !c.conn.IsClosed() {
			err = c.conn.Close()
		}
		c.conn = nil
	}
	return err
}
