// Package messaging provides a NATS client wrapper for the matcher's pub/sub
// traffic: incoming match and cancel requests, and per-user match and expiry
// notifications.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/peermatch/matcher/internal/logger"
)

// NATS subjects used by the matcher.
const (
	SubjectMatchRequest = "match.request"
	SubjectMatchCancel  = "match.cancel"
	SubjectMatchFound   = "match.found"   // + .<user_id>
	SubjectMatchExpired = "match.expired" // + .<user_id>
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn   *nats.Conn
	log    *logger.Logger
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	closed chan struct{} // closed by the connection's ClosedHandler
}

// drainWait bounds how long Close waits for in-flight handlers.
const drainWait = 30 * time.Second

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "peermatch-matcher",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS and returns a ready client. It returns an
// error if the initial connection fails.
func NewNATSClient(config NATSConfig, log *logger.Logger) (*NATSClient, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.Component("nats")
	closed := make(chan struct{})

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("connection closed")
			close(closed)
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Info("connected", "url", nc.ConnectedUrl())

	return &NATSClient{
		conn:   nc,
		log:    log,
		subs:   make(map[string]*nats.Subscription),
		closed: closed,
	}, nil
}

// Publish sends data to the given subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for subject and keeps the subscription for
// Close.
func (c *NATSClient) Subscribe(subject string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// SubscribeMatchRequest subscribes to incoming match requests.
func (c *NATSClient) SubscribeMatchRequest(handler func(data []byte)) error {
	return c.Subscribe(SubjectMatchRequest, handler)
}

// SubscribeMatchCancel subscribes to incoming cancellations.
func (c *NATSClient) SubscribeMatchCancel(handler func(data []byte)) error {
	return c.Subscribe(SubjectMatchCancel, handler)
}

// PublishMatchFound notifies one user of a match.
func (c *NATSClient) PublishMatchFound(userID string, data []byte) error {
	return c.Publish(SubjectMatchFound+"."+userID, data)
}

// PublishMatchExpired notifies one user that their entry expired unmatched.
func (c *NATSClient) PublishMatchExpired(userID string, data []byte) error {
	return c.Publish(SubjectMatchExpired+"."+userID, data)
}

// Close drains all subscriptions and the connection, then waits until
// every in-flight handler has returned and the connection is closed.
func (c *NATSClient) Close() {
	c.mu.Lock()
	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.Warn("drain subscription", "subject", subject, "error", err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	if err := c.conn.Drain(); err != nil {
		c.log.Warn("connection drain", "error", err)
		c.conn.Close()
	}

	select {
	case <-c.closed:
	case <-time.After(drainWait):
		c.log.Warn("timed out waiting for drain", "timeout", drainWait.String())
	}
	c.log.Info("client closed")
}
