package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/smartauth/internal/infrastructure/config"
)

// Client is one broker session for the onboarding feed.
//
// Delivery is sequential and in arrival order. A message is acknowledged only
// after its handler returns nil; an error or panic leaves it un-acked and the
// broker redelivers it on the next session (CleanSession=false).
//
// All methods are safe for concurrent use. Subscriptions are restored after
// paho reconnects.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected atomic.Bool
	stats     deliveryCounters

	hookMu       sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is satisfied by logging.Logger and *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler processes one delivery. Returning nil acknowledges it.
type MessageHandler func(topic string, payload []byte) error

// DeliveryStats counts handler outcomes for the lifetime of a Client.
type DeliveryStats struct {
	Acked    uint64
	Rejected uint64
	Panicked uint64
}

type deliveryCounters struct {
	acked, rejected, panicked atomic.Uint64
}

// Connect opens a broker session for the onboarding feed.
//
// It performs the following setup:
//  1. Builds paho options from config (manual ack, ordered delivery)
//  2. Registers the retained offline will on smartauth/system/status
//  3. Connects and waits for the CONNACK
//  4. Publishes the retained online status from the OnConnect handler
//
// Parameters:
//   - ctx: Bounds the wait for the CONNACK together with the connect timeout
//   - cfg: MQTT section of config.yaml
//
// Returns:
//   - *Client: Connected client; call Close when done
//   - error: ErrConnectionFailed wrapping the broker or timeout error
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		options:       buildClientOptions(cfg),
		subscriptions: make(map[string]subscription),
	}
	configureLWT(c.options, cfg.Broker.ClientID)
	c.options.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	c.options.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = pahomqtt.NewClient(c.options)
	if err := waitToken(ctx, c.client.Connect(), defaultConnectTimeout); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	// OnConnect fires on paho's goroutine; don't make callers wait for it.
	c.connected.Store(true)

	return c, nil
}

// waitToken blocks until the token completes, ctx ends or timeout elapses.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.restoreSubscriptions()
	c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, statusPayload("online", c.cfg.Broker.ClientID, ""))

	c.hookMu.RLock()
	callback := c.onConnect
	c.hookMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.hookMu.RLock()
	callback := c.onDisconnect
	c.hookMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close announces a graceful offline status, disconnects and logs the
// session's delivery counts. A nil or never-connected client is a no-op.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
			statusPayload("offline", c.cfg.Broker.ClientID, "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)

	if logger := c.getLogger(); logger != nil {
		stats := c.Stats()
		logger.Info("MQTT session closed",
			"client_id", c.cfg.Broker.ClientID,
			"acked", stats.Acked,
			"rejected", stats.Rejected,
			"panicked", stats.Panicked,
		)
	}
	return nil
}

// HealthCheck reports ErrNotConnected when the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// Stats returns the handler outcome counts so far.
func (c *Client) Stats() DeliveryStats {
	return DeliveryStats{
		Acked:    c.stats.acked.Load(),
		Rejected: c.stats.rejected.Load(),
		Panicked: c.stats.panicked.Load(),
	}
}

// SetOnConnect sets a callback invoked on every (re)connect.
func (c *Client) SetOnConnect(callback func()) {
	c.hookMu.Lock()
	c.onConnect = callback
	c.hookMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.hookMu.Lock()
	c.onDisconnect = callback
	c.hookMu.Unlock()
}

// SetLogger sets the logger for handler failures and session summaries.
func (c *Client) SetLogger(logger Logger) {
	c.hookMu.Lock()
	c.logger = logger
	c.hookMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho: it recovers panics and acks
// only on success.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.stats.panicked.Add(1)
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.stats.rejected.Add(1)
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error, message left unacknowledged",
					"topic", msg.Topic(),
					"message_id", msg.MessageID(),
					"error", err,
				)
			}
			return
		}
		msg.Ack()
		c.stats.acked.Add(1)
	}
}
