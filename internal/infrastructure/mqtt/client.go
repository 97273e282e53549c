package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/config"
)

// Client is the bridge's broker connection. paho reconnects on its own;
// Client keeps the subscription set so it survives a reconnect, counts
// reconnect attempts against the configured limit, and recovers panics in
// message handlers.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	client        pahomqtt.Client
	clientID      string
	maxReconnects int

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	onGiveUp     func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	attempts      atomic.Int64 // reconnect attempts since the last connect
	gaveUp        atomic.Bool
	connects      atomic.Uint64
	losses        atomic.Uint64
	handlerErrors atomic.Uint64
	handlerPanics atomic.Uint64
}

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives a message. paho calls handlers from its own
// goroutines; a returned error is logged and does not affect the ack.
type MessageHandler func(topic string, payload []byte) error

// Will is the message the broker publishes when the client drops off
// without a clean disconnect.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Stats counts connection and handler events since Connect.
type Stats struct {
	Connects        uint64 `json:"connects"`
	ConnectionsLost uint64 `json:"connections_lost"`
	HandlerErrors   uint64 `json:"handler_errors"`
	HandlerPanics   uint64 `json:"handler_panics"`
	Subscriptions   int    `json:"subscriptions"`
}

// Connect dials the broker and waits for the first connection.
//
// When will is non-nil it is registered as the Last Will and Testament.
// Connect fails with ErrConnectionFailed if the first attempt does not
// complete within the connect timeout. Later drops are retried by paho
// until cfg.Reconnect.MaxAttempts consecutive attempts have failed (0
// retries forever), after which the SetOnGiveUp callback runs.
func Connect(cfg config.MQTTConfig, will *Will) (*Client, error) {
	opts := buildClientOptions(cfg, will)
	c := newClient(cfg, nil)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) { c.handleReconnecting() })

	c.client = pahomqtt.NewClient(opts)
	if err := await(c.client.Connect(), ErrConnectionFailed); err != nil {
		c.client.Disconnect(0)
		return nil, err
	}

	// The on-connect handler runs asynchronously, so mark the state here
	// for callers that publish straight after Connect returns.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

func newClient(cfg config.MQTTConfig, pc pahomqtt.Client) *Client {
	return &Client{
		client:        pc,
		clientID:      cfg.Broker.ClientID,
		maxReconnects: cfg.Reconnect.MaxAttempts,
		subscriptions: make(map[string]subscription),
	}
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()
	c.attempts.Store(0)
	c.connects.Add(1)

	c.restoreSubscriptions()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	c.losses.Add(1)

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "client_id", c.clientID, "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// handleReconnecting runs before each paho reconnect attempt.
func (c *Client) handleReconnecting() {
	attempt := c.attempts.Add(1)
	logger := c.getLogger()
	if logger != nil {
		logger.Warn("MQTT reconnecting", "client_id", c.clientID, "attempt", attempt)
	}

	if c.maxReconnects <= 0 || attempt <= int64(c.maxReconnects) {
		return
	}
	if !c.gaveUp.CompareAndSwap(false, true) {
		return
	}

	err := fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, c.maxReconnects)
	if logger != nil {
		logger.Error("MQTT giving up", "client_id", c.clientID, "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onGiveUp
	c.callbackMu.RUnlock()

	// Disconnect stops paho's retry loop; it must not run on paho's
	// reconnect goroutine.
	go func() {
		c.client.Disconnect(0)
		if callback != nil {
			callback(err)
		}
	}()
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		// Errors surface through the connection-lost handler.
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close disconnects from the broker, giving pending operations the
// quiesce period to finish. The will is not published on a clean close.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
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
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// Stats returns the connection counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connects:        c.connects.Load(),
		ConnectionsLost: c.losses.Load(),
		HandlerErrors:   c.handlerErrors.Load(),
		HandlerPanics:   c.handlerPanics.Load(),
		Subscriptions:   c.SubscriptionCount(),
	}
}

// SetOnConnect sets a callback invoked on every (re)connection, after
// subscriptions have been restored.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetOnGiveUp sets a callback invoked once when the reconnect limit is
// reached. err wraps ErrReconnectExhausted.
func (c *Client) SetOnGiveUp(callback func(err error)) {
	c.callbackMu.Lock()
	c.onGiveUp = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for handler errors, panics and reconnects.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adds panic recovery and error logging to a MessageHandler.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.handlerPanics.Add(1)
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.handlerErrors.Add(1)
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
