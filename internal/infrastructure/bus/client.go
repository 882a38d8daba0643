package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mirrorstate/mirror-core/internal/infrastructure/config"
)

// Client is the MQTT implementation of the event channel.
//
// Event names map to topics under the configured root
// ("mirror/entity/updated/<id>" for event "entity/updated/<id>").
// Payloads travel as JSON objects. Subscriptions are tracked internally
// and restored automatically after a reconnect.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.BusConfig
	root   string

	// handlers tracks subscribers per event; one broker subscription is
	// held per event regardless of how many handlers are attached.
	handlers  map[string]map[int]Handler
	nextSubID int
	subMu     sync.Mutex

	connected bool
	connMu    sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Connect establishes a connection to the MQTT broker.
//
// It configures auto-reconnect with exponential backoff and a Last Will
// message on the status topic, then waits for the initial connection.
func Connect(cfg config.BusConfig) (*Client, error) {
	c := &Client{
		cfg:      cfg,
		root:     strings.TrimRight(cfg.RootTopic, "/"),
		handlers: make(map[string]map[int]Handler),
		logger:   noopLogger{},
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnectHandler runs asynchronously and may not have executed
	// yet; set the state here so callers see a connected client.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// SetLogger sets a logger for handler errors and reconnect noise.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Fire publishes an event payload as JSON.
func (c *Client) Fire(event string, payload map[string]any) error {
	if event == "" {
		return ErrInvalidEvent
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshalling payload: %w", ErrFireFailed, err)
	}

	token := c.client.Publish(c.topic(event), byte(c.cfg.QoS), false, data)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrFireFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrFireFailed, err)
	}
	return nil
}

// Subscribe registers a handler for an event and returns a detach
// function. The broker subscription is shared between all handlers of
// the same event and released when the last one detaches.
func (c *Client) Subscribe(event string, fn Handler) (func(), error) {
	if event == "" {
		return nil, ErrInvalidEvent
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	c.subMu.Lock()
	first := c.handlers[event] == nil
	if first {
		c.handlers[event] = make(map[int]Handler)
	}
	id := c.nextSubID
	c.nextSubID++
	c.handlers[event][id] = fn
	c.subMu.Unlock()

	if first {
		token := c.client.Subscribe(c.topic(event), byte(c.cfg.QoS), c.dispatcher(event))
		if !token.WaitTimeout(defaultPublishTimeout) {
			c.removeHandler(event, id)
			return nil, fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
		}
		if err := token.Error(); err != nil {
			c.removeHandler(event, id)
			return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
		}
	}

	return func() { c.removeHandler(event, id) }, nil
}

// removeHandler detaches one handler, dropping the broker subscription
// when it was the last one for the event.
func (c *Client) removeHandler(event string, id int) {
	c.subMu.Lock()
	hs, ok := c.handlers[event]
	if ok {
		delete(hs, id)
		if len(hs) == 0 {
			delete(c.handlers, event)
		} else {
			ok = false
		}
	}
	c.subMu.Unlock()

	if ok && c.IsConnected() {
		token := c.client.Unsubscribe(c.topic(event))
		token.WaitTimeout(defaultPublishTimeout)
	}
}

// dispatcher builds the paho handler fanning one topic out to all
// registered handlers, with panic recovery per handler.
func (c *Client) dispatcher(event string) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.getLogger().Error("bus handler panic recovered",
					"event", event,
					"panic", r,
				)
			}
		}()

		var payload map[string]any
		if len(msg.Payload()) > 0 {
			if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
				c.getLogger().Warn("discarding malformed event payload",
					"event", event,
					"error", err,
				)
				return
			}
		}

		c.subMu.Lock()
		registered := c.handlers[event]
		handlers := make([]Handler, 0, len(registered))
		for _, fn := range registered {
			handlers = append(handlers, fn)
		}
		c.subMu.Unlock()

		for _, fn := range handlers {
			fn(event, payload)
		}
	}
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	// Restore broker subscriptions after reconnect.
	c.subMu.Lock()
	events := make([]string, 0, len(c.handlers))
	for event := range c.handlers {
		events = append(events, event)
	}
	c.subMu.Unlock()

	for _, event := range events {
		c.client.Subscribe(c.topic(event), byte(c.cfg.QoS), c.dispatcher(event))
	}
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.getLogger().Warn("bus connection lost", "error", err)
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// Close gracefully disconnects from the broker, publishing an offline
// status first so peers can distinguish shutdown from a crash.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.statusTopic(), byte(c.cfg.QoS), true,
			offlinePayload(c.cfg.Broker.ClientID))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// topic maps an event name to its broker topic.
func (c *Client) topic(event string) string {
	return c.root + "/" + event
}

// statusTopic is the retained online/offline status topic.
func (c *Client) statusTopic() string {
	return c.root + "/system/status"
}
