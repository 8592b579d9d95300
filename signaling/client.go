package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Sentinel errors for signaling operations.
var (
	// ErrNotConnected indicates a send was attempted without a live
	// connection.
	ErrNotConnected = errors.New("signaling client not connected")

	// ErrClientClosed indicates the client was shut down.
	ErrClientClosed = errors.New("signaling client closed")
)

// Envelope is the wire framing of every signaling message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler consumes the raw payload of one received event.
type Handler func(data json.RawMessage)

// DialConfig controls connection establishment and recovery.
type DialConfig struct {
	HandshakeTimeout     time.Duration
	Reconnect            bool
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
}

// DefaultDialConfig returns the standard reconnect policy: 20 second
// handshake timeout, five reconnect attempts one second apart.
func DefaultDialConfig() *DialConfig {
	return &DialConfig{
		HandshakeTimeout:     20 * time.Second,
		Reconnect:            true,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       time.Second,
	}
}

// Client owns the single long-lived connection to the signaling server.
//
// All received events dispatch sequentially on one goroutine to their
// registered handlers. Sends are fire-and-forget; transmission failures of
// individual media frames are tolerated by design.
type Client struct {
	url      string
	userID   string
	userName string
	config   *DialConfig

	mu        sync.Mutex
	conn      *websocket.Conn
	handlers  map[string]Handler
	connected bool
	closed    bool

	statusCb          func(connected bool)
	reconnectFailedCb func()

	writeMu sync.Mutex
	wg      sync.WaitGroup

	droppedEvents uint64
}

// NewClient creates a signaling client for the given server and identity.
func NewClient(url, userID, userName string, config *DialConfig) *Client {
	if config == nil {
		config = DefaultDialConfig()
	}
	return &Client{
		url:      url,
		userID:   userID,
		userName: userName,
		config:   config,
		handlers: make(map[string]Handler),
	}
}

// On registers the handler for one event name. Handlers must be registered
// before Connect; a later registration for the same event replaces the
// earlier one.
func (c *Client) On(event string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = handler
}

// SetStatusCallback registers the connectivity observer. It fires with
// false on every connection loss and true on every (re)establishment.
func (c *Client) SetStatusCallback(cb func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusCb = cb
}

// SetReconnectFailedCallback registers the observer fired when the
// reconnect policy is exhausted. The engine uses it to fail a call that
// was in progress.
func (c *Client) SetReconnectFailedCallback(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectFailedCb = cb
}

// Connect opens the transport and announces the local user. The initial
// dial follows the same retry policy as later reconnects.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dialWithRetry(true)
	if err != nil {
		return err
	}

	c.adopt(conn)

	c.wg.Add(1)
	go c.run(conn)
	return nil
}

// dialWithRetry attempts the websocket handshake, retrying per the
// configured policy. When firstImmediate is set the first attempt is made
// without a leading delay.
func (c *Client) dialWithRetry(firstImmediate bool) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}

	attempts := c.config.MaxReconnectAttempts
	if attempts < 1 || !c.config.Reconnect {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if !(firstImmediate && attempt == 1) {
			time.Sleep(c.config.ReconnectDelay)
		}
		if c.isClosed() {
			return nil, ErrClientClosed
		}

		conn, _, err := dialer.Dial(c.url, nil)
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.dialWithRetry",
				"attempt":  attempt,
				"url":      c.url,
			}).Info("Signaling connection established")
			return conn, nil
		}
		lastErr = err

		logrus.WithFields(logrus.Fields{
			"function": "Client.dialWithRetry",
			"attempt":  attempt,
			"error":    err.Error(),
		}).Warn("Signaling dial failed")
	}
	return nil, fmt.Errorf("signaling dial exhausted %d attempts: %w", attempts, lastErr)
}

// adopt installs a live connection, notifies the status observer and
// announces the local user.
func (c *Client) adopt(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	statusCb := c.statusCb
	c.mu.Unlock()

	if statusCb != nil {
		statusCb(true)
	}

	if err := c.Send(EventRegister, RegisterPayload{UserID: c.userID, UserName: c.userName}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.adopt",
			"error":    err.Error(),
		}).Warn("Register emit failed")
	}
}

// run reads and dispatches events until the client closes, reconnecting
// after connection loss per the configured policy.
func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		c.readUntilError(conn)

		if c.isClosed() {
			return
		}

		c.mu.Lock()
		c.connected = false
		c.conn = nil
		statusCb := c.statusCb
		failedCb := c.reconnectFailedCb
		reconnect := c.config.Reconnect
		c.mu.Unlock()

		if statusCb != nil {
			statusCb(false)
		}
		if !reconnect {
			return
		}

		newConn, err := c.dialWithRetry(false)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.run",
				"error":    err.Error(),
			}).Error("Signaling reconnect exhausted")
			if failedCb != nil {
				failedCb()
			}
			return
		}

		c.adopt(newConn)
		conn = newConn
	}
}

// readUntilError dispatches incoming envelopes until the connection drops.
// Malformed envelopes are dropped without affecting the connection.
func (c *Client) readUntilError(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.readUntilError",
				"error":    err.Error(),
			}).Debug("Signaling read ended")
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.mu.Lock()
			c.droppedEvents++
			c.mu.Unlock()
			logrus.WithFields(logrus.Fields{
				"function": "Client.readUntilError",
				"size":     len(data),
			}).Warn("Dropping malformed signaling envelope")
			continue
		}

		c.mu.Lock()
		handler := c.handlers[env.Event]
		c.mu.Unlock()

		if handler == nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.readUntilError",
				"event":    env.Event,
			}).Debug("No handler for event")
			continue
		}
		handler(env.Data)
	}
}

// Send emits one event, fire-and-forget. The payload is marshaled into the
// standard envelope.
func (c *Client) Send(event string, payload interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	envelope, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, envelope); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// IsConnected reports current connectivity.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// DroppedEvents returns how many malformed envelopes were discarded.
func (c *Client) DroppedEvents() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.droppedEvents
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close shuts the client down and waits for the dispatch goroutine.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Client.Close",
	}).Info("Signaling client closed")
	return nil
}
