package signaling

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/spot-tv/internal/transport"
)

// Connection defaults, used when the server config leaves a field unset.
const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 15 * time.Second
	defaultPingTimeout      = 60 * time.Second
	defaultRequestTimeout   = 10 * time.Second
	writeTimeout            = 5 * time.Second
	messageBufferSize       = 256
)

// wsConn is a single WebSocket connection to the signaling server.
type wsConn struct {
	url          string
	logger       *slog.Logger
	pingInterval time.Duration
	pingTimeout  time.Duration

	conn *websocket.Conn

	messages chan []byte
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu         sync.RWMutex
	lastPongAt time.Time
	closed     bool
	err        error
}

// dial opens the connection and starts its read and heartbeat loops.
func dial(ctx context.Context, server transport.ServerConfig, header http.Header, logger *slog.Logger) (*wsConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: orDefault(server.HandshakeTimeout, defaultHandshakeTimeout),
	}

	conn, _, err := dialer.DialContext(ctx, server.URL, header)
	if err != nil {
		return nil, err
	}

	c := &wsConn{
		url:          server.URL,
		logger:       logger,
		pingInterval: orDefault(server.PingInterval, defaultPingInterval),
		pingTimeout:  orDefault(server.PingTimeout, defaultPingTimeout),
		conn:         conn,
		messages:     make(chan []byte, messageBufferSize),
		done:         make(chan struct{}),
		lastPongAt:   time.Now(),
	}

	// Server pings count as liveness too
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return c.writeControl(websocket.PongMessage, []byte(data))
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	go c.heartbeatLoop()

	logger.Debug("websocket connected", "url", server.URL)
	return c, nil
}

// Send writes a text frame.
func (c *wsConn) Send(data []byte) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the channel of received text frames. It is closed after
// the last frame once the connection ends.
func (c *wsConn) Messages() <-chan []byte {
	return c.messages
}

// Err returns the error that ended the connection, or nil if it was closed
// with Close or is still open.
func (c *wsConn) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Close sends a normal close frame and closes the socket. Safe to call twice.
func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	c.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func (c *wsConn) writeControl(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(messageType, data, time.Now().Add(time.Second))
}

func (c *wsConn) touch() {
	c.mu.Lock()
	c.lastPongAt = time.Now()
	c.mu.Unlock()
}

// fail records err as the cause and closes the socket so the read loop ends.
func (c *wsConn) fail(err error) {
	c.mu.Lock()
	if c.err == nil && !c.closed {
		c.err = err
	}
	c.mu.Unlock()
	c.conn.Close()
}

// readLoop forwards frames until the socket fails or Close is called.
func (c *wsConn) readLoop() {
	defer close(c.messages)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
			default:
				c.fail(err)
			}
			return
		}

		select {
		case c.messages <- data:
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop pings the server and reports a stale connection.
func (c *wsConn) heartbeatLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.writeControl(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.RLock()
			lastPong := c.lastPongAt
			c.mu.RUnlock()

			if time.Since(lastPong) > c.pingTimeout {
				c.logger.Warn("no pong received, connection stale",
					"last_pong", lastPong,
					"timeout", c.pingTimeout,
				)
				c.fail(ErrStaleConnection)
				return
			}
		}
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
