package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voucherpoint/models"
)

// Host is the store-terminal side of the channel. It accepts exactly one
// websocket peer; the first connection pins the peer address and later
// connections from anywhere else are rejected.
type Host struct {
	mu         sync.Mutex
	conn       *websocket.Conn
	pinnedHost string
	handler    func(models.Envelope)
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// NewHost creates a channel host ready to be attached to a router
func NewHost(logger *zap.Logger) *Host {
	return &Host{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Terminals are colocated on the operator network; the channel
			// defends itself by scope filtering and address pinning instead.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the gin handler serving the channel upgrade endpoint
func (h *Host) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		remote, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			remote = c.Request.RemoteAddr
		}

		h.mu.Lock()
		if h.conn != nil {
			h.mu.Unlock()
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "channel already paired"})
			return
		}
		if h.pinnedHost != "" && h.pinnedHost != remote {
			h.mu.Unlock()
			h.logger.Warn("Rejected channel peer from unexpected address",
				zap.String("remote", remote),
				zap.String("pinned", h.pinnedHost),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ErrOriginMismatch.Error()})
			return
		}
		h.mu.Unlock()

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		h.mu.Lock()
		h.conn = conn
		h.pinnedHost = remote
		h.mu.Unlock()

		h.logger.Info("Payment terminal connected", zap.String("remote", remote))
		go h.readLoop(conn)
	}
}

func (h *Host) readLoop(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		if h.conn == conn {
			h.conn = nil
		}
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.logger.Info("Channel peer disconnected", zap.Error(err))
			return
		}

		h.mu.Lock()
		stale := h.conn != conn
		handler := h.handler
		h.mu.Unlock()
		if stale {
			// Message raced a teardown; the connection no longer owns the channel
			continue
		}

		env, err := models.DecodeEnvelope(data)
		if err != nil {
			h.logger.Warn("Dropping invalid channel message", zap.Error(err))
			continue
		}
		if handler != nil {
			handler(env)
		}
	}
}

// Send writes one envelope to the connected peer
func (h *Host) Send(env models.Envelope) error {
	if env.Scope == "" {
		env.Scope = models.Scope
	}
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return ErrNotReady
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrNoCounterpart, err)
	}
	return nil
}

// OnMessage registers the single inbound handler
func (h *Host) OnMessage(handler func(models.Envelope)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// Close tears down the current peer connection, if any
func (h *Host) Close() error {
	h.mu.Lock()
	conn := h.conn
	h.conn = nil
	h.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// client is the payment-terminal side of the channel
type client struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	handler func(models.Envelope)
	logger  *zap.Logger
	closed  bool
}

// Dial connects to the store terminal's channel endpoint. The URL comes from
// the launch context of the payment terminal (the counterpart that opened it).
func Dial(ctx context.Context, url string, logger *zap.Logger) (Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial counterpart %s: %w", url, err)
	}
	c := &client{conn: conn, logger: logger}
	go c.readLoop()
	return c, nil
}

func (c *client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Info("Channel to store terminal closed", zap.Error(err))
			}
			return
		}
		env, err := models.DecodeEnvelope(data)
		if err != nil {
			c.logger.Warn("Dropping invalid channel message", zap.Error(err))
			continue
		}
		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()
		if handler != nil {
			handler(env)
		}
	}
}

func (c *client) Send(env models.Envelope) error {
	if env.Scope == "" {
		env.Scope = models.Scope
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNoCounterpart
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrNoCounterpart, err)
	}
	return nil
}

func (c *client) OnMessage(handler func(models.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
