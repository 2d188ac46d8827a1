package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/corpchat/internal/hub"
	"github.com/gorilla/websocket"
)

// Client is one authenticated websocket connection. It is the hub.Session
// registered for its user.
type Client struct {
	conn        *websocket.Conn
	send        chan []byte
	server      *Server
	userID      string
	addr        string
	mu          sync.Mutex
	closed      bool
	rateLimiter *rateLimiter
	log         *slog.Logger
}

// NewClient creates a client for conn bound to userID. The send channel is
// buffered; when it is full the client is treated as dead.
func NewClient(conn *websocket.Conn, s *Server, userID, addr string) *Client {
	if conn != nil {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	return &Client{
		conn:        conn,
		send:        make(chan []byte, s.cfg.SendBuffer),
		server:      s,
		userID:      userID,
		addr:        addr,
		rateLimiter: newRateLimiter(s.cfg.RateLimit),
		log:         s.log.With("user_id", userID, "addr", addr),
	}
}

// Send queues payload for the write pump without blocking.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return hub.ErrSessionClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return hub.ErrSendBufferFull
	}
}

// Close stops accepting payloads. The write pump drains what is queued, then
// sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

// run starts both pumps. The server's wait group tracks them for shutdown.
func (c *Client) run() {
	c.server.pumps.Add(2)
	go func() {
		defer c.server.pumps.Done()
		c.writePump()
	}()
	go func() {
		defer c.server.pumps.Done()
		c.readPump()
	}()
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	pongWait := c.server.cfg.PongWait
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug("error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Debug("error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// handleReadError logs the reason the read loop stops.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded maximum size", "limit", c.server.cfg.MaxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.Info("client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Warn("unexpected websocket close", "error", err)
	default:
		c.log.Debug("websocket read error", "error", err)
	}
}

// checkRateLimit reports whether the next frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("rate limit exceeded; discarding frame",
			"burst", c.server.cfg.RateLimit.Burst,
			"interval", c.server.cfg.RateLimit.RefillInterval)
		return false
	}
	return true
}

// processFrame decodes one inbound frame and acts on it.
func (c *Client) processFrame(ctx context.Context, raw []byte) {
	cmd, ok := decodeFrame(raw)
	if !ok {
		c.log.Debug("dropping malformed frame", "size", len(raw))
		return
	}

	switch cmd.kind {
	case framePing:
		c.reply(pongFrame)
	case frameTyping:
		if err := c.server.router.Typing(ctx, c.userID, cmd.target); err != nil {
			c.log.Debug("typing notice rejected", "error", err)
		}
	case frameMessage:
		// The router echoes accepted direct messages; only failures are answered here.
		if _, err := c.server.router.Submit(ctx, c.userID, cmd.draft); err != nil {
			c.log.Info("message rejected", "error", err)
			c.reply(encodeError(err))
		}
	}
}

func (c *Client) reply(payload []byte) {
	if err := c.Send(payload); err != nil {
		c.log.Debug("could not queue reply", "error", err)
	}
}

func (c *Client) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.server.registry.Unregister(c.userID, c)
		_ = c.Close()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("error closing connection in readPump", "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processFrame(ctx, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.server.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("error closing connection in writePump", "error", err)
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteWait)); err != nil {
		c.log.Debug("error setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !isExpectedCloseError(err) {
		c.log.Debug("error writing close message", "error", err)
	}
	return false
}

// writeTextMessage writes a single JSON payload as one text frame.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("error writing message", "error", err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteWait)); err != nil {
		c.log.Debug("error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("error writing ping message", "error", err)
		return false
	}
	return true
}
