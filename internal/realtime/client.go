package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chat-relay/internal/domain"
	"chat-relay/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// EventHandler recibe el ciclo de vida y los eventos de cada conexion.
type EventHandler interface {
	OnConnect(ctx context.Context, peer service.Peer)
	OnEvent(ctx context.Context, peer service.Peer, event string, data json.RawMessage)
	OnDisconnect(ctx context.Context, peer service.Peer)
}

// ClientOptions limita tamaño de frame y ritmo de eventos entrantes.
type ClientOptions struct {
	MaxMessageSize int64
	EventRate      float64
	EventBurst     int
}

// Client es una conexion WebSocket. Implementa service.Peer.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	events  EventHandler
	addr    string
	closed  bool
	limiter *rate.Limiter
	logger  *zap.Logger
}

func newClient(conn *websocket.Conn, hub *Hub, events EventHandler, addr string, opts ClientOptions) *Client {
	if conn != nil && opts.MaxMessageSize > 0 {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	var limiter *rate.Limiter
	if opts.EventRate > 0 && opts.EventBurst > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.EventRate), opts.EventBurst)
	}
	id := uuid.NewString()
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		hub:     hub,
		events:  events,
		addr:    addr,
		limiter: limiter,
		logger:  hub.logger.With(zap.String("conn_id", id)),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Emit encola un evento solo para esta conexion. Si ya se desconecto, se descarta.
func (c *Client) Emit(event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	if !c.hub.safeSend(c, frame) {
		return ErrClientClosed
	}
	return nil
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("set read deadline failed", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		c.logger.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("client connection closed", zap.Error(err))
	default:
		c.logger.Warn("websocket read error", zap.Error(err))
	}
}

func (c *Client) allowEvent() bool {
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warn("event rate exceeded, dropping frame")
		return false
	}
	return true
}

func (c *Client) readPump() {
	ctx := c.hub.ctx
	defer func() {
		c.hub.unregisterClient(c)
		c.events.OnDisconnect(ctx, c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("close connection in readPump failed", zap.Error(err))
		}
	}()

	c.setupReadConnection()
	c.events.OnConnect(ctx, c)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if !c.allowEvent() {
			continue
		}

		var env domain.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.logger.Warn("invalid frame ignored", zap.Int("bytes", len(raw)), zap.Error(err))
			continue
		}
		c.events.OnEvent(ctx, c, env.Event, env.Data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("close connection in writePump failed", zap.Error(err))
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeMessage(message, ok) {
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				return
			}
		case <-c.hub.ctx.Done():
			return
		}
	}
}

// writeMessage escribe un frame por evento; ok == false significa que el hub cerro el canal.
func (c *Client) writeMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if !ok {
		_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("write message failed", zap.Error(err))
		}
		return false
	}
	return true
}

func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug("write ping failed", zap.Error(err))
		return false
	}
	return true
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
