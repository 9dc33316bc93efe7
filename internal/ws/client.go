package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/emberlyhq/emberly-backend/internal/models"
)

const (
	maxMessageSize = 8 * 1024
	sendBuffer     = 256
)

// DispatchFunc handles one decoded inbound frame for a client.
type DispatchFunc func(ctx context.Context, c *Client, raw []byte)

// Client is one authenticated connection: the transport half of a Session.
// The hub tracks which user and rooms it belongs to; the pumps move frames
// between the socket and the send queue.
type Client struct {
	UserID         string
	ConversationID string // current conversation, set on join

	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	dispatch  DispatchFunc
	logger    zerolog.Logger
	pongWait  time.Duration
	writeWait time.Duration
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, dispatch DispatchFunc, logger zerolog.Logger, pongWait, writeWait time.Duration) *Client {
	return &Client{
		UserID:    userID,
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		dispatch:  dispatch,
		logger:    logger.With().Str("component", "client").Str("user_id", userID).Logger(),
		pongWait:  pongWait,
		writeWait: writeWait,
	}
}

// Close shuts the connection down once. Cleanup (hub unregister, presence
// broadcast) happens in the read pump's defer.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// enqueue hands a frame to the write pump without blocking. A client whose
// queue is full is disconnected rather than allowed to stall fan-out; it can
// reconnect and catch up from history.
func (c *Client) enqueue(frame []byte) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		c.logger.Warn().Msg("send queue full, dropping slow client")
		go c.Close()
	}
}

// SendEvent marshals and queues an outbound envelope for this client only.
func (c *Client) SendEvent(event string, data any) {
	frame, err := json.Marshal(models.OutEnvelope{Event: event, Data: data})
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("marshal event")
		return
	}
	c.enqueue(frame)
}

// SendError reports a handler failure to this client without closing the
// connection.
func (c *Client) SendError(message string) {
	c.SendEvent(models.EventError, models.ErrorPayload{Message: message})
}

// readPump reads inbound frames and dispatches them. The read deadline is the
// heartbeat window: a connection that misses its pongs is forcibly closed,
// which triggers the standard disconnect cleanup.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		c.hub.RefreshPresence(c.UserID)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		c.dispatch(context.Background(), c, raw)
	}
}

// writePump drains the send queue onto the socket and keeps the heartbeat
// going. One writer per connection; gorilla requires it.
func (c *Client) writePump() {
	pingPeriod := c.pongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
