package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/johndosdos/relay/internal/event"
	"github.com/johndosdos/relay/internal/model"
)

// connState is the per-connection protocol state. A connection starts
// out connected, becomes active after a join, and is closed exactly
// once. Only the hub loop reads or writes it.
type connState int

const (
	stateConnected connState = iota
	stateActive
	stateClosed
)

// Client is one live connection. The hub owns its protocol state and
// participant; the write pump drains Send onto the socket.
type Client struct {
	ID   uuid.UUID
	Send chan event.Outbound

	conn        *websocket.Conn
	state       connState
	participant model.Participant

	messageLim *rate.Limiter
	typingLim  *rate.Limiter

	unregisterOnce sync.Once
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.New(),
		conn: conn,
		Send: make(chan event.Outbound, 64),
	}
}

func (c *Client) SetMessageLimiter(requests int, window time.Duration) {
	c.messageLim = rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
}

func (c *Client) SetTypingLimiter(requests int, window time.Duration) {
	c.typingLim = rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
}

// WritePump serializes outbound events onto the websocket stream until
// the send channel closes or the context is cancelled.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case ev, ok := <-c.Send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}

			frame, err := json.Marshal(ev)
			if err != nil {
				slog.ErrorContext(ctx, "failed to encode outbound event",
					"error", err,
					"event_type", ev.Type)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = c.conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				slog.WarnContext(ctx, "failed to write frame",
					"error", err,
					"event_type", ev.Type)
				continue
			}

		case <-ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "context cancelled")
			return
		}
	}
}

// ReadPump decodes inbound frames and forwards them to the hub. It
// blocks until the connection drops, then delivers the single
// disconnect for this connection.
func (c *Client) ReadPump(ctx context.Context, h *Hub) {
	defer func() {
		c.Disconnect(h)
		c.conn.CloseNow()
	}()

	for {
		msgType, p, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				status != -1 {
				slog.WarnContext(ctx, "websocket read failed", "error", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		ev, err := event.Decode(p)
		if err != nil {
			slog.WarnContext(ctx, "dropping malformed frame", "error", err)
			continue
		}

		h.Inbound <- Inbound{From: c, Event: ev}
	}
}

// Disconnect hands the connection to the hub for teardown. Safe to call
// more than once; only the first call reaches the hub, so abrupt
// network loss and normal closure cannot double-fire the transition.
func (c *Client) Disconnect(h *Hub) {
	c.unregisterOnce.Do(func() {
		h.Unregister <- c
	})
}
