// Package relay contains the broadcast coordinator. A single hub
// goroutine owns every piece of shared chat state: the presence
// registry, the message log handle, and the per-connection protocol
// state. All inbound events across all connections funnel through one
// channel, so no two events ever race against that state.
package relay

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/johndosdos/relay/internal/event"
	"github.com/johndosdos/relay/internal/model"
	"github.com/johndosdos/relay/internal/presence"
	"github.com/johndosdos/relay/internal/store"
)

const maxUsernameLen = 20

type sanitizer interface {
	Sanitize(s string) string
	SanitizeBytes(p []byte) []byte
}

// Registration pairs a client with a done channel so the gateway can
// wait until the hub has taken ownership.
type Registration struct {
	Client *Client
	Done   chan struct{}
}

// Inbound is a client event tagged with its origin connection.
type Inbound struct {
	From  *Client
	Event event.Inbound
}

// Hub contains functions needed for the relay state management.
type Hub struct {
	store        store.Store
	registry     *presence.Registry
	sanitizer    sanitizer
	log          *slog.Logger
	historyLimit int
	storeTimeout time.Duration

	clients    map[uuid.UUID]*Client
	Register   chan Registration
	Unregister chan *Client
	Inbound    chan Inbound
}

// NewHub returns a new instance of Hub.
func NewHub(s store.Store, registry *presence.Registry, historyLimit int, storeTimeout time.Duration, log *slog.Logger) *Hub {
	return &Hub{
		store:        s,
		registry:     registry,
		sanitizer:    bluemonday.StrictPolicy(),
		log:          log,
		historyLimit: historyLimit,
		storeTimeout: storeTimeout,
		clients:      make(map[uuid.UUID]*Client),
		Register:     make(chan Registration),
		Unregister:   make(chan *Client),
		Inbound:      make(chan Inbound, 1024),
	}
}

// Run manages incoming and outgoing hub traffic.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case reg := <-h.Register:
			c := reg.Client
			c.state = stateConnected
			h.clients[c.ID] = c
			close(reg.Done)

		case c := <-h.Unregister:
			h.handleDisconnect(c)

		case in := <-h.Inbound:
			h.dispatch(ctx, in)

		case <-ctx.Done():
			h.log.Info("hub stopped", "reason", ctx.Err())
			return
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, in Inbound) {
	c := in.From
	if c.state == stateClosed {
		return
	}

	switch in.Event.Type {
	case event.TypeJoin:
		h.handleJoin(ctx, c, in.Event.Username)

	case event.TypeMessage:
		// Events before a successful join are a silent no-op.
		if c.state != stateActive {
			return
		}
		h.handleMessage(ctx, c, in.Event.Text)

	case event.TypeTyping:
		if c.state != stateActive {
			return
		}
		h.handleTyping(c, in.Event.IsTyping)
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, username string) {
	username = strings.TrimSpace(username)
	if username == "" {
		return
	}
	if runes := []rune(username); len(runes) > maxUsernameLen {
		username = string(runes[:maxUsernameLen])
	}

	// A second join on the same connection replaces the profile. The
	// outgoing name's typing flag is retired with it, the same as a
	// disconnect would.
	if c.state == stateActive {
		h.registry.ClearTyping(c.participant.Username)
	}
	c.participant = h.registry.Join(c.ID, username)
	c.state = stateActive

	storeCtx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	history, err := h.store.ReadRecent(storeCtx, h.historyLimit)
	cancel()
	if err != nil {
		h.log.Error("failed to load history", "error", err)
		history = nil
	}

	h.unicast(c, event.History(history))
	h.broadcast(event.UserJoined(c.participant))
	h.broadcast(event.OnlineUsers(h.registry.Online()))
}

func (h *Hub) handleMessage(ctx context.Context, c *Client, text string) {
	if c.messageLim != nil && !c.messageLim.Allow() {
		h.log.Warn("dropping message over rate limit",
			"conn_id", c.ID, "username", c.participant.Username)
		return
	}

	msg := model.Message{
		Username:  c.participant.Username,
		Text:      h.sanitizer.Sanitize(text),
		Avatar:    c.participant.Avatar,
		Timestamp: time.Now().UTC(),
	}

	storeCtx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	stored, err := h.store.Append(storeCtx, msg)
	cancel()
	if err != nil {
		// The fallback wrapper makes this unreachable in production
		// wiring; a bare backend may still fail. The message is
		// broadcast regardless so the sender never loses it.
		h.log.Error("failed to persist message", "error", err)
		stored = msg
	}

	h.broadcast(event.NewMessage(stored))

	// Sending always clears the typing flag, and the refreshed set is
	// broadcast even when it was already empty for this sender.
	h.registry.ClearTyping(c.participant.Username)
	h.broadcast(event.TypingUsers(h.registry.Typing()))
}

func (h *Hub) handleTyping(c *Client, isTyping bool) {
	if c.typingLim != nil && !c.typingLim.Allow() {
		return
	}

	h.registry.SetTyping(c.participant.Username, isTyping)
	h.broadcast(event.TypingUsers(h.registry.Typing()))
}

func (h *Hub) handleDisconnect(c *Client) {
	if _, ok := h.clients[c.ID]; !ok {
		return
	}

	wasActive := c.state == stateActive
	c.state = stateClosed
	delete(h.clients, c.ID)
	close(c.Send)

	// A connection that never joined leaves without a trace.
	if !wasActive {
		return
	}

	p, ok := h.registry.Leave(c.ID)
	if !ok {
		return
	}
	h.registry.ClearTyping(p.Username)

	h.broadcast(event.UserLeft(p))
	h.broadcast(event.OnlineUsers(h.registry.Online()))
	h.broadcast(event.TypingUsers(h.registry.Typing()))
}

func (h *Hub) broadcast(ev event.Outbound) {
	for _, c := range h.clients {
		select {
		case c.Send <- ev:
		default:
			h.log.Warn("skipping event payload - channel full or client slow",
				"conn_id", c.ID, "event_type", ev.Type)
		}
	}
}

func (h *Hub) unicast(c *Client, ev event.Outbound) {
	select {
	case c.Send <- ev:
	default:
		h.log.Warn("skipping event payload - channel full or client slow",
			"conn_id", c.ID, "event_type", ev.Type)
	}
}
