// Package event defines the wire events exchanged over a websocket
// connection. Every frame is a single JSON object carrying a type tag.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/johndosdos/relay/internal/model"
)

// Inbound event types (client -> relay).
const (
	TypeJoin    = "join"
	TypeMessage = "message"
	TypeTyping  = "typing"
)

// Outbound event types (relay -> client).
const (
	TypeHistory     = "history"
	TypeUserJoined  = "user-joined"
	TypeUserLeft    = "user-left"
	TypeOnlineUsers = "online-users"
	// message and typing reuse the inbound type tags.
)

// Inbound is a decoded client event. Exactly one payload field is
// meaningful depending on Type.
type Inbound struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Text     string `json:"text,omitempty"`
	IsTyping bool   `json:"isTyping,omitempty"`
}

// Decode parses a raw websocket text frame into an Inbound event.
func Decode(p []byte) (Inbound, error) {
	var ev Inbound
	if err := json.Unmarshal(p, &ev); err != nil {
		return Inbound{}, fmt.Errorf("event: decode frame: %w", err)
	}
	switch ev.Type {
	case TypeJoin, TypeMessage, TypeTyping:
		return ev, nil
	default:
		return Inbound{}, fmt.Errorf("event: unknown type %q", ev.Type)
	}
}

// Outbound is a relay event ready for fan-out. The list payloads are
// never tagged omitempty: an empty history, presence list, or typing
// set must reach the wire as [], since clients iterate the field
// unconditionally.
type Outbound struct {
	Type     string          `json:"type"`
	Message  *model.Message  `json:"message,omitempty"`
	Messages []model.Message `json:"messages"`
	User     *UserRef        `json:"user,omitempty"`
	Users    []model.Profile `json:"users"`
	Typing   []string        `json:"typing"`
}

// UserRef identifies a participant in user-joined / user-left payloads.
type UserRef struct {
	Username string    `json:"username"`
	UserID   uuid.UUID `json:"userId"`
	Avatar   string    `json:"avatar,omitempty"`
}

// History builds the unicast snapshot sent to a joining connection.
func History(msgs []model.Message) Outbound {
	if msgs == nil {
		msgs = []model.Message{}
	}
	return Outbound{Type: TypeHistory, Messages: msgs}
}

// NewMessage wraps a stored message for broadcast.
func NewMessage(msg model.Message) Outbound {
	return Outbound{Type: TypeMessage, Message: &msg}
}

// UserJoined announces a participant to every connection.
func UserJoined(p model.Participant) Outbound {
	return Outbound{Type: TypeUserJoined, User: &UserRef{
		Username: p.Username,
		UserID:   p.ConnID,
		Avatar:   p.Avatar,
	}}
}

// UserLeft announces a departure to every connection.
func UserLeft(p model.Participant) Outbound {
	return Outbound{Type: TypeUserLeft, User: &UserRef{
		Username: p.Username,
		UserID:   p.ConnID,
	}}
}

// OnlineUsers carries a fresh presence snapshot.
func OnlineUsers(users []model.Profile) Outbound {
	if users == nil {
		users = []model.Profile{}
	}
	return Outbound{Type: TypeOnlineUsers, Users: users}
}

// TypingUsers carries the full typing set after any typing change.
func TypingUsers(users []string) Outbound {
	if users == nil {
		users = []string{}
	}
	return Outbound{Type: TypeTyping, Typing: users}
}
