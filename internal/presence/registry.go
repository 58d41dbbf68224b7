// Package presence tracks who is connected and who is typing.
package presence

import (
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/johndosdos/relay/internal/model"
)

// Registry maps live connection ids to participants and maintains the
// typing set. The hub serializes all mutation, but the registry is
// locked anyway so snapshots are safe from any goroutine.
type Registry struct {
	mu           sync.RWMutex
	participants map[uuid.UUID]model.Participant
	order        []uuid.UUID
	typing       map[string]struct{}
	typingOrder  []string
}

func NewRegistry() *Registry {
	return &Registry{
		participants: make(map[uuid.UUID]model.Participant),
		typing:       make(map[string]struct{}),
	}
}

// Join registers a participant for the connection, deriving its avatar
// from the username. Joining again on the same connection replaces the
// previous profile. Duplicate usernames across connections are allowed.
func (r *Registry) Join(connID uuid.UUID, username string) model.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := model.Participant{
		ConnID:   connID,
		Username: username,
		Avatar:   model.Avatar(username),
	}
	if _, exists := r.participants[connID]; !exists {
		r.order = append(r.order, connID)
	}
	r.participants[connID] = p
	return p
}

// Leave removes and returns the participant bound to the connection.
func (r *Registry) Leave(connID uuid.UUID) (model.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[connID]
	if !ok {
		return model.Participant{}, false
	}
	delete(r.participants, connID)
	r.order = lo.Without(r.order, connID)
	return p, true
}

// Online snapshots the current membership in insertion order.
func (r *Registry) Online() []model.Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Map(r.order, func(id uuid.UUID, _ int) model.Profile {
		return r.participants[id].Profile()
	})
}

// SetTyping marks or unmarks a username as typing.
func (r *Registry) SetTyping(username string, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if isTyping {
		if _, ok := r.typing[username]; !ok {
			r.typing[username] = struct{}{}
			r.typingOrder = append(r.typingOrder, username)
		}
		return
	}
	r.clearTypingLocked(username)
}

// ClearTyping removes a username from the typing set.
func (r *Registry) ClearTyping(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearTypingLocked(username)
}

func (r *Registry) clearTypingLocked(username string) {
	if _, ok := r.typing[username]; !ok {
		return
	}
	delete(r.typing, username)
	r.typingOrder = lo.Without(r.typingOrder, username)
}

// Typing snapshots the typing set in insertion order.
func (r *Registry) Typing() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.typingOrder))
	copy(out, r.typingOrder)
	return out
}
