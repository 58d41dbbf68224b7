// Package model defines data structure.
package model

import (
	"time"

	"github.com/google/uuid"
)

// avatarPalette holds the gradient classes the client renders avatars with.
// A username always maps to the same entry within a process lifetime.
var avatarPalette = []string{
	"bg-gradient-to-r from-purple-500 to-pink-500",
	"bg-gradient-to-r from-blue-500 to-cyan-500",
	"bg-gradient-to-r from-green-500 to-emerald-500",
	"bg-gradient-to-r from-orange-500 to-red-500",
	"bg-gradient-to-r from-indigo-500 to-purple-500",
	"bg-gradient-to-r from-pink-500 to-rose-500",
	"bg-gradient-to-r from-teal-500 to-green-500",
	"bg-gradient-to-r from-yellow-500 to-orange-500",
}

// Avatar derives the avatar class for a username: sum of rune values
// modulo the palette size.
func Avatar(username string) string {
	var sum int
	for _, r := range username {
		sum += int(r)
	}
	return avatarPalette[sum%len(avatarPalette)]
}

// Message holds information about a single chat message. Immutable once
// created; the backing store assigns ID.
type Message struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Avatar    string    `json:"avatar"`
	Timestamp time.Time `json:"timestamp"`
}

// Participant is the chat identity bound to a live connection after join.
type Participant struct {
	ConnID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar"`
}

// Profile is the public subset of a participant used in presence lists.
type Profile struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Profile returns the participant's public profile.
func (p Participant) Profile() Profile {
	return Profile{Username: p.Username, Avatar: p.Avatar}
}
