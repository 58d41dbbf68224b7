package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/relay/internal/event"
	"github.com/johndosdos/relay/internal/model"
	"github.com/johndosdos/relay/internal/presence"
	"github.com/johndosdos/relay/internal/relay"
	"github.com/johndosdos/relay/internal/store"
)

func startHub(t *testing.T, s store.Store) *relay.Hub {
	t.Helper()

	h := relay.NewHub(s, presence.NewRegistry(), 100, 3*time.Second, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func connect(t *testing.T, h *relay.Hub) *relay.Client {
	t.Helper()

	c := relay.NewClient(nil)
	reg := relay.Registration{Client: c, Done: make(chan struct{})}
	h.Register <- reg
	select {
	case <-reg.Done:
	case <-time.After(time.Second):
		t.Fatal("hub did not complete registration")
	}
	return c
}

func emit(h *relay.Hub, c *relay.Client, ev event.Inbound) {
	h.Inbound <- relay.Inbound{From: c, Event: ev}
}

func join(h *relay.Hub, c *relay.Client, username string) {
	emit(h, c, event.Inbound{Type: event.TypeJoin, Username: username})
}

func recv(t *testing.T, c *relay.Client) event.Outbound {
	t.Helper()

	select {
	case ev, ok := <-c.Send:
		require.True(t, ok, "send channel closed while expecting an event")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return event.Outbound{}
	}
}

func expectType(t *testing.T, c *relay.Client, eventType string) event.Outbound {
	t.Helper()

	ev := recv(t, c)
	require.Equal(t, eventType, ev.Type)
	return ev
}

func expectSilence(t *testing.T, c *relay.Client) {
	t.Helper()

	select {
	case ev, ok := <-c.Send:
		if ok {
			t.Fatalf("expected no event, got %q", ev.Type)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestJoinDeliversHistoryAndPresence(t *testing.T) {
	h := startHub(t, store.NewMemory(100))
	alice := connect(t, h)

	join(h, alice, "Alice")

	history := expectType(t, alice, event.TypeHistory)
	assert.Empty(t, history.Messages)

	// The first joiner's empty history must encode as an empty array,
	// not an absent field.
	frame, err := json.Marshal(history)
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"messages":[]`)

	joined := expectType(t, alice, event.TypeUserJoined)
	require.NotNil(t, joined.User)
	assert.Equal(t, "Alice", joined.User.Username)
	assert.Equal(t, alice.ID, joined.User.UserID)
	assert.Equal(t, model.Avatar("Alice"), joined.User.Avatar)

	online := expectType(t, alice, event.TypeOnlineUsers)
	require.Len(t, online.Users, 1)
	assert.Equal(t, "Alice", online.Users[0].Username)
}

func TestSendBroadcastsToAllConnections(t *testing.T) {
	h := startHub(t, store.NewMemory(100))

	alice := connect(t, h)
	join(h, alice, "Alice")
	expectType(t, alice, event.TypeHistory)
	expectType(t, alice, event.TypeUserJoined)
	expectType(t, alice, event.TypeOnlineUsers)

	bob := connect(t, h)
	join(h, bob, "Bob")
	expectType(t, bob, event.TypeHistory)
	expectType(t, alice, event.TypeUserJoined)
	expectType(t, alice, event.TypeOnlineUsers)
	expectType(t, bob, event.TypeUserJoined)
	expectType(t, bob, event.TypeOnlineUsers)

	emit(h, alice, event.Inbound{Type: event.TypeMessage, Text: "hi"})

	for _, c := range []*relay.Client{alice, bob} {
		msg := expectType(t, c, event.TypeMessage)
		require.NotNil(t, msg.Message)
		assert.Equal(t, "Alice", msg.Message.Username)
		assert.Equal(t, "hi", msg.Message.Text)
		assert.Equal(t, model.Avatar("Alice"), msg.Message.Avatar)
		assert.False(t, msg.Message.Timestamp.IsZero())

		// Sending always refreshes the typing set, even when empty, and
		// the empty set still carries its payload field on the wire.
		typing := expectType(t, c, event.TypeTyping)
		assert.Empty(t, typing.Typing)
		frame, err := json.Marshal(typing)
		require.NoError(t, err)
		assert.Contains(t, string(frame), `"typing":[]`)
	}
}

func TestLateJoinerReceivesHistory(t *testing.T) {
	h := startHub(t, store.NewMemory(100))

	alice := connect(t, h)
	join(h, alice, "Alice")
	expectType(t, alice, event.TypeHistory)
	expectType(t, alice, event.TypeUserJoined)
	expectType(t, alice, event.TypeOnlineUsers)

	emit(h, alice, event.Inbound{Type: event.TypeMessage, Text: "hi"})
	expectType(t, alice, event.TypeMessage)
	expectType(t, alice, event.TypeTyping)

	bob := connect(t, h)
	join(h, bob, "Bob")

	history := expectType(t, bob, event.TypeHistory)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "Alice", history.Messages[0].Username)
	assert.Equal(t, "hi", history.Messages[0].Text)

	expectType(t, bob, event.TypeUserJoined)
	online := expectType(t, bob, event.TypeOnlineUsers)
	require.Len(t, online.Users, 2)
	assert.Equal(t, "Alice", online.Users[0].Username)
	assert.Equal(t, "Bob", online.Users[1].Username)
}

func TestTypingFanOut(t *testing.T) {
	h := startHub(t, store.NewMemory(100))

	alice := connect(t, h)
	join(h, alice, "Alice")
	expectType(t, alice, event.TypeHistory)
	expectType(t, alice, event.TypeUserJoined)
	expectType(t, alice, event.TypeOnlineUsers)

	bob := connect(t, h)
	join(h, bob, "Bob")
	expectType(t, alice, event.TypeUserJoined)
	expectType(t, alice, event.TypeOnlineUsers)
	expectType(t, bob, event.TypeHistory)
	expectType(t, bob, event.TypeUserJoined)
	expectType(t, bob, event.TypeOnlineUsers)

	emit(h, alice, event.Inbound{Type: event.TypeTyping, IsTyping: true})

	for _, c := range []*relay.Client{alice, bob} {
		typing := expectType(t, c, event.TypeTyping)
		assert.Equal(t, []string{"Alice"}, typing.Typing)
	}

	// Sending clears the flag in the same logical step.
	emit(h, alice, event.Inbound{Type: event.TypeMessage, Text: "done"})
	for _, c := range []*relay.Client{alice, bob} {
		expectType(t, c, event.TypeMessage)
		typing := expectType(t, c, event.TypeTyping)
		assert.Empty(t, typing.Typing)
	}
}

func TestEventsBeforeJoinAreIgnored(t *testing.T) {
	h := startHub(t, store.NewMemory(100))

	alice := connect(t, h)
	join(h, alice, "Alice")
	expectType(t, alice, event.TypeHistory)
	expectType(t, alice, event.TypeUserJoined)
	expectType(t, alice, event.TypeOnlineUsers)

	lurker := connect(t, h)
	emit(h, lurker, event.Inbound{Type: event.TypeMessage, Text: "sneaky"})
	emit(h, lurker, event.Inbound{Type: event.TypeTyping, IsTyping: true})

	expectSilence(t, alice)
	expectSilence(t, lurker)
}

func TestDisconnectWithoutJoinIsSilent(t *testing.T) {
	h := startHub(t, store.NewMemory(100))

	alice := connect(t, h)
	join(h, alice, "Alice")
	expectType(t, alice, event.TypeHistory)
	expectType(t, alice, event.TypeUserJoined)
	expectType(t, alice, event.TypeOnlineUsers)

	lurker := connect(t, h)
	lurker.Disconnect(h)

	expectSilence(t, alice)
}

func TestDisconnectAfterJoinBroadcastsDeparture(t *testing.T) {
	h := startHub(t, store.NewMemory(100))

	alice := connect(t, h)
	join(h, alice, "Alice")
	expectType(t, alice, event.TypeHistory)
	expectType(t, alice, event.TypeUserJoined)
	expectType(t, alice, event.TypeOnlineUsers)

	bob := connect(t, h)
	join(h, bob, "Bob")
	expectType(t, alice, event.TypeUserJoined)
	expectType(t, alice, event.TypeOnlineUsers)
	expectType(t, bob, event.TypeHistory)
	expectType(t, bob, event.TypeUserJoined)
	expectType(t, bob, event.TypeOnlineUsers)

	// Bob is typing when the connection drops.
	emit(h, bob, event.Inbound{Type: event.TypeTyping, IsTyping: true})
	expectType(t, alice, event.TypeTyping)
	expectType(t, bob, event.TypeTyping)

	bob.Disconnect(h)

	left := expectType(t, alice, event.TypeUserLeft)
	require.NotNil(t, left.User)
	assert.Equal(t, "Bob", left.User.Username)
	assert.Equal(t, bob.ID, left.User.UserID)

	online := expectType(t, alice, event.TypeOnlineUsers)
	require.Len(t, online.Users, 1)
	assert.Equal(t, "Alice", online.Users[0].Username)

	typing := expectType(t, alice, event.TypeTyping)
	assert.Empty(t, typing.Typing, "disconnect must clear the typing flag")
}

func TestDisconnectIsDeliveredOnce(t *testing.T) {
	h := startHub(t, store.NewMemory(100))

	alice := connect(t, h)
	join(h, alice, "Alice")
	expectType(t, alice, event.TypeHistory)
	expectType(t, alice, event.TypeUserJoined)
	expectType(t, alice, event.TypeOnlineUsers)

	bob := connect(t, h)
	join(h, bob, "Bob")
	expectType(t, alice, event.TypeUserJoined)
	expectType(t, alice, event.TypeOnlineUsers)

	bob.Disconnect(h)
	bob.Disconnect(h)

	expectType(t, alice, event.TypeUserLeft)
	expectType(t, alice, event.TypeOnlineUsers)
	expectType(t, alice, event.TypeTyping)
	expectSilence(t, alice)
}

func TestRejoinReplacesProfileWithoutDuplicate(t *testing.T) {
	h := startHub(t, store.NewMemory(100))

	alice := connect(t, h)
	join(h, alice, "Alice")
	expectType(t, alice, event.TypeHistory)
	expectType(t, alice, event.TypeUserJoined)
	expectType(t, alice, event.TypeOnlineUsers)

	join(h, alice, "Alicia")
	expectType(t, alice, event.TypeHistory)
	joined := expectType(t, alice, event.TypeUserJoined)
	assert.Equal(t, "Alicia", joined.User.Username)

	online := expectType(t, alice, event.TypeOnlineUsers)
	require.Len(t, online.Users, 1)
	assert.Equal(t, "Alicia", online.Users[0].Username)
}

func TestRejoinRetiresOldTypingName(t *testing.T) {
	h := startHub(t, store.NewMemory(100))

	alice := connect(t, h)
	join(h, alice, "Alice")
	expectType(t, alice, event.TypeHistory)
	expectType(t, alice, event.TypeUserJoined)
	expectType(t, alice, event.TypeOnlineUsers)

	emit(h, alice, event.Inbound{Type: event.TypeTyping, IsTyping: true})
	typing := expectType(t, alice, event.TypeTyping)
	assert.Equal(t, []string{"Alice"}, typing.Typing)

	// Changing names on re-join must not leave the old name stuck in
	// the typing set.
	join(h, alice, "Alicia")
	expectType(t, alice, event.TypeHistory)
	expectType(t, alice, event.TypeUserJoined)
	expectType(t, alice, event.TypeOnlineUsers)

	emit(h, alice, event.Inbound{Type: event.TypeTyping, IsTyping: true})
	typing = expectType(t, alice, event.TypeTyping)
	assert.Equal(t, []string{"Alicia"}, typing.Typing)
}

func TestJoinClampsUsername(t *testing.T) {
	h := startHub(t, store.NewMemory(100))

	alice := connect(t, h)
	join(h, alice, "  "+strings.Repeat("a", 30)+"  ")

	expectType(t, alice, event.TypeHistory)
	joined := expectType(t, alice, event.TypeUserJoined)
	assert.Equal(t, strings.Repeat("a", 20), joined.User.Username)
}

func TestJoinWithEmptyUsernameIsIgnored(t *testing.T) {
	h := startHub(t, store.NewMemory(100))

	alice := connect(t, h)
	join(h, alice, "   ")
	expectSilence(t, alice)

	// Still not active, so sends stay silent too.
	emit(h, alice, event.Inbound{Type: event.TypeMessage, Text: "hi"})
	expectSilence(t, alice)
}

func TestMessageBodyIsSanitized(t *testing.T) {
	h := startHub(t, store.NewMemory(100))

	alice := connect(t, h)
	join(h, alice, "Alice")
	expectType(t, alice, event.TypeHistory)
	expectType(t, alice, event.TypeUserJoined)
	expectType(t, alice, event.TypeOnlineUsers)

	emit(h, alice, event.Inbound{Type: event.TypeMessage, Text: "<b>hi</b> there"})

	msg := expectType(t, alice, event.TypeMessage)
	assert.Equal(t, "hi there", msg.Message.Text)
}

// deadStore refuses every operation, standing in for a backend that
// vanished after startup.
type deadStore struct{}

var errDead = errors.New("backend gone")

func (deadStore) Append(context.Context, model.Message) (model.Message, error) {
	return model.Message{}, errDead
}
func (deadStore) ReadRecent(context.Context, int) ([]model.Message, error) { return nil, errDead }
func (deadStore) HealthCheck(context.Context) error                        { return errDead }
func (deadStore) ClearCorrupted(context.Context)                           {}

func TestSendSurvivesPersistenceLoss(t *testing.T) {
	fb := store.NewFallback(deadStore{}, 100, slog.Default())
	h := startHub(t, fb)

	alice := connect(t, h)
	join(h, alice, "Alice")
	history := expectType(t, alice, event.TypeHistory)
	assert.Empty(t, history.Messages)
	expectType(t, alice, event.TypeUserJoined)
	expectType(t, alice, event.TypeOnlineUsers)

	emit(h, alice, event.Inbound{Type: event.TypeMessage, Text: "still here"})

	msg := expectType(t, alice, event.TypeMessage)
	assert.Equal(t, "still here", msg.Message.Text)
	expectType(t, alice, event.TypeTyping)

	assert.True(t, fb.Degraded())

	// The fallback log keeps serving history.
	bob := connect(t, h)
	join(h, bob, "Bob")
	history = expectType(t, bob, event.TypeHistory)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "still here", history.Messages[0].Text)
}
