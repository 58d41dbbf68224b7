package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/relay/internal/model"
	"github.com/johndosdos/relay/internal/store"
)

func makeMessage(i int) model.Message {
	return model.Message{
		Username:  "alice",
		Text:      fmt.Sprintf("message %d", i),
		Avatar:    model.Avatar("alice"),
		Timestamp: time.Date(2026, 1, 1, 12, 0, i, 0, time.UTC),
	}
}

func TestMemoryAppendAssignsMonotonicIDs(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory(10)

	first, err := m.Append(ctx, makeMessage(0))
	require.NoError(t, err)
	second, err := m.Append(ctx, makeMessage(1))
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID)
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory(10)

	msg := makeMessage(0)
	stored, err := m.Append(ctx, msg)
	require.NoError(t, err)

	got, err := m.ReadRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, stored.ID, got[0].ID)
	assert.Equal(t, msg.Username, got[0].Username)
	assert.Equal(t, msg.Text, got[0].Text)
	assert.Equal(t, msg.Timestamp, got[0].Timestamp)
}

func TestMemoryFIFOEviction(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory(2)

	for i := 0; i < 3; i++ {
		_, err := m.Append(ctx, makeMessage(i))
		require.NoError(t, err)
	}

	got, err := m.ReadRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2, "log must never exceed its capacity")

	// Oldest-first, and only the last two survive.
	assert.Equal(t, "message 1", got[0].Text)
	assert.Equal(t, "message 2", got[1].Text)
}

func TestMemoryCapacityNeverExceeded(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory(5)

	for i := 0; i < 50; i++ {
		_, err := m.Append(ctx, makeMessage(i))
		require.NoError(t, err)

		got, err := m.ReadRecent(ctx, 50)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(got), 5)
	}
}

func TestMemoryReadRecentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory(10)

	for i := 0; i < 4; i++ {
		_, err := m.Append(ctx, makeMessage(i))
		require.NoError(t, err)
	}

	first, err := m.ReadRecent(ctx, 3)
	require.NoError(t, err)
	second, err := m.ReadRecent(ctx, 3)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestMemoryReadRecentLimit(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory(10)

	for i := 0; i < 4; i++ {
		_, err := m.Append(ctx, makeMessage(i))
		require.NoError(t, err)
	}

	got, err := m.ReadRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// The two most recent entries, chronological order.
	assert.Equal(t, "message 2", got[0].Text)
	assert.Equal(t, "message 3", got[1].Text)
}

func TestMemoryHealthCheck(t *testing.T) {
	m := store.NewMemory(10)
	assert.NoError(t, m.HealthCheck(context.Background()))
}
