// Package store provides the bounded message log behind the relay. The
// log is append-only up to a fixed capacity; inserting past capacity
// evicts the oldest entry first.
package store

import (
	"context"
	"errors"

	"github.com/johndosdos/relay/internal/model"
)

// ErrUnavailable marks a backend that could not be reached or timed out.
var ErrUnavailable = errors.New("store: backend unavailable")

// Store is the uniform contract over the message log backends. Append
// assigns the message id and trims the log to capacity in the same
// logical operation. ReadRecent returns up to limit messages,
// oldest-first, skipping records that no longer deserialize.
type Store interface {
	Append(ctx context.Context, msg model.Message) (model.Message, error)
	ReadRecent(ctx context.Context, limit int) ([]model.Message, error)
	HealthCheck(ctx context.Context) error
	ClearCorrupted(ctx context.Context)
}
