package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/johndosdos/relay/internal/model"
)

// Fallback wraps an external backend and degrades to an in-process log
// the first time the backend fails. The degradation is permanent for the
// process lifetime; there is no retry or reconnect. Callers never see a
// persistence error, so the relay keeps serving through total backend
// loss.
type Fallback struct {
	mu       sync.Mutex
	primary  Store
	memory   *Memory
	degraded bool
	log      *slog.Logger
}

func NewFallback(primary Store, capacity int, log *slog.Logger) *Fallback {
	return &Fallback{
		primary: primary,
		memory:  NewMemory(capacity),
		log:     log,
	}
}

// Degraded reports whether the wrapper has switched to the in-memory log.
func (f *Fallback) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

func (f *Fallback) degrade(op string, err error) {
	if !f.degraded {
		f.degraded = true
		f.log.Error("persistence backend lost, falling back to in-memory log",
			"op", op, "error", err)
	}
}

// Append writes through the active backend. A primary failure replays
// the write into the memory log so the message still reaches broadcast.
func (f *Fallback) Append(ctx context.Context, msg model.Message) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.degraded {
		stored, err := f.primary.Append(ctx, msg)
		if err == nil {
			return stored, nil
		}
		f.degrade("append", err)
	}
	return f.memory.Append(ctx, msg)
}

func (f *Fallback) ReadRecent(ctx context.Context, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.degraded {
		msgs, err := f.primary.ReadRecent(ctx, limit)
		if err == nil {
			return msgs, nil
		}
		f.degrade("read_recent", err)
	}
	return f.memory.ReadRecent(ctx, limit)
}

func (f *Fallback) HealthCheck(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.degraded {
		return f.memory.HealthCheck(ctx)
	}
	if err := f.primary.HealthCheck(ctx); err != nil {
		f.degrade("health_check", err)
	}
	return nil
}

func (f *Fallback) ClearCorrupted(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.degraded {
		f.memory.ClearCorrupted(ctx)
		return
	}
	f.primary.ClearCorrupted(ctx)
}
