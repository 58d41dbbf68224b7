package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/johndosdos/relay/internal/model"
)

const msgPrefix = "msg:"

// Badger keeps the log in a BadgerDB key space. Keys embed a 19-digit
// zero-padded nanosecond timestamp so lexicographic order is
// chronological, plus a uuid to disambiguate same-nanosecond writes.
type Badger struct {
	db       *badger.DB
	capacity int
	log      *slog.Logger
}

func NewBadger(db *badger.DB, capacity int, log *slog.Logger) *Badger {
	return &Badger{db: db, capacity: capacity, log: log}
}

func msgKey(msg model.Message) []byte {
	return fmt.Appendf(nil, "%s%019d:%s", msgPrefix, msg.Timestamp.UnixNano(), uuid.NewString())
}

func (b *Badger) Append(ctx context.Context, msg model.Message) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	msg.ID = msg.Timestamp.UnixNano()
	value, err := json.Marshal(msg)
	if err != nil {
		return model.Message{}, fmt.Errorf("store: encode message: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(msgKey(msg), value); err != nil {
			return err
		}

		// Drop-oldest trim in the same transaction. Keys sort
		// chronologically, so a forward scan visits oldest first.
		var keys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(msgPrefix)); it.ValidForPrefix([]byte(msgPrefix)); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for i := 0; i < len(keys)-b.capacity; i++ {
			if err := txn.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("store: append message: %w", err)
	}
	return msg, nil
}

func (b *Badger) ReadRecent(ctx context.Context, limit int) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		parsed  []model.Message
		corrupt [][]byte
	)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the newest possible key, then walk backwards.
		seek := append([]byte(msgPrefix), []byte("9999999999999999999:")...)
		for it.Seek(seek); it.ValidForPrefix([]byte(msgPrefix)); it.Next() {
			if len(parsed) == limit {
				break
			}
			item := it.Item()
			err := item.Value(func(value []byte) error {
				var msg model.Message
				if err := json.Unmarshal(value, &msg); err != nil {
					b.log.Warn("skipping corrupt message record",
						"key", string(item.Key()), "error", err)
					corrupt = append(corrupt, item.KeyCopy(nil))
					return nil
				}
				parsed = append(parsed, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: read recent messages: %w", err)
	}

	if len(parsed) == 0 && len(corrupt) > 0 {
		b.purge(corrupt)
		return []model.Message{}, nil
	}

	// Reverse scan yields newest-first; flip to chronological order.
	for i, j := 0, len(parsed)-1; i < j; i, j = i+1, j-1 {
		parsed[i], parsed[j] = parsed[j], parsed[i]
	}
	return parsed, nil
}

func (b *Badger) HealthCheck(_ context.Context) error {
	if b.db.IsClosed() {
		return fmt.Errorf("%w: badger db closed", ErrUnavailable)
	}
	return nil
}

// ClearCorrupted walks the whole key space and deletes values that no
// longer deserialize. Best effort.
func (b *Badger) ClearCorrupted(_ context.Context) {
	var corrupt [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(msgPrefix)); it.ValidForPrefix([]byte(msgPrefix)); it.Next() {
			item := it.Item()
			err := item.Value(func(value []byte) error {
				var msg model.Message
				if err := json.Unmarshal(value, &msg); err != nil {
					corrupt = append(corrupt, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.log.Warn("corruption sweep failed", "error", err)
		return
	}
	b.purge(corrupt)
}

func (b *Badger) purge(keys [][]byte) {
	if len(keys) == 0 {
		return
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.log.Warn("failed to purge corrupt records", "count", len(keys), "error", err)
		return
	}
	b.log.Info("purged corrupt message records", "count", len(keys))
}
