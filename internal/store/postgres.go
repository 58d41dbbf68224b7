package store

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/johndosdos/relay/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres keeps each message as a jsonb document in the messages table.
// The bigserial column gives us the monotonic message id.
type Postgres struct {
	pool     *pgxpool.Pool
	capacity int
	log      *slog.Logger
}

// NewPostgres connects, applies the embedded goose migrations, and
// returns the backend.
func NewPostgres(ctx context.Context, dsn string, capacity int, log *slog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect to postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}
	if err := db.Close(); err != nil {
		log.Warn("failed to close migration db handle", "error", err)
	}

	return &Postgres{pool: pool, capacity: capacity, log: log}, nil
}

func (p *Postgres) Append(ctx context.Context, msg model.Message) (model.Message, error) {
	doc, err := json.Marshal(msg)
	if err != nil {
		return model.Message{}, fmt.Errorf("store: encode message: %w", err)
	}

	row := p.pool.QueryRow(ctx, `INSERT INTO messages (doc) VALUES ($1) RETURNING id`, doc)
	if err := row.Scan(&msg.ID); err != nil {
		return model.Message{}, fmt.Errorf("store: insert message: %w", err)
	}

	// Drop-oldest trim is part of the same logical append.
	_, err = p.pool.Exec(ctx, `
		DELETE FROM messages
		WHERE id <= (SELECT id FROM messages ORDER BY id DESC OFFSET $1 LIMIT 1)`,
		p.capacity)
	if err != nil {
		return model.Message{}, fmt.Errorf("store: trim message log: %w", err)
	}

	return msg, nil
}

func (p *Postgres) ReadRecent(ctx context.Context, limit int) ([]model.Message, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, doc FROM messages ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: read recent messages: %w", err)
	}
	defer rows.Close()

	var (
		parsed  []model.Message
		corrupt []int64
	)
	for rows.Next() {
		var (
			id  int64
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("store: scan message row: %w", err)
		}

		var msg model.Message
		if err := json.Unmarshal(doc, &msg); err != nil {
			p.log.Warn("skipping corrupt message record", "id", id, "error", err)
			corrupt = append(corrupt, id)
			continue
		}
		msg.ID = id
		parsed = append(parsed, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: read recent messages: %w", err)
	}

	// Whole read set unparseable: purge it and hand back an empty log.
	if len(parsed) == 0 && len(corrupt) > 0 {
		p.purge(ctx, corrupt)
		return []model.Message{}, nil
	}

	// Rows arrive newest-first; callers want chronological order.
	for i, j := 0, len(parsed)-1; i < j; i, j = i+1, j-1 {
		parsed[i], parsed[j] = parsed[j], parsed[i]
	}
	return parsed, nil
}

func (p *Postgres) HealthCheck(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ClearCorrupted deletes every stored record that no longer
// deserializes. Best effort; failures are logged and swallowed.
func (p *Postgres) ClearCorrupted(ctx context.Context) {
	rows, err := p.pool.Query(ctx, `SELECT id, doc FROM messages`)
	if err != nil {
		p.log.Warn("corruption sweep failed", "error", err)
		return
	}
	defer rows.Close()

	var corrupt []int64
	for rows.Next() {
		var (
			id  int64
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			p.log.Warn("corruption sweep failed", "error", err)
			return
		}
		var msg model.Message
		if err := json.Unmarshal(doc, &msg); err != nil {
			corrupt = append(corrupt, id)
		}
	}
	if err := rows.Err(); err != nil {
		p.log.Warn("corruption sweep failed", "error", err)
		return
	}
	p.purge(ctx, corrupt)
}

func (p *Postgres) purge(ctx context.Context, ids []int64) {
	if len(ids) == 0 {
		return
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM messages WHERE id = ANY($1)`, ids); err != nil {
		p.log.Warn("failed to purge corrupt records", "count", len(ids), "error", err)
		return
	}
	p.log.Info("purged corrupt message records", "count", len(ids))
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
