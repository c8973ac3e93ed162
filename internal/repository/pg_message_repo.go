package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat-relay/internal/domain"
)

const pgMessagesSchema = `
	CREATE TABLE IF NOT EXISTS messages (
		id         UUID PRIMARY KEY,
		username   TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		delivered  BOOLEAN NOT NULL DEFAULT false,
		seen_by    TEXT[] NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS messages_created_at_idx ON messages (created_at);
`

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

// EnsureSchema crea la tabla si no existe.
func (r *PgMessageRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, pgMessagesSchema); err != nil {
		return storeError("ensure schema", err)
	}
	return nil
}

func (r *PgMessageRepository) Create(ctx context.Context, message domain.Message) (domain.Message, error) {
	const query = `
		INSERT INTO messages (id, username, content, created_at, delivered, seen_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	message.ID = uuid.NewString()
	message.Timestamp = message.Timestamp.UTC().Truncate(time.Microsecond)
	if message.SeenBy == nil {
		message.SeenBy = []string{}
	}

	_, err := r.pool.Exec(ctx, query,
		message.ID,
		message.Username,
		message.Content,
		message.Timestamp,
		message.Delivered,
		message.SeenBy,
	)
	if err != nil {
		return domain.Message{}, storeError("insert message", err)
	}
	return message, nil
}

func (r *PgMessageRepository) List(ctx context.Context) ([]domain.Message, error) {
	const query = `
		SELECT id, username, content, created_at, delivered, seen_by
		FROM messages
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, storeError("query messages", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		err = rows.Scan(
			&msg.ID,
			&msg.Username,
			&msg.Content,
			&msg.Timestamp,
			&msg.Delivered,
			&msg.SeenBy,
		)
		if err != nil {
			return nil, storeError("scan message", err)
		}
		msg.Timestamp = msg.Timestamp.UTC()
		if msg.SeenBy == nil {
			msg.SeenBy = []string{}
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, storeError("iterate messages", err)
	}

	return messages, nil
}

func (r *PgMessageRepository) AddSeenBy(ctx context.Context, id, username string) error {
	const query = `
		UPDATE messages
		SET seen_by = CASE WHEN $2 = ANY(seen_by) THEN seen_by ELSE array_append(seen_by, $2) END
		WHERE id = $1
	`

	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	tag, err := r.pool.Exec(ctx, query, id, username)
	if err != nil {
		return storeError("add seen", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgMessageRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return storeError("ping", err)
	}
	return nil
}
