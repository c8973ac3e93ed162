package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"chat-relay/internal/domain"
)

// MemoryMessageRepository guarda mensajes en memoria; se pierde al reiniciar.
type MemoryMessageRepository struct {
	mu       sync.RWMutex
	messages []domain.Message
	index    map[string]int
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{
		index: make(map[string]int),
	}
}

func (r *MemoryMessageRepository) Create(ctx context.Context, message domain.Message) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, storeError("insert message", err)
	}

	message.ID = uuid.NewString()
	message.Timestamp = message.Timestamp.UTC()
	message.SeenBy = slices.Clone(message.SeenBy)
	if message.SeenBy == nil {
		message.SeenBy = []string{}
	}

	r.mu.Lock()
	r.index[message.ID] = len(r.messages)
	r.messages = append(r.messages, message)
	r.mu.Unlock()

	return cloneMessage(message), nil
}

func (r *MemoryMessageRepository) List(ctx context.Context) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("list messages", err)
	}

	r.mu.RLock()
	out := make([]domain.Message, 0, len(r.messages))
	for _, msg := range r.messages {
		out = append(out, cloneMessage(msg))
	}
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b domain.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out, nil
}

func (r *MemoryMessageRepository) AddSeenBy(ctx context.Context, id, username string) error {
	if err := ctx.Err(); err != nil {
		return storeError("add seen", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		return ErrNotFound
	}
	if !r.messages[i].HasSeen(username) {
		r.messages[i].SeenBy = append(r.messages[i].SeenBy, username)
	}
	return nil
}

func (r *MemoryMessageRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func cloneMessage(m domain.Message) domain.Message {
	m.SeenBy = slices.Clone(m.SeenBy)
	if m.SeenBy == nil {
		m.SeenBy = []string{}
	}
	return m
}
