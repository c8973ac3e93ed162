package repository

import (
	"context"
	"errors"
	"fmt"

	"chat-relay/internal/domain"
)

var (
	// ErrNotFound indica que el id no referencia un mensaje existente (incluye ids mal formados).
	ErrNotFound = errors.New("message not found")
	// ErrStoreUnavailable envuelve cualquier fallo del backend de persistencia.
	ErrStoreUnavailable = errors.New("message store unavailable")
)

// MessageRepository es la capacidad de persistencia que usa el gateway.
// Create asigna el id; AddSeenBy es idempotente.
type MessageRepository interface {
	Create(ctx context.Context, message domain.Message) (domain.Message, error)
	List(ctx context.Context) ([]domain.Message, error)
	AddSeenBy(ctx context.Context, id, username string) error
	Ping(ctx context.Context) error
}

func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
