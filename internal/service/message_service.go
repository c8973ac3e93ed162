package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"chat-relay/internal/domain"
	"chat-relay/internal/repository"
)

// MessageService encapsula la validación y persistencia de mensajes de chat.
type MessageService struct {
	repo repository.MessageRepository
	now  func() time.Time
}

var (
	ErrMessageServiceNotConfigured = errors.New("message service not configured")
	ErrMessageInvalidInput         = errors.New("message invalid input")
)

func NewMessageService(repo repository.MessageRepository) *MessageService {
	return &MessageService{repo: repo, now: time.Now}
}

// Create valida username y content y persiste el mensaje como entregado y sin lecturas.
func (s *MessageService) Create(ctx context.Context, username, content string) (domain.Message, error) {
	if s == nil || s.repo == nil {
		return domain.Message{}, ErrMessageServiceNotConfigured
	}

	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(content) == "" {
		return domain.Message{}, ErrMessageInvalidInput
	}

	return s.repo.Create(ctx, domain.Message{
		Username:  username,
		Content:   content,
		Timestamp: s.now().UTC(),
		Delivered: true,
		SeenBy:    []string{},
	})
}

// List devuelve todos los mensajes en orden ascendente de timestamp.
func (s *MessageService) List(ctx context.Context) ([]domain.Message, error) {
	if s == nil || s.repo == nil {
		return nil, ErrMessageServiceNotConfigured
	}
	messages, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

// MarkSeen agrega username a seenBy; repetirlo no cambia nada.
func (s *MessageService) MarkSeen(ctx context.Context, messageID, username string) error {
	if s == nil || s.repo == nil {
		return ErrMessageServiceNotConfigured
	}

	messageID = strings.TrimSpace(messageID)
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrMessageInvalidInput
	}
	if messageID == "" {
		return repository.ErrNotFound
	}
	return s.repo.AddSeenBy(ctx, messageID, username)
}

// Ping verifica que el store responda.
func (s *MessageService) Ping(ctx context.Context) error {
	if s == nil || s.repo == nil {
		return ErrMessageServiceNotConfigured
	}
	return s.repo.Ping(ctx)
}
