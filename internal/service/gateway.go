package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"chat-relay/internal/domain"
	"chat-relay/internal/repository"
)

// Peer es una conexion viva del canal de eventos.
type Peer interface {
	ID() string
	Emit(event string, payload any) error
}

// Broadcaster reparte un evento a todas las conexiones; exclude == nil lo entrega a todas.
type Broadcaster interface {
	Publish(event string, payload any, exclude Peer) error
}

// ChatGateway coordina store, presencia y broadcast para HTTP y socket.
type ChatGateway struct {
	logger   *zap.Logger
	messages *MessageService
	presence *PresenceTracker
	hub      Broadcaster

	// mu serializa mutaciones de presencia y su online-users para que los
	// clientes siempre terminen con la ultima lista.
	mu       sync.Mutex
	bindings map[string]string
}

func NewChatGateway(
	logger *zap.Logger,
	messages *MessageService,
	presence *PresenceTracker,
	hub Broadcaster,
) *ChatGateway {
	return &ChatGateway{
		logger:   logger,
		messages: messages,
		presence: presence,
		hub:      hub,
		bindings: make(map[string]string),
	}
}

func (g *ChatGateway) ListMessages(ctx context.Context) ([]domain.Message, error) {
	return g.messages.List(ctx)
}

// PostMessage persiste y luego publica new-message a todos.
func (g *ChatGateway) PostMessage(ctx context.Context, in domain.NewMessageInput) (domain.Message, error) {
	msg, err := g.messages.Create(ctx, in.Username, in.Content)
	if err != nil {
		return domain.Message{}, err
	}
	g.publish(domain.EventNewMessage, msg, nil)
	return msg, nil
}

// Ping reporta si el store responde.
func (g *ChatGateway) Ping(ctx context.Context) error {
	return g.messages.Ping(ctx)
}

// OnlineUsers devuelve la presencia actual.
func (g *ChatGateway) OnlineUsers() []string {
	return g.presence.List()
}

// OnConnect envia la presencia actual solo a la nueva conexion.
func (g *ChatGateway) OnConnect(_ context.Context, peer Peer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := peer.Emit(domain.EventOnlineUsers, g.OnlineUsers()); err != nil {
		g.logger.Debug("emit online users failed", zap.String("conn_id", peer.ID()), zap.Error(err))
	}
}

// OnEvent despacha un evento entrante. Los errores quedan en esta conexion.
func (g *ChatGateway) OnEvent(ctx context.Context, peer Peer, event string, data json.RawMessage) {
	switch event {
	case domain.EventSetUsername:
		var name string
		if !g.decode(peer, event, data, &name) {
			return
		}
		g.SetUsername(peer, name)
	case domain.EventTyping:
		var name string
		if !g.decode(peer, event, data, &name) {
			return
		}
		g.Typing(peer, name)
	case domain.EventMarkAsSeen:
		var receipt domain.SeenReceipt
		if !g.decode(peer, event, data, &receipt) {
			return
		}
		g.MarkAsSeen(ctx, peer, receipt)
	case domain.EventSendMessage:
		var in domain.NewMessageInput
		if !g.decode(peer, event, data, &in) {
			return
		}
		g.SendMessage(ctx, peer, in)
	default:
		g.logger.Warn("unknown socket event", zap.String("conn_id", peer.ID()), zap.String("event", event))
	}
}

// SetUsername liga name a la conexion y publica online-users.
func (g *ChatGateway) SetUsername(peer Peer, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		g.logger.Warn("empty username ignored", zap.String("conn_id", peer.ID()))
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	prev, bound := g.bindings[peer.ID()]
	g.bindings[peer.ID()] = name
	if bound && prev != name {
		g.release(prev)
	}
	users := g.presence.Add(name)
	g.logger.Info("user online", zap.String("conn_id", peer.ID()), zap.String("username", name))
	g.publish(domain.EventOnlineUsers, users, nil)
}

// Typing avisa a todos menos al emisor.
func (g *ChatGateway) Typing(peer Peer, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = g.boundName(peer)
	}
	if name == "" {
		return
	}
	g.publish(domain.EventTyping, name, peer)
}

// MarkAsSeen registra la lectura y, solo si tuvo exito, publica message-seen a todos.
func (g *ChatGateway) MarkAsSeen(ctx context.Context, peer Peer, receipt domain.SeenReceipt) {
	receipt.MessageID = strings.TrimSpace(receipt.MessageID)
	receipt.Username = strings.TrimSpace(receipt.Username)

	if err := g.messages.MarkSeen(ctx, receipt.MessageID, receipt.Username); err != nil {
		fields := []zap.Field{
			zap.String("conn_id", peer.ID()),
			zap.String("message_id", receipt.MessageID),
			zap.Error(err),
		}
		switch {
		case errors.Is(err, repository.ErrNotFound), errors.Is(err, ErrMessageInvalidInput):
			g.logger.Warn("mark as seen rejected", fields...)
		default:
			g.logger.Error("mark as seen failed", fields...)
		}
		return
	}
	g.publish(domain.EventMessageSeen, receipt, nil)
}

// SendMessage es la variante por socket de PostMessage.
func (g *ChatGateway) SendMessage(ctx context.Context, peer Peer, in domain.NewMessageInput) {
	if _, err := g.PostMessage(ctx, in); err != nil {
		if errors.Is(err, ErrMessageInvalidInput) {
			g.emitError(peer, domain.EventSendMessage, "username and content are required")
			return
		}
		g.logger.Error("send message failed", zap.String("conn_id", peer.ID()), zap.Error(err))
		g.emitError(peer, domain.EventSendMessage, "could not send message")
	}
}

// OnDisconnect quita el username ligado a la conexion y publica online-users.
func (g *ChatGateway) OnDisconnect(_ context.Context, peer Peer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	users := g.OnlineUsers()
	if name, ok := g.bindings[peer.ID()]; ok {
		delete(g.bindings, peer.ID())
		users = g.release(name)
		g.logger.Info("user offline", zap.String("conn_id", peer.ID()), zap.String("username", name))
	}
	g.publish(domain.EventOnlineUsers, users, nil)
}

// release quita name de la presencia si ninguna otra conexion lo tiene ligado.
// Requiere g.mu tomado.
func (g *ChatGateway) release(name string) []string {
	for _, other := range g.bindings {
		if other == name {
			return g.presence.List()
		}
	}
	return g.presence.Remove(name)
}

func (g *ChatGateway) boundName(peer Peer) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bindings[peer.ID()]
}

func (g *ChatGateway) publish(event string, payload any, exclude Peer) {
	if err := g.hub.Publish(event, payload, exclude); err != nil {
		g.logger.Warn("broadcast failed", zap.String("event", event), zap.Error(err))
	}
}

func (g *ChatGateway) decode(peer Peer, event string, data json.RawMessage, dst any) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		g.logger.Warn("invalid socket payload",
			zap.String("conn_id", peer.ID()),
			zap.String("event", event),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (g *ChatGateway) emitError(peer Peer, event, message string) {
	err := peer.Emit(domain.EventError, domain.ErrorPayload{Event: event, Error: message})
	if err != nil {
		g.logger.Debug("emit error failed", zap.String("conn_id", peer.ID()), zap.Error(err))
	}
}
