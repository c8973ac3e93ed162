package domain

import "encoding/json"

// Eventos del canal bidireccional.
const (
	EventSetUsername = "set-username"
	EventTyping      = "typing"
	EventMarkAsSeen  = "mark-as-seen"
	EventSendMessage = "send-message"

	EventNewMessage  = "new-message"
	EventOnlineUsers = "online-users"
	EventMessageSeen = "message-seen"
	EventError       = "error"
)

// Envelope es el frame JSON que viaja por el socket en ambas direcciones.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessageInput es el payload de send-message y del POST /api/messages.
type NewMessageInput struct {
	Username string `json:"username"`
	Content  string `json:"content"`
}

// ErrorPayload se envia solo a la conexion que provoco el fallo.
type ErrorPayload struct {
	Event string `json:"event"`
	Error string `json:"error"`
}
