package realtime

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler hace el upgrade HTTP -> WebSocket y registra el cliente en el hub.
type Handler struct {
	logger   *zap.Logger
	hub      *Hub
	events   EventHandler
	upgrader websocket.Upgrader
	opts     ClientOptions
}

func NewHandler(logger *zap.Logger, hub *Hub, events EventHandler, origins *OriginPolicy, opts ClientOptions) *Handler {
	return &Handler{
		logger: logger,
		hub:    hub,
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.Check,
		},
		opts: opts,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, h.hub, h.events, r.RemoteAddr, h.opts)
	if err := h.hub.registerClient(client); err != nil {
		h.logger.Warn("hub not accepting clients", zap.Error(err))
		_ = conn.Close()
	}
}
