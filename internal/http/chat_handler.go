package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-relay/internal/domain"
	"chat-relay/internal/service"
)

// ChatGateway es lo que los endpoints necesitan del gateway.
type ChatGateway interface {
	ListMessages(ctx context.Context) ([]domain.Message, error)
	PostMessage(ctx context.Context, in domain.NewMessageInput) (domain.Message, error)
	Ping(ctx context.Context) error
}

// ChatHandler mantiene dependencias para los endpoints de mensajes.
type ChatHandler struct {
	logger  *zap.Logger
	gateway ChatGateway
}

// NewChatHandler crea una instancia de ChatHandler con dependencias necesarias.
func NewChatHandler(logger *zap.Logger, gateway ChatGateway) *ChatHandler {
	return &ChatHandler{
		logger:  logger,
		gateway: gateway,
	}
}

// Root maneja GET /.
func (h *ChatHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "server running...",
		"requestip": c.ClientIP(),
	})
}

// Health maneja GET /healthz.
func (h *ChatHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.gateway.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListMessages maneja GET /api/messages.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	messages, err := h.gateway.ListMessages(c.Request.Context())
	if err != nil {
		h.logger.Error("list messages failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list messages"})
		return
	}
	c.JSON(http.StatusOK, messages)
}

// PostMessage maneja POST /api/messages.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Content  string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid post message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and content are required"})
		return
	}

	msg, err := h.gateway.PostMessage(c.Request.Context(), domain.NewMessageInput{
		Username: req.Username,
		Content:  req.Content,
	})
	if err != nil {
		if errors.Is(err, service.ErrMessageInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and content are required"})
			return
		}
		h.logger.Error("create message failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not post message"})
		return
	}

	c.JSON(http.StatusCreated, msg)
}
