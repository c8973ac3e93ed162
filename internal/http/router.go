package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-relay/internal/service"
)

// NewRouter configura el router de Gin con middlewares, rutas REST y el socket.
func NewRouter(
	logger *zap.Logger,
	clientURI string,
	chatH *ChatHandler,
	socket http.Handler,
	limiter service.RateLimiter,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery sin filtrar internals y CORS hacia el cliente.
	r.Use(
		zapLoggerMiddleware(logger),
		recoveryMiddleware(logger),
		cors.New(cors.Config{
			AllowOrigins: []string{clientURI},
			AllowMethods: []string{http.MethodGet, http.MethodPost},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}),
	)

	r.GET("/", chatH.Root)
	r.GET("/healthz", chatH.Health)

	api := r.Group("/api", jsonContentTypeMiddleware())
	api.GET("/messages", chatH.ListMessages)
	api.POST("/messages", rateLimitMiddleware(limiter), chatH.PostMessage)

	r.GET("/ws", gin.WrapH(socket))

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// recoveryMiddleware responde 500 generico ante un panic.
func recoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("panic recovered",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}

// rateLimitMiddleware limita publicaciones por ip; sin limiter no hace nada.
func rateLimitMiddleware(limiter service.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow(c.Request.Context(), c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": service.ErrRateLimited.Error()})
			return
		}
		c.Next()
	}
}
