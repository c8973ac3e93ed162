package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/internal/config"
	"chat-relay/internal/db"
	apihttp "chat-relay/internal/http"
	"chat-relay/internal/realtime"
	"chat-relay/internal/repository"
	"chat-relay/internal/service"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store connect", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}

	var postLimiter service.RateLimiter
	redisClient := db.NewRedisClient(cfg)
	if redisClient != nil {
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, post rate limit disabled", zap.Error(err))
		} else {
			postLimiter = service.NewRedisRateLimiter(redisClient, cfg.PostRateWindow, cfg.PostRateLimit)
		}
		cancel()
	}

	hub := realtime.NewHub(logger)
	go hub.Run()

	messageSvc := service.NewMessageService(repo)
	gateway := service.NewChatGateway(logger, messageSvc, service.NewPresenceTracker(), hub)
	socket := realtime.NewHandler(logger, hub, gateway, realtime.NewOriginPolicy(logger, cfg.ClientURI), realtime.ClientOptions{
		MaxMessageSize: cfg.SocketMaxMessageSize,
		EventRate:      cfg.SocketEventRate,
		EventBurst:     cfg.SocketEventBurst,
	})

	chatHandler := apihttp.NewChatHandler(logger, gateway)
	router := apihttp.NewRouter(logger, cfg.ClientURI, chatHandler, socket, postLimiter)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("port", cfg.HTTPPort),
			zap.String("store", cfg.StoreDriver),
			zap.Bool("post_rate_limit", postLimiter != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn("hub shutdown", zap.Error(err))
	}
	if err := closeStore(shutdownCtx); err != nil {
		logger.Warn("store close", zap.Error(err))
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", zap.Error(err))
		}
	}
	logger.Info("server stopped")
}

// openStore elige el backend de mensajes segun STORE_DRIVER.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.MessageRepository, func(context.Context) error, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewPgMessageRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, func(context.Context) error { pool.Close(); return nil }, nil

	case config.StoreDriverMemory:
		logger.Warn("using in-memory message store, history is lost on restart")
		return repository.NewMemoryMessageRepository(), func(context.Context) error { return nil }, nil

	default:
		client, err := db.NewMongoClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewMongoMessageRepository(client.Database(cfg.MongoDatabase), cfg.MongoCollection)
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Warn("mongo index creation failed", zap.Error(err))
		}
		return repo, client.Disconnect, nil
	}
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}
