package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	StoreDriverMongo    = "mongo"
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// ErrInvalidConfig indica configuración ausente o inválida; el proceso no debe arrancar.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort  string `env:"PORT" envDefault:"8000"`
	ClientURI string `env:"CLIENT_URI"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	StoreDriver     string `env:"STORE_DRIVER" envDefault:"mongo"`
	MongoURI        string `env:"MONGO_URI"`
	MongoDatabase   string `env:"MONGO_DATABASE" envDefault:"chat"`
	MongoCollection string `env:"MONGO_COLLECTION" envDefault:"messages"`
	DatabaseURL     string `env:"DATABASE_URL"`

	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	PostRateLimit  int           `env:"POST_RATE_LIMIT" envDefault:"30"`
	PostRateWindow time.Duration `env:"POST_RATE_WINDOW" envDefault:"1m"`

	SocketMaxMessageSize int64   `env:"SOCKET_MAX_MESSAGE_SIZE" envDefault:"4096"`
	SocketEventBurst     int     `env:"SOCKET_EVENT_BURST" envDefault:"10"`
	SocketEventRate      float64 `env:"SOCKET_EVENT_RATE" envDefault:"5"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// LoadConfig carga la configuración desde variables de entorno y la valida.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate verifica los campos obligatorios según el backend elegido.
func (c *Config) Validate() error {
	c.ClientURI = strings.TrimSpace(c.ClientURI)
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))

	if c.ClientURI == "" {
		return fmt.Errorf("%w: CLIENT_URI is required", ErrInvalidConfig)
	}
	switch c.StoreDriver {
	case StoreDriverMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			return fmt.Errorf("%w: MONGO_URI is required", ErrInvalidConfig)
		}
	case StoreDriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for the postgres driver", ErrInvalidConfig)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("%w: unknown STORE_DRIVER %q", ErrInvalidConfig, c.StoreDriver)
	}
	if c.HTTPPort == "" {
		c.HTTPPort = "8000"
	}
	if c.SocketMaxMessageSize <= 0 {
		c.SocketMaxMessageSize = 4096
	}
	if c.SocketEventBurst <= 0 {
		c.SocketEventBurst = 10
	}
	if c.SocketEventRate <= 0 {
		c.SocketEventRate = 5
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return nil
}
