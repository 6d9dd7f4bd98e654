package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr          string        `env:"API_ADDR" envDefault:":8787"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	MigrationsDir string        `env:"REVIEWROOM_MIGRATIONS_DIR" envDefault:"./db/migrations"`
	JWTSecret     string        `env:"REVIEWROOM_JWT_SECRET" envDefault:"reviewroom-dev-secret"`
	TokenTTL      time.Duration `env:"REVIEWROOM_TOKEN_TTL" envDefault:"12h"`
	CORSOrigin    string        `env:"REVIEWROOM_CORS_ORIGIN" envDefault:"*"`
	LogLevel      string        `env:"REVIEWROOM_LOG_LEVEL" envDefault:"info"`

	// Coordinator
	StoreRetryDelay time.Duration `env:"REVIEWROOM_STORE_RETRY_DELAY" envDefault:"100ms"`

	// Websocket gateway
	WSSendQueue          int `env:"REVIEWROOM_WS_SEND_QUEUE" envDefault:"256"`
	WSMaxFramesPerSecond int `env:"REVIEWROOM_WS_MAX_FRAMES_PER_SECOND" envDefault:"40"`

	// Redis - presence and the notification feed; in-process presence when empty
	RedisURL      string `env:"REDIS_URL"`
	NotifyChannel string `env:"REVIEWROOM_NOTIFY_CHANNEL" envDefault:"reviewroom:notifications"`

	// Meilisearch - comment search; store fallback when empty or unreachable
	MeiliURL       string `env:"MEILI_URL"`
	MeiliMasterKey string `env:"MEILI_MASTER_KEY"`

	// MinIO - export archive; exports are streamed inline when empty
	MinioEndpoint  string        `env:"MINIO_ENDPOINT"`
	MinioAccessKey string        `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string        `env:"MINIO_SECRET_KEY"`
	MinioBucket    string        `env:"MINIO_BUCKET" envDefault:"reviewroom-exports"`
	MinioUseSSL    bool          `env:"MINIO_USE_SSL" envDefault:"false"`
	ExportURLTTL   time.Duration `env:"REVIEWROOM_EXPORT_URL_TTL" envDefault:"15m"`

	// Headless Chrome for PDF exports; looked up on PATH when empty
	ChromePath string `env:"REVIEWROOM_CHROME_PATH"`
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.WSSendQueue <= 0 {
		cfg.WSSendQueue = 256
	}
	if cfg.WSMaxFramesPerSecond <= 0 {
		cfg.WSMaxFramesPerSecond = 40
	}
	return cfg, nil
}

// SlogLevel maps the configured level name onto slog, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
