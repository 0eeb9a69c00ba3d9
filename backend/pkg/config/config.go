package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Platform
	BotToken          string
	APIBaseURL        string
	AssistantID       int64 // numeric user id of the assistant account
	AssistantUsername string

	// Voice bridge (calls sidecar holding the assistant session)
	BridgeURL string

	// Resolver
	YtdlpPath   string
	DownloadDir string

	// Checkpoint storage
	StateBackend  string // "file", "sqlite", "badger" or "redis"
	StatePath     string // file path (file/sqlite) or directory (badger)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Playback engine timings
	CheckpointInterval time.Duration
	RateLimitInterval  time.Duration
	ResolveTimeout     time.Duration
	StorageTimeout     time.Duration
	ResumeStagger      time.Duration
	ProgressInterval   time.Duration // 0 disables now-playing edits
	MaxQueueSize       int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("ENV", "development"),
		BotToken:          getEnv("BOT_TOKEN", ""),
		APIBaseURL:        getEnv("API_BASE_URL", "https://api.telegram.org"),
		AssistantID:       getEnvInt64("ASSISTANT_ID", 0),
		AssistantUsername: getEnv("ASSISTANT_USERNAME", "vcmplayer"),
		BridgeURL:         getEnv("BRIDGE_URL", "ws://localhost:8765"),
		YtdlpPath:         getEnv("YTDLP_PATH", "yt-dlp"),
		DownloadDir:       getEnv("DOWNLOAD_DIR", "downloads"),
		StateBackend:      getEnv("STATE_BACKEND", "file"),
		StatePath:         getEnv("STATE_PATH", "data/state.json"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),

		CheckpointInterval: getEnvSeconds("T_CKPT", 15),
		RateLimitInterval:  getEnvSeconds("T_RATE", 3),
		ResolveTimeout:     getEnvSeconds("T_RESOLVE_MAX", 20),
		StorageTimeout:     getEnvSeconds("T_STORAGE_MAX", 5),
		ResumeStagger:      getEnvSeconds("T_STAGGER", 2),
		ProgressInterval:   getEnvSeconds("PROGRESS_INTERVAL", 10),
		MaxQueueSize:       getEnvInt("MAX_QUEUE", 50),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	if c.AssistantID == 0 {
		return fmt.Errorf("ASSISTANT_ID is required (bots cannot resolve the assistant account by username)")
	}
	switch c.StateBackend {
	case "file", "sqlite", "badger", "redis":
	default:
		return fmt.Errorf("unknown STATE_BACKEND: %s", c.StateBackend)
	}
	if c.StateBackend != "redis" && c.StatePath == "" {
		return fmt.Errorf("STATE_PATH is required for the %s backend", c.StateBackend)
	}
	if c.CheckpointInterval <= 0 {
		return fmt.Errorf("T_CKPT must be positive")
	}
	if c.ResolveTimeout <= 0 {
		return fmt.Errorf("T_RESOLVE_MAX must be positive")
	}
	if c.StorageTimeout <= 0 {
		return fmt.Errorf("T_STORAGE_MAX must be positive")
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("MAX_QUEUE must be positive")
	}
	// Rate limiting, resume stagger and progress edits may be disabled with 0
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		var result int64
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}
