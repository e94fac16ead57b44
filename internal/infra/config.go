package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string
	AdminToken  string

	// Object store: "minio" or "file".
	StorageBackend     string
	FileStorePath      string
	FileStorePublicURL string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioSecure    bool
	MinioBucket    string
	MinioPublicURL string

	// Generation provider.
	ReplicateAPIToken string
	ReplicateBaseURL  string
	GenerateTimeout   time.Duration

	// Worker pool and admission.
	MaxWorkers               int
	QueueSize                int
	MaxConcurrentGenerations int

	// Retention sweep.
	RetentionDays     int
	SweepInterval     time.Duration
	SweepStartupDelay time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	AllowedOrigins []string
	RateLimit      int
	RateWindow     time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		AdminToken:  os.Getenv("ADMIN_TOKEN"),

		StorageBackend:     getEnv("STORAGE_BACKEND", "minio"),
		FileStorePath:      getEnv("FILE_STORE_PATH", "./data/images"),
		FileStorePublicURL: getEnv("FILE_STORE_PUBLIC_URL", "http://localhost:8080/files"),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin123"),
		MinioSecure:    getEnvBool("MINIO_SECURE", false),
		MinioBucket:    getEnv("MINIO_BUCKET", "nano-banana-images"),
		MinioPublicURL: getEnv("MINIO_PUBLIC_URL", "http://localhost:9002"),

		ReplicateAPIToken: os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:  getEnv("REPLICATE_BASE_URL", "https://api.replicate.com"),
		GenerateTimeout:   time.Second * time.Duration(getEnvInt("GENERATE_TIMEOUT_SECONDS", 600)),

		// One generation at a time by default to stay clear of provider
		// rate limits.
		MaxWorkers:               getEnvInt("MAX_WORKERS", 1),
		QueueSize:                getEnvInt("QUEUE_SIZE", 256),
		MaxConcurrentGenerations: getEnvInt("MAX_CONCURRENT_GENERATIONS", 1),

		RetentionDays:     getEnvInt("RETENTION_DAYS", 7),
		SweepInterval:     time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 24*60*60)),
		SweepStartupDelay: time.Second * time.Duration(getEnvInt("SWEEP_STARTUP_DELAY_SECONDS", 60)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		AllowedOrigins: splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
		RateLimit:      getEnvInt("RATE_LIMIT", 0),
		RateWindow:     time.Second * time.Duration(getEnvInt("RATE_WINDOW_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.MaxConcurrentGenerations < 1 {
		cfg.MaxConcurrentGenerations = 1
	}
	if cfg.RetentionDays < 1 {
		cfg.RetentionDays = 7
	}

	return cfg, nil
}

// Retention returns the configured retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
