package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig aggregates runtime configuration. Everything is injected through
// environment variables so that nothing deployment-specific is hardcoded.
type AppConfig struct {
	HTTPAddr string
	LogLevel string

	// DBDriver is "sqlite" or "postgres".
	DBDriver string
	DBDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Kafka brokers (comma separated), topic and consumer group for cleanup dispatch.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Redis Stream outbox: the API appends, the relay forwards to Kafka.
	CleanupEventStream   string
	CleanupEventGroup    string
	CleanupEventConsumer string

	// create-order rate limit per user.
	OrderRateLimit  int
	OrderRateWindow time.Duration

	FirebaseProjectID string
	FirebaseJWKSURL   string
	AuthCookieMaxAge  time.Duration
	AuthCookieSecure  bool

	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageUseSSL    bool

	DefaultCredits int

	PromoteInterval time.Duration
	PromoteAfter    time.Duration

	CleanupInterval   time.Duration
	CleanupBatchSize  int
	CleanupMaxRetries int

	TxMaxAttempts int
}

// Load reads and validates configuration, falling back to defaults.
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		DBDriver:             strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBDSN:                getEnv("DB_DSN", "assignly.db"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		KafkaBrokers:         splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:           getEnv("KAFKA_TOPIC", "assignly-cleanup-jobs"),
		KafkaGroupID:         getEnv("KAFKA_GROUP_ID", "assignly-cleanup-consumer"),
		CleanupEventStream:   getEnv("CLEANUP_EVENT_STREAM", "assignly:cleanup_events"),
		CleanupEventGroup:    getEnv("CLEANUP_EVENT_GROUP", "assignly-relay-group"),
		CleanupEventConsumer: getEnv("CLEANUP_EVENT_CONSUMER", "assignly-relay-1"),
		FirebaseProjectID:    getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseJWKSURL:      getEnv("FIREBASE_JWKS_URL", "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"),
		StorageEndpoint:      getEnv("STORAGE_ENDPOINT", "localhost:9000"),
		StorageAccessKey:     getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
		StorageSecretKey:     getEnv("STORAGE_SECRET_KEY", "minioadmin"),
		StorageBucket:        getEnv("STORAGE_BUCKET", "assignly"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.OrderRateLimit, err = getEnvInt("ORDER_RATE_LIMIT", 10); err != nil {
		return AppConfig{}, fmt.Errorf("invalid ORDER_RATE_LIMIT: %w", err)
	}
	if cfg.OrderRateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("ORDER_RATE_LIMIT must be > 0")
	}
	rateWindowSec, err := getEnvInt("ORDER_RATE_WINDOW_SEC", 60)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid ORDER_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("ORDER_RATE_WINDOW_SEC must be > 0")
	}
	cfg.OrderRateWindow = time.Duration(rateWindowSec) * time.Second

	cookieHours, err := getEnvInt("AUTH_COOKIE_MAX_AGE_HOUR", 24*5)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid AUTH_COOKIE_MAX_AGE_HOUR: %w", err)
	}
	cfg.AuthCookieMaxAge = time.Duration(cookieHours) * time.Hour
	if cfg.AuthCookieSecure, err = getEnvBool("AUTH_COOKIE_SECURE", true); err != nil {
		return AppConfig{}, fmt.Errorf("invalid AUTH_COOKIE_SECURE: %w", err)
	}
	if cfg.StorageUseSSL, err = getEnvBool("STORAGE_USE_SSL", false); err != nil {
		return AppConfig{}, fmt.Errorf("invalid STORAGE_USE_SSL: %w", err)
	}

	if cfg.DefaultCredits, err = getEnvInt("DEFAULT_CREDITS", 40); err != nil {
		return AppConfig{}, fmt.Errorf("invalid DEFAULT_CREDITS: %w", err)
	}
	if cfg.DefaultCredits < 0 {
		return AppConfig{}, fmt.Errorf("DEFAULT_CREDITS must be >= 0")
	}

	if cfg.PromoteInterval, err = getEnvDuration("PROMOTE_INTERVAL", 5*time.Minute); err != nil {
		return AppConfig{}, fmt.Errorf("invalid PROMOTE_INTERVAL: %w", err)
	}
	if cfg.PromoteAfter, err = getEnvDuration("PROMOTE_AFTER", 150*time.Minute); err != nil {
		return AppConfig{}, fmt.Errorf("invalid PROMOTE_AFTER: %w", err)
	}
	if cfg.CleanupInterval, err = getEnvDuration("CLEANUP_INTERVAL", 15*time.Minute); err != nil {
		return AppConfig{}, fmt.Errorf("invalid CLEANUP_INTERVAL: %w", err)
	}
	if cfg.CleanupBatchSize, err = getEnvInt("CLEANUP_BATCH_SIZE", 10); err != nil {
		return AppConfig{}, fmt.Errorf("invalid CLEANUP_BATCH_SIZE: %w", err)
	}
	if cfg.CleanupMaxRetries, err = getEnvInt("CLEANUP_MAX_RETRIES", 3); err != nil {
		return AppConfig{}, fmt.Errorf("invalid CLEANUP_MAX_RETRIES: %w", err)
	}
	if cfg.TxMaxAttempts, err = getEnvInt("TX_MAX_ATTEMPTS", 5); err != nil {
		return AppConfig{}, fmt.Errorf("invalid TX_MAX_ATTEMPTS: %w", err)
	}

	if cfg.PromoteInterval <= 0 || cfg.PromoteAfter <= 0 || cfg.CleanupInterval <= 0 {
		return AppConfig{}, fmt.Errorf("PROMOTE_INTERVAL, PROMOTE_AFTER and CLEANUP_INTERVAL must be > 0")
	}
	if cfg.CleanupBatchSize <= 0 || cfg.CleanupMaxRetries <= 0 || cfg.TxMaxAttempts <= 0 {
		return AppConfig{}, fmt.Errorf("CLEANUP_BATCH_SIZE, CLEANUP_MAX_RETRIES and TX_MAX_ATTEMPTS must be > 0")
	}
	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "postgres" {
		return AppConfig{}, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}
	if cfg.FirebaseProjectID == "" {
		return AppConfig{}, fmt.Errorf("FIREBASE_PROJECT_ID must not be empty")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" || cfg.KafkaGroupID == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC and KAFKA_GROUP_ID must not be empty")
	}
	if cfg.StorageBucket == "" {
		return AppConfig{}, fmt.Errorf("STORAGE_BUCKET must not be empty")
	}

	return cfg, nil
}

// getEnv returns the trimmed variable or the fallback when empty.
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt parses an integer variable, falling back when empty.
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

// getEnvDuration accepts Go duration strings ("5m", "2h30m").
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

// splitCSV splits a comma separated list, dropping empty items.
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
