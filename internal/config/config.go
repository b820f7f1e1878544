package config

import (
	"crypto/rsa"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the Progress Service
type Config struct {
	// JWT configuration - public key from Identity Service
	JWTPublicKey *rsa.PublicKey

	// Database configuration
	DatabaseURL string
	AutoMigrate bool

	// RabbitMQ configuration; an empty URL disables alerts and the submission consumer
	RabbitMQURL          string
	AlertsQueueName      string
	SubmissionsQueueName string

	// Redis stats cache; an empty address disables caching
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StatsCacheTTL time.Duration

	// Submission pipeline
	SubmissionTimeout time.Duration

	// Server configuration
	Port string

	// Logging
	LogLevel  string
	LogFormat string

	// Circuit breaker configuration
	CircuitBreakerMaxRequests uint32
	CircuitBreakerInterval    time.Duration
	CircuitBreakerTimeout     time.Duration
}

// Load reads configuration from environment variables, after applying an
// optional .env file. The public key is loaded from /etc/identity/public.pem
// (mounted via ConfigMap) unless PUBLIC_KEY_PATH says otherwise.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:          os.Getenv("DB_CONNECTION_STRING"),
		RabbitMQURL:          os.Getenv("RABBITMQ_URL"),
		AlertsQueueName:      getEnv("ALERTS_QUEUE_NAME", "progress_alerts"),
		SubmissionsQueueName: getEnv("SUBMISSIONS_QUEUE_NAME", "progress_submissions"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		Port:                 getEnv("PORT", "8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DB_CONNECTION_STRING environment variable is required")
	}

	var err error
	if cfg.AutoMigrate, err = getBool("AUTO_MIGRATE", false); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.StatsCacheTTL, err = getDuration("STATS_CACHE_TTL", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.SubmissionTimeout, err = getDuration("SUBMISSION_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	maxRequests, err := getInt("CIRCUIT_BREAKER_MAX_REQUESTS", 5)
	if err != nil {
		return nil, err
	}
	if maxRequests < 1 {
		return nil, fmt.Errorf("CIRCUIT_BREAKER_MAX_REQUESTS must be at least 1")
	}
	cfg.CircuitBreakerMaxRequests = uint32(maxRequests)
	if cfg.CircuitBreakerInterval, err = getDuration("CIRCUIT_BREAKER_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.CircuitBreakerTimeout, err = getDuration("CIRCUIT_BREAKER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	publicKeyPath := getEnv("PUBLIC_KEY_PATH", "/etc/identity/public.pem")
	cfg.JWTPublicKey, err = loadPublicKey(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load public key: %w", err)
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

// loadPublicKey loads an RSA public key from a PEM file
func loadPublicKey(path string) (*rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(keyData)
	if err != nil {
		return nil, err
	}
	return publicKey, nil
}
