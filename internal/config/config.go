package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/retina-grade/internal/imageprocessor"
	"github.com/example/retina-grade/internal/logging"
)

// Classifier backends.
const (
	BackendONNX   = "onnx"
	BackendRemote = "remote"
)

type Config struct {
	Host            string
	Port            string
	ShutdownTimeout time.Duration
	LogLevel        string
	MaxUploadSize   int64

	DatabaseDSN string
	RedisAddr   string

	JWTSecret   string
	JWTAudience string
	SessionTTL  time.Duration

	ClassifierBackend  string
	ModelPath          string
	ONNXRuntimeLibrary string
	ModelInputName     string
	ModelOutputName    string
	ClassifierPoolSize int
	ModelServerAddr    string
	ModelGRPCAddr      string
	ChannelOrder       imageprocessor.ChannelOrder
}

func (c *Config) ServerAddress() string {
	return net.JoinHostPort(strings.TrimSpace(c.Host), strings.TrimSpace(c.Port))
}

func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Host:            getEnvOrDefault("HOST", "0.0.0.0"),
		Port:            getEnvOrDefault("PORT", "8080"),
		ShutdownTimeout: parseDurationOrDefault("SHUTDOWN_TIMEOUT", 15*time.Second),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		MaxUploadSize:   parseIntOrDefault("MAX_UPLOAD_SIZE", 10<<20),

		DatabaseDSN: getEnvOrDefault("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=retinagrade port=5432 sslmode=disable"),
		RedisAddr:   getEnvOrDefault("REDIS_ADDR", "redis:6379"),

		JWTSecret:   getEnvOrDefault("JWT_SECRET", "dev-secret"),
		JWTAudience: strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
		SessionTTL:  parseDurationOrDefault("SESSION_TTL", 12*time.Hour),

		ClassifierBackend:  strings.ToLower(getEnvOrDefault("CLASSIFIER_BACKEND", BackendONNX)),
		ModelPath:          getEnvOrDefault("MODEL_PATH", "model/xception-diabetic-retinopathy.onnx"),
		ONNXRuntimeLibrary: strings.TrimSpace(os.Getenv("ONNXRUNTIME_LIB")),
		ModelInputName:     strings.TrimSpace(os.Getenv("MODEL_INPUT_NAME")),
		ModelOutputName:    strings.TrimSpace(os.Getenv("MODEL_OUTPUT_NAME")),
		ClassifierPoolSize: int(parseIntOrDefault("CLASSIFIER_POOL_SIZE", 1)),
		ModelServerAddr:    getEnvOrDefault("MODEL_SERVER_ADDR", "model-server:50051"),
		ModelGRPCAddr:      strings.TrimSpace(os.Getenv("MODEL_GRPC_ADDR")),
	}

	p, err := strconv.Atoi(strings.TrimSpace(cfg.Port))
	if err != nil || p < 1 || p > 65535 {
		return nil, fmt.Errorf("invalid PORT: %q", cfg.Port)
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_SIZE must be > 0 (got %d)", cfg.MaxUploadSize)
	}
	if cfg.ShutdownTimeout <= 0 || cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("durations must be > 0 (got shutdown=%s, session=%s)", cfg.ShutdownTimeout, cfg.SessionTTL)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET must not be empty")
	}

	switch cfg.ClassifierBackend {
	case BackendONNX:
		if cfg.ModelPath == "" {
			return nil, fmt.Errorf("MODEL_PATH is required for the %s backend", BackendONNX)
		}
		if cfg.ClassifierPoolSize < 1 {
			return nil, fmt.Errorf("CLASSIFIER_POOL_SIZE must be >= 1 (got %d)", cfg.ClassifierPoolSize)
		}
	case BackendRemote:
		if cfg.ModelServerAddr == "" {
			return nil, fmt.Errorf("MODEL_SERVER_ADDR is required for the %s backend", BackendRemote)
		}
		if cfg.ModelGRPCAddr != "" {
			return nil, fmt.Errorf("MODEL_GRPC_ADDR can only be used with the %s backend", BackendONNX)
		}
	default:
		return nil, fmt.Errorf("invalid CLASSIFIER_BACKEND: %q", cfg.ClassifierBackend)
	}

	order, err := imageprocessor.ParseChannelOrder(getEnvOrDefault("CHANNEL_ORDER", string(imageprocessor.ChannelOrderRGB)))
	if err != nil {
		return nil, fmt.Errorf("invalid CHANNEL_ORDER: %w", err)
	}
	cfg.ChannelOrder = order

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
