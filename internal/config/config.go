package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string `validate:"required"`

	DBPath   string `validate:"required"`
	ImageDir string

	MaxUploadBytes    int64 `validate:"min=1"`
	MaxOrdersPerBatch int   `validate:"min=1"`
	MaxItemsPerOrder  int   `validate:"min=1"`

	ParseTimeoutSec  int `validate:"min=1"`
	CommitTimeoutSec int `validate:"min=1"`

	ImageFetchRPS       int `validate:"min=1"`
	ImageFetchTimeoutMs int `validate:"min=1"`
	ImageFetchWorkers   int `validate:"min=1"`

	ReviewThreshold float64 `validate:"gt=0,lte=1"`

	CORSEnabled bool
	LogLevel    string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfg := Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DBPath:   getEnv("DB_PATH", filepath.Join(cwd, "data", "partsbin.db")),
		ImageDir: getEnv("IMAGE_DIR", filepath.Join(cwd, "data", "images")),

		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_BYTES", 50*1024*1024)),
		MaxOrdersPerBatch: getEnvInt("MAX_ORDERS_PER_BATCH", 100),
		MaxItemsPerOrder:  getEnvInt("MAX_ITEMS_PER_ORDER", 1000),

		ParseTimeoutSec:  getEnvInt("PARSE_TIMEOUT_SEC", 60),
		CommitTimeoutSec: getEnvInt("COMMIT_TIMEOUT_SEC", 120),

		ImageFetchRPS:       getEnvInt("IMAGE_FETCH_RPS", 4),
		ImageFetchTimeoutMs: getEnvInt("IMAGE_FETCH_TIMEOUT_MS", 10000),
		ImageFetchWorkers:   getEnvInt("IMAGE_FETCH_WORKERS", 4),

		ReviewThreshold: getEnvFloat("REVIEW_THRESHOLD", 0.70),

		CORSEnabled: getEnvBool("CORS_ENABLED", true),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
