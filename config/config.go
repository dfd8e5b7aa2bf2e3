package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Analysis provider
	OpenAIAPIKey    string
	AnalysisTimeout time.Duration // default: 60s

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Tier policy overrides
	FreeMonthlyQuota  int // analyses per month on the free tier, default: 1
	ProWeeklyQuota    int // analyses per week on the pro tier, default: 5
	SpikesPerAnalysis int // overage price in spikes, default: 10

	// Flood protection in front of admission
	BurstLimitPerMinute int64 // requests per minute per account, default: 60
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.FreeMonthlyQuota, err = getEnvInt("FREE_MONTHLY_QUOTA", 1); err != nil {
		return nil, err
	}
	if cfg.ProWeeklyQuota, err = getEnvInt("PRO_WEEKLY_QUOTA", 5); err != nil {
		return nil, err
	}
	if cfg.SpikesPerAnalysis, err = getEnvInt("SPIKES_PER_ANALYSIS", 10); err != nil {
		return nil, err
	}
	if cfg.FreeMonthlyQuota < 0 || cfg.ProWeeklyQuota < 0 || cfg.SpikesPerAnalysis < 0 {
		return nil, fmt.Errorf("tier policy values must be non-negative")
	}

	burstStr := getEnv("BURST_LIMIT_PER_MINUTE", "60")
	burst, err := strconv.ParseInt(burstStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid BURST_LIMIT_PER_MINUTE: %w", err)
	}
	cfg.BurstLimitPerMinute = burst

	timeoutStr := getEnv("ANALYSIS_TIMEOUT", "60s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid ANALYSIS_TIMEOUT: %w", err)
	}
	cfg.AnalysisTimeout = timeout

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
