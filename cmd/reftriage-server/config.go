package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/triage-ai/reftriage/internal/engine"
)

// config is the server configuration, read from the environment.
type config struct {
	LogLevel      string
	HTTPPort      string
	GRPCPort      string // empty = gRPC off
	RulesPath     string // empty = embedded default rules
	Precedence    engine.PrecedenceConfig
	DocsDir       string
	DocCacheTTL   time.Duration
	AuthCacheTTL  time.Duration
	RateLimitRPS  float64 // per project; 0 = unlimited
	RateBurst     int
	StaticAPIKey  string // used when Postgres is not configured
	PostgresDSN   string
	ClickHouseDSN string
}

func loadConfig() config {
	prec := engine.DefaultPrecedenceConfig()
	prec.Floor = envOrDefaultFloat("REFTRIAGE_SCORE_FLOOR", prec.Floor)
	prec.AmbiguityEpsilon = envOrDefaultFloat("REFTRIAGE_AMBIGUITY_EPSILON", prec.AmbiguityEpsilon)
	prec.MaxDocuments = envOrDefaultInt("REFTRIAGE_MAX_DOCUMENTS", prec.MaxDocuments)

	return config{
		LogLevel:      envOrDefault("REFTRIAGE_LOG_LEVEL", "info"),
		HTTPPort:      envOrDefault("REFTRIAGE_HTTP_PORT", "8080"),
		GRPCPort:      os.Getenv("REFTRIAGE_GRPC_PORT"),
		RulesPath:     os.Getenv("REFTRIAGE_RULES_PATH"),
		Precedence:    prec,
		DocsDir:       os.Getenv("REFTRIAGE_DOCS_DIR"),
		DocCacheTTL:   time.Duration(envOrDefaultInt("REFTRIAGE_DOC_CACHE_TTL_S", 60)) * time.Second,
		AuthCacheTTL:  time.Duration(envOrDefaultInt("REFTRIAGE_AUTH_CACHE_TTL_S", 30)) * time.Second,
		RateLimitRPS:  envOrDefaultFloat("REFTRIAGE_RATE_LIMIT_RPS", 0),
		RateBurst:     envOrDefaultInt("REFTRIAGE_RATE_LIMIT_BURST", 0),
		StaticAPIKey:  os.Getenv("REFTRIAGE_API_KEY"),
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		ClickHouseDSN: os.Getenv("CLICKHOUSE_DSN"),
	}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
