package main

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{
		"REFTRIAGE_LOG_LEVEL", "REFTRIAGE_HTTP_PORT", "REFTRIAGE_GRPC_PORT", "REFTRIAGE_RULES_PATH",
		"REFTRIAGE_SCORE_FLOOR", "REFTRIAGE_AMBIGUITY_EPSILON", "REFTRIAGE_MAX_DOCUMENTS",
		"REFTRIAGE_DOC_CACHE_TTL_S", "REFTRIAGE_AUTH_CACHE_TTL_S",
	} {
		t.Setenv(k, "")
	}

	cfg := loadConfig()
	if cfg.HTTPPort != "8080" || cfg.GRPCPort != "" || cfg.LogLevel != "info" {
		t.Errorf("unexpected listener defaults: %+v", cfg)
	}
	if cfg.Precedence.Floor != 0 || cfg.Precedence.AmbiguityEpsilon != 0.05 {
		t.Errorf("unexpected precedence defaults: %+v", cfg.Precedence)
	}
	if cfg.DocCacheTTL != time.Minute || cfg.AuthCacheTTL != 30*time.Second {
		t.Errorf("unexpected cache TTLs: %v %v", cfg.DocCacheTTL, cfg.AuthCacheTTL)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("REFTRIAGE_HTTP_PORT", "9090")
	t.Setenv("REFTRIAGE_GRPC_PORT", "50051")
	t.Setenv("REFTRIAGE_SCORE_FLOOR", "0.25")
	t.Setenv("REFTRIAGE_AMBIGUITY_EPSILON", "not-a-number")
	t.Setenv("REFTRIAGE_MAX_DOCUMENTS", "3")
	t.Setenv("REFTRIAGE_AUTH_CACHE_TTL_S", "5")

	cfg := loadConfig()
	if cfg.HTTPPort != "9090" || cfg.GRPCPort != "50051" {
		t.Errorf("ports not overridden: %+v", cfg)
	}
	if cfg.Precedence.Floor != 0.25 || cfg.Precedence.MaxDocuments != 3 {
		t.Errorf("precedence not overridden: %+v", cfg.Precedence)
	}
	if cfg.Precedence.AmbiguityEpsilon != 0.05 {
		t.Errorf("unparseable epsilon should keep the default, got %v", cfg.Precedence.AmbiguityEpsilon)
	}
	if cfg.AuthCacheTTL != 5*time.Second {
		t.Errorf("auth TTL = %v", cfg.AuthCacheTTL)
	}
}
