package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"

	"pharmaledger/m/pkg/logger"
)

func TestLoadDefaults(t *testing.T) {
	logger.Silence()
	for _, key := range []string{"HTTP_PORT", "DB_DRIVER", "DATABASE_DSN", "CACHE_TTL", "ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
	}

	cfg := load(viper.New())
	if cfg.HTTPPort != "8080" {
		t.Errorf("HTTPPort = %q, want 8080", cfg.HTTPPort)
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("DBDriver = %q, want sqlite", cfg.DBDriver)
	}
	if cfg.CacheTTL != time.Minute {
		t.Errorf("CacheTTL = %s, want 1m", cfg.CacheTTL)
	}
	if cfg.MaxConcurrentTx != 8 {
		t.Errorf("MaxConcurrentTx = %d, want 8", cfg.MaxConcurrentTx)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	logger.Silence()
	t.Setenv("HTTP_PORT", "not-a-port")
	t.Setenv("DB_DRIVER", "PGX")
	t.Setenv("DATABASE_DSN", "postgres://localhost/pharma")
	t.Setenv("CACHE_TTL", "5m")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg := load(viper.New())
	if cfg.HTTPPort != "8080" {
		t.Errorf("HTTPPort = %q, want fallback 8080", cfg.HTTPPort)
	}
	if cfg.DBDriver != "pgx" {
		t.Errorf("DBDriver = %q, want pgx", cfg.DBDriver)
	}
	if cfg.DatabaseDSN != "postgres://localhost/pharma" {
		t.Errorf("DatabaseDSN = %q", cfg.DatabaseDSN)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %s, want 5m", cfg.CacheTTL)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}
