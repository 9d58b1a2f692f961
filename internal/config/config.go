package config

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"pharmaledger/m/pkg/logger"
)

// Config holds application configuration values.
type Config struct {
	Secret          string
	HTTPPort        string
	AllowedOrigins  []string
	DBDriver        string
	DatabaseDSN     string
	MaxConcurrentTx int64
	LogLevel        string
	LogPretty       bool
	RedisURL        string
	CacheTTL        time.Duration
	InvoiceDir      string
	MetricsEnabled  bool
	SeedCatalog     string
	SeedCharset     string
}

const DefaultSQLiteDSN = "file:pharmaledger.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"

var (
	once     sync.Once
	instance Config
)

// Load reads configuration from .env and environment variables with
// reasonable defaults. It is evaluated once per process.
func Load() Config {
	once.Do(func() {
		_ = godotenv.Load()
		instance = load(viper.New())
	})
	return instance
}

func load(v *viper.Viper) Config {
	v.SetDefault("SECRET", "dev_secret")
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("ALLOWED_ORIGINS", "*")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DATABASE_DSN", DefaultSQLiteDSN)
	v.SetDefault("DB_MAX_CONCURRENT_TX", 8)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("CACHE_TTL", "60s")
	v.SetDefault("INVOICE_DIR", "invoices")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("SEED_CATALOG", "")
	v.SetDefault("SEED_CHARSET", "utf-8")
	v.AutomaticEnv()

	port := v.GetString("HTTP_PORT")
	if _, err := strconv.Atoi(port); err != nil {
		logger.Log.Warn().Str("value", port).Msg("invalid HTTP_PORT, defaulting to 8080")
		port = "8080"
	}

	driver := strings.ToLower(v.GetString("DB_DRIVER"))
	if driver != "sqlite" && driver != "pgx" {
		logger.Log.Warn().Str("value", driver).Msg("unknown DB_DRIVER, defaulting to sqlite")
		driver = "sqlite"
	}

	ttl := v.GetDuration("CACHE_TTL")
	if ttl <= 0 {
		ttl = time.Minute
	}

	maxTx := v.GetInt64("DB_MAX_CONCURRENT_TX")
	if maxTx <= 0 {
		maxTx = 8
	}

	var origins []string
	for _, o := range strings.Split(v.GetString("ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return Config{
		Secret:          v.GetString("SECRET"),
		HTTPPort:        port,
		AllowedOrigins:  origins,
		DBDriver:        driver,
		DatabaseDSN:     v.GetString("DATABASE_DSN"),
		MaxConcurrentTx: maxTx,
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogPretty:       v.GetBool("LOG_PRETTY"),
		RedisURL:        v.GetString("REDIS_URL"),
		CacheTTL:        ttl,
		InvoiceDir:      v.GetString("INVOICE_DIR"),
		MetricsEnabled:  v.GetBool("METRICS_ENABLED"),
		SeedCatalog:     v.GetString("SEED_CATALOG"),
		SeedCharset:     v.GetString("SEED_CHARSET"),
	}
}
