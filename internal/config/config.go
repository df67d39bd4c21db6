package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port          string
	AuthToken     string
	DBURL         string
	RedisAddr     string
	MigrationsDir string
	LogLevel      string

	RatingMin          int
	RatingMax          int
	AggregationPolicy  string
	NumRatingThreshold int
	EMADecaySecs       int
	MinTimeWindowSecs  int
	OutlierThreshold   float64

	ReconcileIntervalSecs  int
	ListCacheTTLSecs       int
	UserRatingCacheTTLSecs int
	CacheOpTimeoutSecs     int

	ReadTimeoutSecs   int
	WriteTimeoutSecs  int
	IdleTimeoutSecs   int
	DBMaxConns        int
	DBMinConns        int
	DBMaxIdleSecs     int
	DBMaxLifeSecs     int
	DBConnTimeoutSecs int
	DBStatementCache  int
}

// Load reads configuration from environment variables, applying defaults and validation.
func Load() (Config, error) {
	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		AuthToken:     os.Getenv("AUTH_TOKEN"),
		DBURL:         os.Getenv("DB_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "db/migrations"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		RatingMin:          getEnvInt("RATING_MIN", 1),
		RatingMax:          getEnvInt("RATING_MAX", 5),
		AggregationPolicy:  getEnv("AGGREGATION_POLICY", "dynamic"),
		NumRatingThreshold: getEnvInt("NUM_RATING_THRESHOLD", 50),
		EMADecaySecs:       getEnvInt("EMA_DECAY_SECS", 86400),
		MinTimeWindowSecs:  getEnvInt("MIN_TIME_WINDOW_SECS", 10),
		OutlierThreshold:   getEnvFloat("OUTLIER_THRESHOLD", 2),

		ReconcileIntervalSecs:  getEnvInt("RECONCILE_INTERVAL_SECS", 300),
		ListCacheTTLSecs:       getEnvInt("LIST_CACHE_TTL_SECS", 600),
		UserRatingCacheTTLSecs: getEnvInt("USER_RATING_CACHE_TTL_SECS", 3600),
		CacheOpTimeoutSecs:     getEnvInt("CACHE_OP_TIMEOUT_SECS", 3),

		ReadTimeoutSecs:   getEnvInt("SERVER_READ_TIMEOUT", 15),
		WriteTimeoutSecs:  getEnvInt("SERVER_WRITE_TIMEOUT", 15),
		IdleTimeoutSecs:   getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		DBMaxConns:        getEnvInt("DB_MAX_CONNS", 20),
		DBMinConns:        getEnvInt("DB_MIN_CONNS", 2),
		DBMaxIdleSecs:     getEnvInt("DB_MAX_CONN_IDLE_SECS", 300),
		DBMaxLifeSecs:     getEnvInt("DB_MAX_CONN_LIFETIME_SECS", 3600),
		DBConnTimeoutSecs: getEnvInt("DB_CONN_TIMEOUT_SECS", 10),
		DBStatementCache:  getEnvInt("DB_STATEMENT_CACHE_CAPACITY", 256),
	}

	if cfg.AuthToken == "" {
		return Config{}, fmt.Errorf("AUTH_TOKEN is required")
	}
	if cfg.DBURL == "" {
		return Config{}, fmt.Errorf("DB_URL is required")
	}
	if cfg.RedisAddr == "" {
		return Config{}, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.RatingMin >= cfg.RatingMax {
		return Config{}, fmt.Errorf("RATING_MIN must be below RATING_MAX")
	}
	if cfg.AggregationPolicy != "dynamic" && cfg.AggregationPolicy != "tiered" {
		return Config{}, fmt.Errorf("AGGREGATION_POLICY must be dynamic or tiered")
	}
	if cfg.NumRatingThreshold < 0 {
		return Config{}, fmt.Errorf("NUM_RATING_THRESHOLD must be non-negative")
	}
	if cfg.EMADecaySecs <= 0 {
		return Config{}, fmt.Errorf("EMA_DECAY_SECS must be positive")
	}
	if cfg.MinTimeWindowSecs <= 0 {
		return Config{}, fmt.Errorf("MIN_TIME_WINDOW_SECS must be positive")
	}
	if cfg.OutlierThreshold <= 0 {
		return Config{}, fmt.Errorf("OUTLIER_THRESHOLD must be positive")
	}
	if cfg.ReconcileIntervalSecs <= 0 {
		return Config{}, fmt.Errorf("RECONCILE_INTERVAL_SECS must be positive")
	}
	if cfg.ListCacheTTLSecs <= 0 || cfg.UserRatingCacheTTLSecs <= 0 {
		return Config{}, fmt.Errorf("cache TTLs must be positive")
	}
	if cfg.CacheOpTimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("CACHE_OP_TIMEOUT_SECS must be positive")
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return Config{}, fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
