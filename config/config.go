/*
Package config loads process configuration.

SOURCES (later wins):
  1. Defaults
  2. .env file in the working directory (optional)
  3. Environment variables
  4. Command-line flags (-port, -db, -log-level)

ENVIRONMENT:
  PORT              HTTP port (default 8080)
  DB_PATH           SQLite path, ":memory:" allowed (default commission.db)
  TAX_RATE          Tax on commissions, percent (default 19.25)
  RETRY_ATTEMPTS    Ledger commit attempts on transient errors (default 3)
  RETRY_BACKOFF     Base backoff between attempts (default 50ms)
  BATCH_WORKERS     Collectors processed concurrently by a batch (default 4)
  REDIS_ADDR        Enables the Redis collector lock when set
  REDIS_PASSWORD
  REDIS_DB          (default 0)
  LOCK_TTL          Redis lock lease (default 5m)
  RATE_LIMIT_RPS    Requests per second per client IP (default 10)
  RATE_LIMIT_BURST  (default 20)
  LOG_LEVEL         debug, info, warn, error (default info)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/ledger"
)

type Config struct {
	Port   int
	DBPath string

	TaxRate       decimal.Decimal
	RetryAttempts int
	RetryBackoff  time.Duration
	BatchWorkers  int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel slog.Level
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:           8080,
		DBPath:         "commission.db",
		TaxRate:        decimal.RequireFromString("19.25"),
		RetryAttempts:  3,
		RetryBackoff:   50 * time.Millisecond,
		BatchWorkers:   4,
		LockTTL:        5 * time.Minute,
		RateLimitRPS:   10,
		RateLimitBurst: 20,
		LogLevel:       slog.LevelInfo,
	}
}

// Load reads .env, the environment and then args (usually os.Args[1:]).
// A missing .env file is not an error.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := Default()
	if err := cfg.fromEnv(); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	level := fs.String("log-level", cfg.LogLevel.String(), "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(*level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", *level, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) fromEnv() error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	collect(envInt("PORT", &c.Port))
	if v, ok := os.LookupEnv("DB_PATH"); ok && v != "" {
		c.DBPath = v
	}
	if v, ok := os.LookupEnv("TAX_RATE"); ok && v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			collect(fmt.Errorf("TAX_RATE: %w", err))
		} else {
			c.TaxRate = d
		}
	}
	collect(envInt("RETRY_ATTEMPTS", &c.RetryAttempts))
	collect(envDuration("RETRY_BACKOFF", &c.RetryBackoff))
	collect(envInt("BATCH_WORKERS", &c.BatchWorkers))

	c.RedisAddr = os.Getenv("REDIS_ADDR")
	c.RedisPassword = os.Getenv("REDIS_PASSWORD")
	collect(envInt("REDIS_DB", &c.RedisDB))
	collect(envDuration("LOCK_TTL", &c.LockTTL))

	if v, ok := os.LookupEnv("RATE_LIMIT_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			collect(fmt.Errorf("RATE_LIMIT_RPS: %w", err))
		} else {
			c.RateLimitRPS = f
		}
	}
	collect(envInt("RATE_LIMIT_BURST", &c.RateLimitBurst))

	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		if err := c.LogLevel.UnmarshalText([]byte(strings.ToLower(v))); err != nil {
			collect(fmt.Errorf("LOG_LEVEL: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Port)
	case c.DBPath == "":
		return errors.New("database path is required")
	case c.TaxRate.IsNegative() || c.TaxRate.GreaterThan(decimal.NewFromInt(100)):
		return fmt.Errorf("tax rate %s outside [0, 100]", c.TaxRate)
	case c.RetryAttempts < 1:
		return fmt.Errorf("retry attempts must be >= 1, got %d", c.RetryAttempts)
	case c.BatchWorkers < 1:
		return fmt.Errorf("batch workers must be >= 1, got %d", c.BatchWorkers)
	case c.RedisAddr != "" && c.LockTTL <= 0:
		return fmt.Errorf("lock TTL must be positive, got %s", c.LockTTL)
	case c.RateLimitRPS <= 0 || c.RateLimitBurst < 1:
		return fmt.Errorf("invalid rate limit %v/s burst %d", c.RateLimitRPS, c.RateLimitBurst)
	}
	return nil
}

// Retry is the ledger retry policy this configuration describes.
func (c Config) Retry() ledger.RetryPolicy {
	return ledger.RetryPolicy{Attempts: c.RetryAttempts, Backoff: c.RetryBackoff}
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
