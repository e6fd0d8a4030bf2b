/*
Package config loads process configuration from the environment.

PURPOSE:
  One Config value is built at process start and handed to every
  component. Values come from the environment, optionally seeded from a
  .env file (existing variables win), with defaults for everything except
  secrets.

ENVIRONMENT:
  HTTP_PORT, CORS_ALLOWED_ORIGINS
  DB_PATH
  LOG_LEVEL, LOG_FORMAT
  JWT_SECRET
  LINE_CHANNEL_TOKEN, LINE_CHANNEL_SECRET, LINE_API_BASE_URL, ADMIN_LINE_ID
  REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_STREAM, REDIS_GROUP
  SLIP_DIR, SLIP_MAX_DIMENSION
  PROMPTPAY_ID, PROMPTPAY_BASE_URL
  RATE_WATER, RATE_ELECTRIC, RATE_SERVICE_FEE, RATE_FINE_PER_DAY, BILL_DUE_DAY
  TIMEZONE, STORE_TIMEOUT, FINE_REFRESH_INTERVAL
  NOTIFY_WORKERS, NOTIFY_BUFFER

SEE ALSO:
  - cmd/server/main.go: flag overrides
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/smartdorm/tenancy-engine/tenancy"
)

// Config is the process configuration.
type Config struct {
	HTTP struct {
		Port           int
		AllowedOrigins []string
	}

	Database struct {
		Path string
	}

	Log struct {
		Level  string
		Format string
	}

	Auth struct {
		JWTSecret string
	}

	Line struct {
		ChannelToken  string
		ChannelSecret string
		BaseURL       string
		AdminID       string
	}

	// Redis is optional; with an empty Addr events go straight to the
	// in-process dispatcher.
	Redis struct {
		Addr     string
		Password string
		DB       int
		Stream   string
		Group    string
	}

	Slips struct {
		Dir          string
		MaxDimension int
	}

	// PromptPay is optional; with an empty ID bills have no QR code.
	PromptPay struct {
		ID      string
		BaseURL string
	}

	Notify struct {
		Workers int
		Buffer  int
	}

	Rates               tenancy.Rates
	Timezone            string
	StoreTimeout        time.Duration
	FineRefreshInterval time.Duration
}

// Load reads the environment. files are .env files to read first; with
// none, ".env" in the working directory is tried. Missing files are
// ignored.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	var r reader
	cfg := &Config{}
	rates := tenancy.DefaultRates()

	cfg.HTTP.Port = r.int("HTTP_PORT", 8080)
	cfg.HTTP.AllowedOrigins = r.list("CORS_ALLOWED_ORIGINS", []string{"*"})

	cfg.Database.Path = getEnv("DB_PATH", "./data/dorm.db")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", "")

	cfg.Line.ChannelToken = getEnv("LINE_CHANNEL_TOKEN", "")
	cfg.Line.ChannelSecret = getEnv("LINE_CHANNEL_SECRET", "")
	cfg.Line.BaseURL = getEnv("LINE_API_BASE_URL", "https://api.line.me")
	cfg.Line.AdminID = getEnv("ADMIN_LINE_ID", "")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = r.int("REDIS_DB", 0)
	cfg.Redis.Stream = getEnv("REDIS_STREAM", "tenancy-events")
	cfg.Redis.Group = getEnv("REDIS_GROUP", "notifier")

	cfg.Slips.Dir = getEnv("SLIP_DIR", "./data/slips")
	cfg.Slips.MaxDimension = r.int("SLIP_MAX_DIMENSION", 1600)

	cfg.PromptPay.ID = getEnv("PROMPTPAY_ID", "")
	cfg.PromptPay.BaseURL = getEnv("PROMPTPAY_BASE_URL", "https://promptpay.io")

	cfg.Notify.Workers = r.int("NOTIFY_WORKERS", 2)
	cfg.Notify.Buffer = r.int("NOTIFY_BUFFER", 256)

	rates.WaterUnitPrice = r.decimal("RATE_WATER", rates.WaterUnitPrice)
	rates.ElectricUnitPrice = r.decimal("RATE_ELECTRIC", rates.ElectricUnitPrice)
	rates.ServiceFee = r.decimal("RATE_SERVICE_FEE", rates.ServiceFee)
	rates.FinePerDay = r.decimal("RATE_FINE_PER_DAY", rates.FinePerDay)
	rates.DueDay = r.int("BILL_DUE_DAY", rates.DueDay)
	cfg.Rates = rates

	cfg.Timezone = getEnv("TIMEZONE", "Asia/Bangkok")
	cfg.StoreTimeout = r.duration("STORE_TIMEOUT", 5*time.Second)
	cfg.FineRefreshInterval = r.duration("FINE_REFRESH_INTERVAL", time.Hour)

	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT %d out of range", c.HTTP.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("DB_PATH is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if err := c.Rates.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err))
	}
	if c.StoreTimeout < 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must not be negative"))
	}
	if c.FineRefreshInterval < time.Minute {
		errs = append(errs, errors.New("FINE_REFRESH_INTERVAL must be at least 1m"))
	}
	if c.Slips.MaxDimension < 100 {
		errs = append(errs, errors.New("SLIP_MAX_DIMENSION must be at least 100"))
	}
	return errors.Join(errs...)
}

// Engine returns the tenancy engine configuration.
func (c *Config) Engine() (tenancy.Config, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return tenancy.Config{}, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return tenancy.Config{
		Rates:        c.Rates,
		Location:     loc,
		StoreTimeout: c.StoreTimeout,
	}, nil
}

// =============================================================================
// ENVIRONMENT HELPERS
// =============================================================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// reader parses typed values and collects every malformed one.
type reader struct {
	errs []error
}

func (r *reader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) decimal(key string, def decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) list(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
