package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LeventeLantos/reviewgate/internal/phone"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Dispatch DispatchConfig
	Gateway  GatewayConfig
	Auth     AuthConfig
	Locale   LocaleConfig
	Events   EventsConfig
	LogLevel slog.Level
}

type ServerConfig struct {
	Address       string
	PublicBaseURL string
}

type DatabaseConfig struct {
	Driver string
	URL    string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type DispatchConfig struct {
	// Interval enables the in-process ticker when > 0.
	Interval   time.Duration
	BatchSize  int
	SendPause  time.Duration
	ClaimLease time.Duration
}

type GatewayConfig struct {
	URL               string
	StatusCallbackURL string
	ContentMax        int
	WebhookSecret     string
	BreakerFailures   int
	BreakerOpen       time.Duration
}

type AuthConfig struct {
	CronSecret       string
	SessionJWTSecret string
}

type LocaleConfig struct {
	QuietHoursLocation *time.Location
	PhonePolicy        phone.Policy
}

type EventsConfig struct {
	AMQPURL string
}

// LoadAll reads the full service configuration. Every problem is reported, not just the first.
func LoadAll() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	str := func(key string) string {
		v, err := requireEnv(key)
		collect(err)
		return v
	}
	num := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		collect(err)
		return v
	}

	db, err := LoadDatabase()
	collect(err)

	cfg := &Config{
		Server: ServerConfig{
			Address:       getEnv("SERVER_ADDRESS", ":8080"),
			PublicBaseURL: str("PUBLIC_BASE_URL"),
		},
		Database: db,
		Dispatch: DispatchConfig{
			Interval:   time.Duration(num("DISPATCH_INTERVAL_SECONDS", 0)) * time.Second,
			BatchSize:  num("DISPATCH_BATCH_SIZE", 50),
			SendPause:  time.Duration(num("DISPATCH_SEND_PAUSE_MS", 250)) * time.Millisecond,
			ClaimLease: time.Duration(num("DISPATCH_CLAIM_LEASE_SECONDS", 120)) * time.Second,
		},
		Gateway: GatewayConfig{
			URL:               str("SMS_GATEWAY_URL"),
			StatusCallbackURL: getEnv("SMS_STATUS_CALLBACK_URL", ""),
			ContentMax:        num("SMS_CONTENT_MAX", 320),
			WebhookSecret:     str("SMS_WEBHOOK_SECRET"),
			BreakerFailures:   num("BREAKER_FAILURE_THRESHOLD", 5),
			BreakerOpen:       time.Duration(num("BREAKER_OPEN_SECONDS", 30)) * time.Second,
		},
		Auth: AuthConfig{
			CronSecret:       str("CRON_SECRET"),
			SessionJWTSecret: str("SESSION_JWT_SECRET"),
		},
		Events: EventsConfig{
			AMQPURL: getEnv("AMQP_URL", ""),
		},
	}

	redisCfg, err := loadRedisConfig()
	collect(err)
	cfg.Redis = redisCfg

	locale, err := loadLocale()
	collect(err)
	cfg.Locale = locale

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		collect(fmt.Errorf("invalid LOG_LEVEL: %w", err))
	}

	if cfg.Gateway.StatusCallbackURL == "" && cfg.Server.PublicBaseURL != "" {
		cfg.Gateway.StatusCallbackURL = strings.TrimRight(cfg.Server.PublicBaseURL, "/") + "/v1/webhooks/sms-status"
	}

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads only what the migrate and account commands need.
func LoadDatabase() (DatabaseConfig, error) {
	cfg := DatabaseConfig{
		Driver: strings.ToLower(getEnv("DATABASE_DRIVER", "postgres")),
	}

	var errs []error
	url, err := requireEnv("DATABASE_URL")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.URL = url

	switch cfg.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", cfg.Driver))
	}
	return cfg, joinErrors(errs)
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, dbErr := getEnvInt("REDIS_DB", 0)
	ttl, ttlErr := getEnvInt("REDIS_TTL_SECONDS", 86400)

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, joinErrors([]error{dbErr, ttlErr})
}

func loadLocale() (LocaleConfig, error) {
	var errs []error

	tz := getEnv("QUIET_HOURS_TZ", "Europe/London")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid QUIET_HOURS_TZ %q: %w", tz, err))
	}

	country := getEnv("PHONE_COUNTRY", "GB")
	policy, ok := phone.PolicyFor(country)
	if !ok {
		errs = append(errs, fmt.Errorf("unsupported PHONE_COUNTRY %q", country))
	}

	return LocaleConfig{QuietHoursLocation: loc, PhonePolicy: policy}, joinErrors(errs)
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Dispatch.BatchSize <= 0 {
		errs = append(errs, errors.New("DISPATCH_BATCH_SIZE must be > 0"))
	}
	if cfg.Dispatch.Interval < 0 {
		errs = append(errs, errors.New("DISPATCH_INTERVAL_SECONDS must be >= 0"))
	}
	if cfg.Dispatch.SendPause < 0 {
		errs = append(errs, errors.New("DISPATCH_SEND_PAUSE_MS must be >= 0"))
	}
	if cfg.Dispatch.ClaimLease <= 0 {
		errs = append(errs, errors.New("DISPATCH_CLAIM_LEASE_SECONDS must be > 0"))
	}
	if cfg.Gateway.ContentMax <= 0 {
		errs = append(errs, errors.New("SMS_CONTENT_MAX must be > 0"))
	}
	if cfg.Gateway.BreakerFailures <= 0 {
		errs = append(errs, errors.New("BREAKER_FAILURE_THRESHOLD must be > 0"))
	}
	if cfg.Gateway.BreakerOpen <= 0 {
		errs = append(errs, errors.New("BREAKER_OPEN_SECONDS must be > 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
