package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Queue    QueueConfig
	Drain    DrainConfig
	Probe    ProbeConfig
	Email    EmailConfig
	Webhook  WebhookConfig
	Redis    RedisConfig
	Log      LogConfig
}

type ServerConfig struct {
	Address        string
	AllowedOrigins []string
	AdminToken     string
}

type DatabaseConfig struct {
	URL      string
	MaxConns int
}

type QueueConfig struct {
	Path           string
	DeadLetterPath string
}

type DrainConfig struct {
	Interval     time.Duration
	MaxAttempts  int
	WriteTimeout time.Duration
}

type ProbeConfig struct {
	Interval time.Duration
}

type EmailConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       []string
}

type WebhookConfig struct {
	Enabled bool
	URL     string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func LoadAll() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	dbURL, err := requireEnv("DATABASE_URL")
	collect(err)
	maxConns, err := getEnvInt("DB_MAX_CONNS", 4)
	collect(err)

	drainSecs, err := getEnvInt("DRAIN_INTERVAL_SECONDS", 900)
	collect(err)
	maxAttempts, err := getEnvInt("DRAIN_MAX_ATTEMPTS", 96)
	collect(err)
	writeTimeoutSecs, err := getEnvInt("DRAIN_WRITE_TIMEOUT_SECONDS", 30)
	collect(err)
	probeSecs, err := getEnvInt("PROBE_INTERVAL_SECONDS", 240)
	collect(err)

	email, err := loadEmailConfig()
	collect(err)
	redis, err := loadRedisConfig()
	collect(err)

	queuePath := getEnv("QUEUE_PATH", "data/queue.json")

	cfg := &Config{
		Server: ServerConfig{
			Address:        getEnv("SERVER_ADDRESS", ":5003"),
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
			AdminToken:     os.Getenv("ADMIN_TOKEN"),
		},
		Database: DatabaseConfig{
			URL:      dbURL,
			MaxConns: maxConns,
		},
		Queue: QueueConfig{
			Path:           queuePath,
			DeadLetterPath: getEnv("DEAD_LETTER_PATH", strings.TrimSuffix(queuePath, ".json")+".dead.json"),
		},
		Drain: DrainConfig{
			Interval:     time.Duration(drainSecs) * time.Second,
			MaxAttempts:  maxAttempts,
			WriteTimeout: time.Duration(writeTimeoutSecs) * time.Second,
		},
		Probe: ProbeConfig{
			Interval: time.Duration(probeSecs) * time.Second,
		},
		Email:   email,
		Webhook: loadWebhookConfig(),
		Redis:   redis,
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "INFO"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEmailConfig enables email notifications when both a server and a
// recipient are configured.
func loadEmailConfig() (EmailConfig, error) {
	host := os.Getenv("EMAIL_HOST")
	to := splitList(os.Getenv("EMAIL_TO"))

	port, err := getEnvInt("EMAIL_PORT", 587)
	if err != nil {
		return EmailConfig{}, err
	}

	user := os.Getenv("EMAIL_USER")
	return EmailConfig{
		Enabled:  host != "" && len(to) > 0,
		Host:     host,
		Port:     port,
		User:     user,
		Password: os.Getenv("EMAIL_PASS"),
		From:     getEnv("EMAIL_FROM", user),
		To:       to,
	}, nil
}

func loadWebhookConfig() WebhookConfig {
	url := os.Getenv("NOTIFY_WEBHOOK_URL")
	return WebhookConfig{Enabled: url != "", URL: url}
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	var errs []error
	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 7*86400)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return RedisConfig{}, joinErrors(errs)
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, nil
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.Drain.Interval <= 0 {
		errs = append(errs, errors.New("DRAIN_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Drain.MaxAttempts < 0 {
		errs = append(errs, errors.New("DRAIN_MAX_ATTEMPTS must be >= 0"))
	}
	if cfg.Drain.WriteTimeout <= 0 {
		errs = append(errs, errors.New("DRAIN_WRITE_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Probe.Interval <= 0 {
		errs = append(errs, errors.New("PROBE_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Email.Port <= 0 || cfg.Email.Port > 65535 {
		errs = append(errs, errors.New("EMAIL_PORT must be between 1 and 65535"))
	}
	if cfg.Redis.Enabled && cfg.Redis.TTL <= 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
	}
	if cfg.Queue.Path == cfg.Queue.DeadLetterPath {
		errs = append(errs, errors.New("QUEUE_PATH and DEAD_LETTER_PATH must differ"))
	}
	return joinErrors(errs)
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
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
		return 0, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}

// Redacted returns the settings that are useful when debugging a deployment,
// with secrets replaced by a marker.
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"SERVER_ADDRESS":         c.Server.Address,
		"DATABASE_URL":           setOrNot(c.Database.URL),
		"QUEUE_PATH":             c.Queue.Path,
		"DEAD_LETTER_PATH":       c.Queue.DeadLetterPath,
		"DRAIN_INTERVAL_SECONDS": int(c.Drain.Interval / time.Second),
		"DRAIN_MAX_ATTEMPTS":     c.Drain.MaxAttempts,
		"PROBE_INTERVAL_SECONDS": int(c.Probe.Interval / time.Second),
		"EMAIL_HOST":             c.Email.Host,
		"EMAIL_PORT":             c.Email.Port,
		"EMAIL_USER":             setOrNot(c.Email.User),
		"EMAIL_PASS":             setOrNot(c.Email.Password),
		"EMAIL_FROM":             c.Email.From,
		"EMAIL_TO":               strings.Join(c.Email.To, ","),
		"NOTIFY_WEBHOOK_URL":     setOrNot(c.Webhook.URL),
		"REDIS_ADDR":             c.Redis.Address,
		"ADMIN_TOKEN":            setOrNot(c.Server.AdminToken),
	}
}

func setOrNot(v string) string {
	if v == "" {
		return "NOT SET"
	}
	return "***SET***"
}
