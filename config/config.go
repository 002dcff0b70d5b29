// Package config loads docbridge settings from defaults, an optional YAML file and the
// environment, in that order of precedence (environment wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"docbridge/chat"
	"docbridge/domain"
	"docbridge/poll"
	"docbridge/store"
	"docbridge/submit"
)

const (
	DefaultUploadURL = "https://agent-beta.endare.com/webhook/NN-demo"
	DefaultStatusURL = "https://agent-beta.endare.com/webhook/get-summary"
	DefaultChatURL   = "https://agent-beta.endare.com/webhook/f5ed7916-342d-4de2-ac40-4d24d1e2e471/chat"
)

type Config struct {
	Endpoints struct {
		Upload string `yaml:"upload"`
		Status string `yaml:"status"`
		Chat   string `yaml:"chat"`
	} `yaml:"endpoints"`

	Locale string `yaml:"locale"`

	Upload struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
		Retries        int `yaml:"retries"`
		RetryBackoffMS int `yaml:"retry_backoff_ms"`
	} `yaml:"upload"`

	Poll struct {
		MaxAttempts           int   `yaml:"max_attempts"`
		IntervalSeconds       int   `yaml:"interval_seconds"`
		RequestTimeoutSeconds int   `yaml:"request_timeout_seconds"`
		GraceSeconds          int   `yaml:"grace_seconds"`
		RetryableStatuses     []int `yaml:"retryable_statuses"`
	} `yaml:"poll"`

	Chat struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"chat"`

	Store struct {
		Backend    string `yaml:"backend"`
		Path       string `yaml:"path"`
		RedisAddr  string `yaml:"redis_addr"`
		RedisPass  string `yaml:"redis_password"`
		RedisDB    int    `yaml:"redis_db"`
		TTLSeconds int    `yaml:"ttl_seconds"`
		// MirrorBus relays job-id changes between processes over Redis pub/sub.
		MirrorBus bool `yaml:"mirror_bus"`
	} `yaml:"store"`

	Obs struct {
		MetricsAddr  string `yaml:"metrics_addr"`
		OTLPEndpoint string `yaml:"otlp_endpoint"`
		LogLevel     string `yaml:"log_level"`
	} `yaml:"obs"`
}

func Default() *Config {
	var c Config
	c.Endpoints.Upload = DefaultUploadURL
	c.Endpoints.Status = DefaultStatusURL
	c.Endpoints.Chat = DefaultChatURL
	c.Locale = string(domain.DefaultLocale)
	c.Upload.TimeoutSeconds = 120
	c.Upload.Retries = 2
	c.Upload.RetryBackoffMS = 1000
	c.Poll.MaxAttempts = 30
	c.Poll.IntervalSeconds = 10
	c.Poll.RequestTimeoutSeconds = 30
	c.Poll.GraceSeconds = 60
	c.Poll.RetryableStatuses = []int{404, 202, 425}
	c.Chat.TimeoutSeconds = 120
	c.Store.Backend = store.BackendBolt
	c.Store.Path = "docbridge.db"
	c.Obs.LogLevel = "info"
	return &c
}

// Load reads path (skipped when empty) over the defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	return LoadWith(path, os.Getenv)
}

func LoadWith(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	env := envReader(getenv)
	cfg.Endpoints.Upload = env.str("DOCBRIDGE_UPLOAD_URL", cfg.Endpoints.Upload)
	cfg.Endpoints.Status = env.str("DOCBRIDGE_STATUS_URL", cfg.Endpoints.Status)
	cfg.Endpoints.Chat = env.str("DOCBRIDGE_CHAT_URL", cfg.Endpoints.Chat)
	cfg.Locale = env.str("DOCBRIDGE_LANG", cfg.Locale)

	cfg.Upload.TimeoutSeconds = env.integer("UPLOAD_TIMEOUT_SECONDS", cfg.Upload.TimeoutSeconds)
	cfg.Upload.Retries = env.integer("UPLOAD_RETRIES", cfg.Upload.Retries)
	cfg.Upload.RetryBackoffMS = env.integer("UPLOAD_RETRY_BACKOFF_MS", cfg.Upload.RetryBackoffMS)

	cfg.Poll.MaxAttempts = env.integer("POLL_MAX_ATTEMPTS", cfg.Poll.MaxAttempts)
	cfg.Poll.IntervalSeconds = env.integer("POLL_INTERVAL_SECONDS", cfg.Poll.IntervalSeconds)
	cfg.Poll.RequestTimeoutSeconds = env.integer("POLL_REQUEST_TIMEOUT_SECONDS", cfg.Poll.RequestTimeoutSeconds)
	cfg.Poll.GraceSeconds = env.integer("POLL_GRACE_SECONDS", cfg.Poll.GraceSeconds)
	cfg.Poll.RetryableStatuses = env.ints("POLL_RETRYABLE_STATUSES", cfg.Poll.RetryableStatuses)

	cfg.Chat.TimeoutSeconds = env.integer("CHAT_TIMEOUT_SECONDS", cfg.Chat.TimeoutSeconds)

	cfg.Store.Backend = env.str("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Path = env.str("STORE_PATH", cfg.Store.Path)
	cfg.Store.RedisAddr = env.str("REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.RedisPass = env.str("REDIS_PASSWORD", cfg.Store.RedisPass)
	cfg.Store.RedisDB = env.integer("REDIS_DB", cfg.Store.RedisDB)
	cfg.Store.TTLSeconds = env.integer("STORE_TTL_SECONDS", cfg.Store.TTLSeconds)
	cfg.Store.MirrorBus = env.boolean("BUS_MIRROR", cfg.Store.MirrorBus)

	cfg.Obs.MetricsAddr = env.str("METRICS_ADDR", cfg.Obs.MetricsAddr)
	cfg.Obs.OTLPEndpoint = env.str("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Obs.OTLPEndpoint)
	cfg.Obs.LogLevel = env.str("LOG_LEVEL", cfg.Obs.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	for name, v := range map[string]string{
		"upload": c.Endpoints.Upload,
		"status": c.Endpoints.Status,
		"chat":   c.Endpoints.Chat,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("config: %s endpoint is empty", name)
		}
	}
	if _, ok := domain.ParseLocale(c.Locale); !ok {
		return fmt.Errorf("config: unsupported locale %q", c.Locale)
	}
	if c.Poll.MaxAttempts < 1 {
		return fmt.Errorf("config: poll max attempts must be at least 1")
	}
	return nil
}

func (c *Config) DefaultLocale() domain.Locale {
	l, _ := domain.ParseLocale(c.Locale)
	return l
}

func (c *Config) SubmitOptions() submit.Options {
	return submit.Options{
		URL:     c.Endpoints.Upload,
		Timeout: seconds(c.Upload.TimeoutSeconds),
		Retries: c.Upload.Retries,
		Backoff: time.Duration(c.Upload.RetryBackoffMS) * time.Millisecond,
	}
}

func (c *Config) PollOptions() poll.Options {
	return poll.Options{
		URL:               c.Endpoints.Status,
		MaxAttempts:       c.Poll.MaxAttempts,
		Interval:          seconds(c.Poll.IntervalSeconds),
		RequestTimeout:    seconds(c.Poll.RequestTimeoutSeconds),
		RetryableStatuses: append([]int(nil), c.Poll.RetryableStatuses...),
	}
}

func (c *Config) Grace() time.Duration { return seconds(c.Poll.GraceSeconds) }

func (c *Config) ChatOptions() chat.Options {
	return chat.Options{URL: c.Endpoints.Chat, Timeout: seconds(c.Chat.TimeoutSeconds)}
}

func (c *Config) RedisOptions() store.RedisOptions {
	return store.RedisOptions{
		Addr:     c.Store.RedisAddr,
		Password: c.Store.RedisPass,
		DB:       c.Store.RedisDB,
		TTL:      seconds(c.Store.TTLSeconds),
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

type envReader func(string) string

func (e envReader) str(key, defaultVal string) string {
	val := strings.TrimSpace(e(key))
	if val == "" {
		return defaultVal
	}
	return val
}

// integer ignores negative and malformed values.
func (e envReader) integer(key string, defaultVal int) int {
	raw := strings.TrimSpace(e(key))
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

func (e envReader) boolean(key string, defaultVal bool) bool {
	raw := strings.TrimSpace(e(key))
	if raw == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultVal
	}
	return b
}

// ints parses a comma-separated list such as "404,202,425".
func (e envReader) ints(key string, defaultVal []int) []int {
	raw := strings.TrimSpace(e(key))
	if raw == "" {
		return defaultVal
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 100 || n > 599 {
			return defaultVal
		}
		out = append(out, n)
	}
	return out
}
