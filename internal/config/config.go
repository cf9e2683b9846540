package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// RedisConfig holds settings for the Redis result cache. An empty Addr
// disables Redis and falls back to the in-memory cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WebhookConfig holds settings for task completion callbacks.
type WebhookConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// OtelConfig holds OpenTelemetry exporter settings.
type OtelConfig struct {
	// Exporter selects the exporter: "none", "stdout", or "otlp-http".
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	// MaxConcurrent is the scheduler concurrency ceiling: the maximum
	// number of tasks allowed in progress at once. Default 10.
	MaxConcurrent int `yaml:"max_concurrent"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	// DefaultAgent is the fallback agent id when routing finds no
	// keyword or capability match.
	DefaultAgent string `yaml:"default_agent"`

	// TaskTTLSeconds is the cache expiry for task projections. Default 300.
	TaskTTLSeconds int `yaml:"task_ttl_seconds"`

	// DrainTimeoutSeconds bounds graceful shutdown. 0 uses the default (5s).
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`

	// RetentionTaskEventsDays is the journal retention window. 0 keeps forever.
	RetentionTaskEventsDays int `yaml:"retention_task_events_days"`

	// StatsSchedule is a cron expression for periodic stats snapshots.
	StatsSchedule string `yaml:"stats_schedule"`
	// RetentionSchedule is a cron expression for the journal retention sweep.
	RetentionSchedule string `yaml:"retention_schedule"`

	// AllowOrigins controls which Origin headers are accepted for browser
	// WS connections. Empty means local-only.
	AllowOrigins []string `yaml:"allow_origins"`

	Redis   RedisConfig   `yaml:"redis"`
	Webhook WebhookConfig `yaml:"webhook"`
	Otel    OtelConfig    `yaml:"otel"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// JournalPath returns the path to the task journal database.
func (c Config) JournalPath() string {
	return filepath.Join(c.HomeDir, "journal.db")
}

// loadRawConfig reads config.yaml into a generic map, returning an empty map if the file doesn't exist.
func loadRawConfig(path string) (map[string]interface{}, error) {
	raw := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return raw, nil
}

// saveRawConfig marshals and writes a generic map back to config.yaml.
func saveRawConfig(path string, raw map[string]interface{}) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// SetMaxConcurrent updates the concurrency ceiling in config.yaml, preserving other settings.
func SetMaxConcurrent(homeDir string, n int) error {
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	raw["max_concurrent"] = n
	return saveRawConfig(configPath, raw)
}

// SetDefaultAgent updates the routing fallback agent in config.yaml, preserving other settings.
func SetDefaultAgent(homeDir, agentID string) error {
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	raw["default_agent"] = agentID
	return saveRawConfig(configPath, raw)
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "ceiling=%d|bind=%s|log=%s|default=%s|ttl=%d|redis=%s|origins=%v",
		c.MaxConcurrent, c.BindAddr, c.LogLevel, c.DefaultAgent, c.TaskTTLSeconds, c.Redis.Addr, c.AllowOrigins)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		MaxConcurrent:           10,
		BindAddr:                "127.0.0.1:18790",
		LogLevel:                "info",
		DefaultAgent:            "general",
		TaskTTLSeconds:          300,
		DrainTimeoutSeconds:     5,
		RetentionTaskEventsDays: 90,
		StatsSchedule:           "* * * * *",
		RetentionSchedule:       "0 3 * * *",
		Webhook: WebhookConfig{
			TimeoutSeconds: 10,
		},
		Otel: OtelConfig{
			Exporter: "none",
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("CONDUCTOR_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".conductor")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create conductor home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18790"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.DefaultAgent) == "" {
		cfg.DefaultAgent = "general"
	}
	if cfg.TaskTTLSeconds <= 0 {
		cfg.TaskTTLSeconds = 300
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		cfg.DrainTimeoutSeconds = 5
	}
	if cfg.Webhook.TimeoutSeconds <= 0 {
		cfg.Webhook.TimeoutSeconds = 10
	}
	if strings.TrimSpace(cfg.StatsSchedule) == "" {
		cfg.StatsSchedule = "* * * * *"
	}
	if strings.TrimSpace(cfg.RetentionSchedule) == "" {
		cfg.RetentionSchedule = "0 3 * * *"
	}
	if cfg.Otel.Exporter == "" {
		cfg.Otel.Exporter = "none"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("CONDUCTOR_MAX_CONCURRENT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxConcurrent = v
		}
	}
	if raw := os.Getenv("CONDUCTOR_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("CONDUCTOR_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("CONDUCTOR_DEFAULT_AGENT"); raw != "" {
		cfg.DefaultAgent = raw
	}
	if raw := os.Getenv("CONDUCTOR_TASK_TTL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.TaskTTLSeconds = v
		}
	}
	if raw := os.Getenv("CONDUCTOR_DRAIN_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.DrainTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("CONDUCTOR_REDIS_ADDR"); raw != "" {
		cfg.Redis.Addr = raw
	}
	if raw := os.Getenv("CONDUCTOR_REDIS_PASSWORD"); raw != "" {
		cfg.Redis.Password = raw
	}
	if raw := os.Getenv("CONDUCTOR_OTEL_EXPORTER"); raw != "" {
		cfg.Otel.Exporter = raw
	}
	if raw := os.Getenv("CONDUCTOR_OTEL_ENDPOINT"); raw != "" {
		cfg.Otel.Endpoint = raw
	}
}
