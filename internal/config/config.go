// Package config provides configuration management for Riya.
// Settings come from built-in defaults, an optional YAML/TOML/JSON file named
// by RIYA_CONFIG_FILE, and environment variables with the RIYA_ prefix
// (nested keys use underscores, e.g. RIYA_SERVER_PORT, RIYA_LLM_PROVIDER).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for all environment overrides.
const EnvPrefix = "RIYA"

// Config holds all configuration settings for the Riya engine.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `mapstructure:"port"` // Server port (default: 6464)
	Host string `mapstructure:"host"` // Server host (default: 127.0.0.1)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	Engine      string `mapstructure:"engine"`       // sqlite or postgres (default: sqlite)
	DataPath    string `mapstructure:"data_path"`    // Data directory for sqlite and event files (default: ./data)
	PostgresDSN string `mapstructure:"postgres_dsn"` // Connection string when engine is postgres
}

// LLMConfig contains language reasoning provider configuration.
type LLMConfig struct {
	Provider        string        `mapstructure:"provider"` // ollama, openai, anthropic (default: ollama)
	OllamaURL       string        `mapstructure:"ollama_url"`
	OllamaModel     string        `mapstructure:"ollama_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"` // Empty disables embeddings
	OpenAIAPIKey    string        `mapstructure:"openai_api_key"`
	OpenAIModel     string        `mapstructure:"openai_model"`
	AnthropicAPIKey string        `mapstructure:"anthropic_api_key"`
	AnthropicModel  string        `mapstructure:"anthropic_model"`
	Timeout         time.Duration `mapstructure:"timeout"`         // Per-call bound (default: 30s)
	RatePerSecond   float64       `mapstructure:"rate_per_second"` // Reasoning calls per second (default: 2)
	Burst           int           `mapstructure:"burst"`
}

// EngineConfig contains analysis pipeline configuration.
type EngineConfig struct {
	NumWorkers          int           `mapstructure:"num_workers"`           // Analysis workers (default: 2)
	QueueSize           int           `mapstructure:"queue_size"`            // Pending analysis jobs (default: 100)
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`      // Worker drain timeout (default: 30s)
	RetrievalLimit      int           `mapstructure:"retrieval_limit"`       // Default top-K (default: 5)
	RetrievalTimeout    time.Duration `mapstructure:"retrieval_timeout"`     // Bound for a synchronous retrieval (default: 20s)
	MaxCandidates       int           `mapstructure:"max_candidates"`        // Working set scored per retrieval (default: 50)
	ScoringConcurrency  int           `mapstructure:"scoring_concurrency"`   // Parallel relevance calls (default: 4)
	TrendWindowDays     int           `mapstructure:"trend_window_days"`     // Default trend window (default: 30)
	PolicyFile          string        `mapstructure:"policy_file"`           // Optional YAML policy override
	RescoreOnExtraction bool          `mapstructure:"rescore_on_extraction"` // Score confidence for new memories (default: true)
}

// SchedulerConfig contains engagement scheduler cadences.
type SchedulerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"` // default: 5m
	PredictInterval  time.Duration `mapstructure:"predict_interval"`  // default: 6h
	LookAhead        time.Duration `mapstructure:"look_ahead"`        // Dedupe window ahead of now (default: 24h)
	StaleAfter       time.Duration `mapstructure:"stale_after"`       // Unsent age ceiling (default: 72h)
	DispatchBatch    int           `mapstructure:"dispatch_batch"`    // Max due triggers per tick (default: 100)
}

// NotifyConfig contains notification dispatcher configuration.
type NotifyConfig struct {
	WebSocket bool `mapstructure:"websocket"` // Push to connected clients (default: true)
	Outbox    bool `mapstructure:"outbox"`    // Write notification event files (default: false)
	Watch     bool `mapstructure:"watch"`     // Watch for session_ended event files (default: true)
}

// BackupConfig contains snapshot settings for the sqlite store.
type BackupConfig struct {
	Enabled  bool          `mapstructure:"enabled"`  // Snapshot periodically while serving (default: false)
	Dir      string        `mapstructure:"dir"`      // Empty means <data_path>/backups
	Interval time.Duration `mapstructure:"interval"` // default: 1h
	Verify   bool          `mapstructure:"verify"`   // Run integrity_check on each snapshot (default: true)
}

// LoggingConfig contains logger configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error (default: info)
	Format string `mapstructure:"format"` // json or console (default: json)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	Mode           string   `mapstructure:"mode"`      // development or production (default: development)
	APIToken       string   `mapstructure:"api_token"` // Bearer token for the API
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// IsProduction reports whether production security is enabled.
func (s SecurityConfig) IsProduction() bool {
	return strings.EqualFold(s.Mode, "production")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 6464)
	v.SetDefault("server.host", "127.0.0.1")

	v.SetDefault("storage.engine", "sqlite")
	v.SetDefault("storage.data_path", "./data")
	v.SetDefault("storage.postgres_dsn", "")

	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.ollama_url", "http://localhost:11434")
	v.SetDefault("llm.ollama_model", "qwen2.5:7b")
	v.SetDefault("llm.embedding_model", "")
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.openai_model", "gpt-4o-mini")
	v.SetDefault("llm.anthropic_api_key", "")
	v.SetDefault("llm.anthropic_model", "claude-3-5-sonnet-20241022")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.rate_per_second", 2.0)
	v.SetDefault("llm.burst", 4)

	v.SetDefault("engine.num_workers", 2)
	v.SetDefault("engine.queue_size", 100)
	v.SetDefault("engine.shutdown_timeout", 30*time.Second)
	v.SetDefault("engine.retrieval_limit", 5)
	v.SetDefault("engine.retrieval_timeout", 20*time.Second)
	v.SetDefault("engine.max_candidates", 50)
	v.SetDefault("engine.scoring_concurrency", 4)
	v.SetDefault("engine.trend_window_days", 30)
	v.SetDefault("engine.policy_file", "")
	v.SetDefault("engine.rescore_on_extraction", true)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.dispatch_interval", 5*time.Minute)
	v.SetDefault("scheduler.predict_interval", 6*time.Hour)
	v.SetDefault("scheduler.look_ahead", 24*time.Hour)
	v.SetDefault("scheduler.stale_after", 72*time.Hour)
	v.SetDefault("scheduler.dispatch_batch", 100)

	v.SetDefault("notify.websocket", true)
	v.SetDefault("notify.outbox", false)
	v.SetDefault("notify.watch", true)

	v.SetDefault("backup.enabled", false)
	v.SetDefault("backup.dir", "")
	v.SetDefault("backup.interval", time.Hour)
	v.SetDefault("backup.verify", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("security.mode", "development")
	v.SetDefault("security.api_token", "")
	v.SetDefault("security.allowed_origins", []string{})
}

// LoadConfig loads configuration from defaults, the optional config file
// and RIYA_ environment variables, in increasing order of precedence.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(EnvPrefix + "_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that values are in range.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port out of range: %d", c.Server.Port)
	}

	switch c.Storage.Engine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: storage.postgres_dsn is required for the postgres engine")
		}
	default:
		return fmt.Errorf("config: unknown storage.engine %q", c.Storage.Engine)
	}

	switch c.LLM.Provider {
	case "ollama", "openai", "anthropic":
	default:
		return fmt.Errorf("config: unknown llm.provider %q", c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		return errors.New("config: llm.timeout must be positive")
	}
	if c.LLM.RatePerSecond <= 0 {
		return errors.New("config: llm.rate_per_second must be positive")
	}

	if c.Engine.NumWorkers < 1 {
		return errors.New("config: engine.num_workers must be at least 1")
	}
	if c.Engine.QueueSize < 1 {
		return errors.New("config: engine.queue_size must be at least 1")
	}
	if c.Engine.RetrievalLimit < 1 {
		return errors.New("config: engine.retrieval_limit must be at least 1")
	}
	if c.Engine.TrendWindowDays < 1 {
		return errors.New("config: engine.trend_window_days must be at least 1")
	}

	if c.Scheduler.DispatchInterval <= 0 || c.Scheduler.PredictInterval <= 0 {
		return errors.New("config: scheduler intervals must be positive")
	}
	if c.Scheduler.StaleAfter <= 0 {
		return errors.New("config: scheduler.stale_after must be positive")
	}

	if c.Backup.Enabled && c.Backup.Interval <= 0 {
		return errors.New("config: backup.interval must be positive")
	}

	if c.Security.IsProduction() && c.Security.APIToken == "" {
		return errors.New("config: security.api_token is required in production mode")
	}
	return nil
}

// SQLitePath returns the database file path under the data directory.
func (c *Config) SQLitePath() string {
	return strings.TrimRight(c.Storage.DataPath, "/") + "/riya.db"
}

// EventsDir returns the directory watched for session events.
func (c *Config) EventsDir() string {
	return strings.TrimRight(c.Storage.DataPath, "/") + "/events"
}

// OutboxDir returns the directory notification event files are written to.
func (c *Config) OutboxDir() string {
	return strings.TrimRight(c.Storage.DataPath, "/") + "/outbox"
}

// BackupDir returns the snapshot directory.
func (c *Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return strings.TrimRight(c.Storage.DataPath, "/") + "/backups"
}
