package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen             string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout            time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
		ErrorDisplayWindow time.Duration `yaml:"error_display_window" json:"error_display_window" jsonschema:"default=5s,description=How long a user-triggered error stays visible on the status endpoint"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Dataset struct {
		Source    string        `yaml:"source" json:"source" jsonschema:"required,description=TSV resource with review texts; local path or http(s) URL"`
		Timeout   time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Fetch timeout for URL sources"`
		UserAgent string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=Reviewscope/1.0,description=User agent for HTTP fetches"`
	} `yaml:"dataset" json:"dataset" jsonschema:"description=Review dataset configuration"`

	Classifier ClassifierConfig `yaml:"classifier" json:"classifier" jsonschema:"description=Sentiment classifier configuration"`

	Sink SinkConfig `yaml:"sink" json:"sink" jsonschema:"description=Spreadsheet logging webhook configuration"`

	Loop LoopConfig `yaml:"loop" json:"loop" jsonschema:"description=Analysis loop configuration"`

	Journal JournalConfig `yaml:"journal" json:"journal" jsonschema:"description=Diagnostics journal configuration"`
}

// ClassifierConfig holds sentiment model settings
type ClassifierConfig struct {
	Provider    string        `yaml:"provider" json:"provider" jsonschema:"default=huggingface,enum=huggingface,enum=openai,description=Classifier backend"`
	Endpoint    string        `yaml:"endpoint" json:"endpoint" jsonschema:"description=Model endpoint URL (required for huggingface)"`
	APIKey      string        `yaml:"api_key" json:"api_key" jsonschema:"description=API key (can use environment variable)"`
	Model       string        `yaml:"model" json:"model" jsonschema:"description=Model name (required for openai)"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Request timeout"`
	Temperature float64       `yaml:"temperature" json:"temperature" jsonschema:"default=0.3,description=Temperature for openai provider"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens" jsonschema:"default=300,description=Maximum tokens in openai response"`
}

// SinkConfig holds the logging webhook settings
type SinkConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled" jsonschema:"default=false,description=Enable forwarding results to the webhook"`
	URL     string        `yaml:"url" json:"url" jsonschema:"description=Webhook URL (required when enabled)"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=10s,description=Dispatch timeout"`
}

// LoopConfig holds analysis loop settings
type LoopConfig struct {
	Interval       time.Duration `yaml:"interval" json:"interval" jsonschema:"default=30s,description=Periodic analysis interval"`
	HistorySize    int           `yaml:"history_size" json:"history_size" jsonschema:"default=10,minimum=1,description=Bounded history buffer size"`
	DedupWindow    time.Duration `yaml:"dedup_window" json:"dedup_window" jsonschema:"default=5m,description=Duplicate suppression window"`
	TruncateLength int           `yaml:"truncate_length" json:"truncate_length" jsonschema:"default=50,minimum=1,description=History summary truncation length in runes"`
}

// JournalConfig holds diagnostics journal settings, empty DSN disables the journal
type JournalConfig struct {
	DSN             string `yaml:"dsn" json:"dsn" jsonschema:"description=SQLite connection string; empty disables the journal"`
	MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// set defaults for server
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}
	if cfg.Server.ErrorDisplayWindow == 0 {
		cfg.Server.ErrorDisplayWindow = 5 * time.Second
	}

	// set defaults for dataset
	if cfg.Dataset.Timeout == 0 {
		cfg.Dataset.Timeout = 30 * time.Second
	}
	if cfg.Dataset.UserAgent == "" {
		cfg.Dataset.UserAgent = "Reviewscope/1.0"
	}

	// set defaults for classifier
	if cfg.Classifier.Provider == "" {
		cfg.Classifier.Provider = "huggingface"
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 30 * time.Second
	}
	if cfg.Classifier.Temperature == 0 {
		cfg.Classifier.Temperature = 0.3
	}
	if cfg.Classifier.MaxTokens == 0 {
		cfg.Classifier.MaxTokens = 300
	}

	// set defaults for sink
	if cfg.Sink.Timeout == 0 {
		cfg.Sink.Timeout = 10 * time.Second
	}

	// set defaults for loop
	if cfg.Loop.Interval == 0 {
		cfg.Loop.Interval = 30 * time.Second
	}
	if cfg.Loop.HistorySize == 0 {
		cfg.Loop.HistorySize = 10
	}
	if cfg.Loop.DedupWindow == 0 {
		cfg.Loop.DedupWindow = 5 * time.Minute
	}
	if cfg.Loop.TruncateLength == 0 {
		cfg.Loop.TruncateLength = 50
	}

	// set defaults for journal pool
	if cfg.Journal.MaxOpenConns == 0 {
		cfg.Journal.MaxOpenConns = 10
	}
	if cfg.Journal.MaxIdleConns == 0 {
		cfg.Journal.MaxIdleConns = 5
	}
	if cfg.Journal.ConnMaxLifetime == 0 {
		cfg.Journal.ConnMaxLifetime = 3600
	}

	// validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// validate checks configuration for correctness
func validate(cfg *Config) error {

	// validate dataset config
	if cfg.Dataset.Source == "" {
		return fmt.Errorf("dataset.source is required")
	}

	// validate classifier config
	switch cfg.Classifier.Provider {
	case "huggingface":
		if cfg.Classifier.Endpoint == "" {
			return fmt.Errorf("classifier.endpoint is required for huggingface provider")
		}
	case "openai":
		if cfg.Classifier.Model == "" {
			return fmt.Errorf("classifier.model is required for openai provider")
		}
	default:
		return fmt.Errorf("classifier.provider must be huggingface or openai, got %q", cfg.Classifier.Provider)
	}
	if cfg.Classifier.Temperature < 0 || cfg.Classifier.Temperature > 2 {
		return fmt.Errorf("classifier.temperature must be between 0 and 2")
	}

	// validate sink config
	if cfg.Sink.Enabled && cfg.Sink.URL == "" {
		return fmt.Errorf("sink.url is required when sink is enabled")
	}

	// validate loop config
	if cfg.Loop.Interval < time.Second {
		return fmt.Errorf("loop.interval must be at least 1 second")
	}
	if cfg.Loop.HistorySize < 1 {
		return fmt.Errorf("loop.history_size must be at least 1")
	}
	if cfg.Loop.TruncateLength < 1 {
		return fmt.Errorf("loop.truncate_length must be at least 1")
	}

	// validate server config
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}

	return nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}

// GetErrorDisplayWindow returns how long user errors remain visible on status
func (c *Config) GetErrorDisplayWindow() time.Duration {
	return c.Server.ErrorDisplayWindow
}

// GetClassifierConfig returns classifier configuration
func (c *Config) GetClassifierConfig() ClassifierConfig {
	return c.Classifier
}

// GetSinkConfig returns logging webhook configuration
func (c *Config) GetSinkConfig() SinkConfig {
	return c.Sink
}

// GetLoopConfig returns analysis loop configuration
func (c *Config) GetLoopConfig() LoopConfig {
	return c.Loop
}
