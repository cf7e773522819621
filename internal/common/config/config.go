package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the root configuration for the webrelay gateway.
	Config struct {
		Port     int            `yaml:"port"`
		Logger   LoggerConfig   `yaml:"logger"`
		Metrics  MetricsConfig  `yaml:"metrics"`
		Browser  BrowserConfig  `yaml:"browser"`
		Limiter  LimiterConfig  `yaml:"limiter"`
		Sessions SessionsConfig `yaml:"sessions"`
		OpenAI   OpenAIConfig   `yaml:"openai"`
	}

	// BrowserConfig configures the control connection to the browser-side
	// process and the request/heartbeat timing built on top of it.
	BrowserConfig struct {
		Host string `yaml:"host"` // host:port of the browser-side process
		Path string `yaml:"path"` // websocket path, e.g. /relay

		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		RequestTimeout time.Duration `yaml:"request_timeout"` // default per-command timeout

		Heartbeat HeartbeatConfig `yaml:"heartbeat"`
		Reconnect ReconnectConfig `yaml:"reconnect"`
	}

	// HeartbeatConfig configures the application-level ping/pong exchange.
	HeartbeatConfig struct {
		Interval time.Duration `yaml:"interval"`
		Timeout  time.Duration `yaml:"timeout"`
	}

	// ReconnectConfig configures exponential backoff after connection loss.
	ReconnectConfig struct {
		BaseDelay   time.Duration `yaml:"base_delay"`
		Multiplier  float64       `yaml:"multiplier"`
		MaxDelay    time.Duration `yaml:"max_delay"`
		MaxAttempts int           `yaml:"max_attempts"` // 0 means retry forever
	}

	// LimiterConfig bounds concurrent command execution against the
	// shared browser connection.
	LimiterConfig struct {
		MaxConcurrent int `yaml:"max_concurrent"`
		MaxQueueSize  int `yaml:"max_queue_size"`
	}

	// SessionsConfig bounds concurrent agent conversations.
	SessionsConfig struct {
		MaxSessions   int           `yaml:"max_sessions"`
		IdleTimeout   time.Duration `yaml:"idle_timeout"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	}

	// OpenAIConfig configures the LLM provider used by chat agents.
	OpenAIConfig struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
	}

	// MetricsConfig configures the prometheus registry.
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}
)

// LoadConfig loads configuration from a YAML file with environment
// variable support. Placeholders of the form ${VAR} or ${VAR:default}
// are resolved against the process environment before unmarshalling.
func LoadConfig(path string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = resolveEnv(data)
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Browser.Host == "" {
		c.Browser.Host = "127.0.0.1:9222"
	}
	if c.Browser.Path == "" {
		c.Browser.Path = "/relay"
	}
	if c.Browser.ConnectTimeout == 0 {
		c.Browser.ConnectTimeout = 10 * time.Second
	}
	if c.Browser.RequestTimeout == 0 {
		c.Browser.RequestTimeout = 30 * time.Second
	}
	if c.Browser.Heartbeat.Interval == 0 {
		c.Browser.Heartbeat.Interval = 30 * time.Second
	}
	if c.Browser.Heartbeat.Timeout == 0 {
		c.Browser.Heartbeat.Timeout = 5 * time.Second
	}
	if c.Browser.Reconnect.BaseDelay == 0 {
		c.Browser.Reconnect.BaseDelay = time.Second
	}
	if c.Browser.Reconnect.Multiplier == 0 {
		c.Browser.Reconnect.Multiplier = 2.0
	}
	if c.Browser.Reconnect.MaxDelay == 0 {
		c.Browser.Reconnect.MaxDelay = 30 * time.Second
	}
	if c.Limiter.MaxConcurrent == 0 {
		c.Limiter.MaxConcurrent = 5
	}
	if c.Limiter.MaxQueueSize == 0 {
		c.Limiter.MaxQueueSize = 20
	}
	if c.Sessions.MaxSessions == 0 {
		c.Sessions.MaxSessions = 10
	}
	if c.Sessions.IdleTimeout == 0 {
		c.Sessions.IdleTimeout = 30 * time.Minute
	}
	if c.Sessions.SweepInterval == 0 {
		c.Sessions.SweepInterval = time.Minute
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o"
	}
}

// Validate checks configuration bounds.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Browser.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect multiplier must be >= 1, got %v", c.Browser.Reconnect.Multiplier)
	}
	if c.Browser.Reconnect.MaxDelay < c.Browser.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect max_delay %v is below base_delay %v",
			c.Browser.Reconnect.MaxDelay, c.Browser.Reconnect.BaseDelay)
	}
	if c.Limiter.MaxConcurrent < 1 {
		return fmt.Errorf("limiter max_concurrent must be >= 1, got %d", c.Limiter.MaxConcurrent)
	}
	if c.Limiter.MaxQueueSize < 0 {
		return fmt.Errorf("limiter max_queue_size must be >= 0, got %d", c.Limiter.MaxQueueSize)
	}
	if c.Sessions.MaxSessions < 1 {
		return fmt.Errorf("sessions max_sessions must be >= 1, got %d", c.Sessions.MaxSessions)
	}
	return nil
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
