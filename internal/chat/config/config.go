// Package config loads the application configuration: an optional YAML file
// overridden by environment variables. Chat-facing settings (API key, model,
// user identity) live in the store's settings table instead, because the UI
// edits them at runtime.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wjt2018/chromachat/common/environment"
)

// Defaults applied when neither the file nor the environment sets a value.
const (
	DefaultDBPath     = "chromachat.db"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
	DefaultLLMTimeout = 60 * time.Second
)

// Config holds the process-level configuration.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string `yaml:"db_path"`

	// LogLevel is "debug", "info", "warn", or "error". Defaults to "info".
	LogLevel string `yaml:"log_level"`
	// LogFormat is "text" or "json". Defaults to "text".
	LogFormat string `yaml:"log_format"`

	// LLM holds fallback endpoint settings used when the settings table has
	// no value for the corresponding key.
	LLM LLMConfig `yaml:"llm"`
}

// LLMConfig configures the completion endpoint defaults.
type LLMConfig struct {
	// BaseURL overrides the API base URL (e.g. "http://localhost:11434/v1").
	BaseURL string `yaml:"base_url"`
	// Model is the default model identifier.
	Model string `yaml:"model"`
	// Timeout bounds each completion request.
	Timeout time.Duration `yaml:"timeout"`
	// MaxTokens caps each completion's length. 0 = provider default.
	MaxTokens int `yaml:"max_tokens"`
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist), applies environment overrides, then fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Missing file is fine; env and defaults take over.
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DBPath = environment.StringOr("CHROMACHAT_DB_PATH", c.DBPath)
	c.LogLevel = environment.StringOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = environment.StringOr("LOG_FORMAT", c.LogFormat)
	c.LLM.BaseURL = environment.StringOr("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = environment.StringOr("LLM_MODEL", c.LLM.Model)
	c.LLM.Timeout = environment.DurationOr("LLM_TIMEOUT", c.LLM.Timeout)
	c.LLM.MaxTokens = environment.IntOr("LLM_MAX_TOKENS", c.LLM.MaxTokens)
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = DefaultLLMTimeout
	}
}
