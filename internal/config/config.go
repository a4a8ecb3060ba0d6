// Package config loads Lineary configuration from a YAML file with
// LINEARY_* environment overrides layered on top of defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Lineary core configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	CodeHost CodeHostConfig `yaml:"codehost"`
	LLM      LLMConfig      `yaml:"llm"`
	Review   ReviewConfig   `yaml:"review"`
	Executor ExecutorConfig `yaml:"executor"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// CallbackBaseURL is the externally reachable base URL handed to the
	// sprint agent for completion callbacks.
	CallbackBaseURL string `yaml:"callback_base_url"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HostConfig holds per-code-host app credentials.
type HostConfig struct {
	AppID          string `yaml:"app_id"`
	InstallationID int64  `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	WebhookSecret  string `yaml:"webhook_secret"`
	APIBaseURL     string `yaml:"api_base_url"`
}

// CodeHostConfig configures webhook ingestion and code-host access.
type CodeHostConfig struct {
	// Mention is the reviewer handle that triggers a review from a comment.
	Mention string `yaml:"mention"`

	// MarkerPrefix is the work-item marker prefix, e.g. "LIN" for LIN-456.
	// Bare "#123" markers are always recognized.
	MarkerPrefix string `yaml:"marker_prefix"`

	Hosts map[string]HostConfig `yaml:"hosts"`

	// RequestTimeout bounds individual code-host API calls.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LLMConfig configures the LLM client.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ReviewConfig configures the review worker pool.
type ReviewConfig struct {
	Workers         int           `yaml:"workers"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ClaimTimeout    time.Duration `yaml:"claim_timeout"`
	DedupWindow     time.Duration `yaml:"dedup_window"`
	MaxFiles        int           `yaml:"max_files"`
	MaxFileChars    int           `yaml:"max_file_chars"`
	MaxChangedLines int           `yaml:"max_changed_lines"`
	CodeExtensions  []string      `yaml:"code_extensions"`
}

// ExecutorConfig configures the continuous sprint executor.
type ExecutorConfig struct {
	// RecordFeedback controls whether task completions feed the AI loop.
	RecordFeedback bool `yaml:"record_feedback"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8087",
			CallbackBaseURL: "http://localhost:8087",
		},
		Database: DatabaseConfig{
			Path: "data/lineary.db",
		},
		CodeHost: CodeHostConfig{
			Mention:        "@lineary-review",
			MarkerPrefix:   "LIN",
			Hosts:          map[string]HostConfig{},
			RequestTimeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   4000,
			Temperature: 0.1,
			Timeout:     120 * time.Second,
		},
		Review: ReviewConfig{
			Workers:         2,
			PollInterval:    2 * time.Second,
			ClaimTimeout:    5 * time.Minute,
			DedupWindow:     5 * time.Minute,
			MaxFiles:        10,
			MaxFileChars:    5000,
			MaxChangedLines: 1000,
			CodeExtensions: []string{
				".go", ".ts", ".tsx", ".js", ".jsx", ".py", ".rs",
				".java", ".rb", ".sql", ".sh",
			},
		},
		Executor: ExecutorConfig{
			RecordFeedback: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path (if it exists) over defaults and then
// applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers LINEARY_* environment variables over the loaded values.
func (c *Config) applyEnv() {
	if v := os.Getenv("LINEARY_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("LINEARY_CALLBACK_BASE_URL"); v != "" {
		c.Server.CallbackBaseURL = v
	}
	if v := os.Getenv("LINEARY_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("LINEARY_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("LINEARY_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LINEARY_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LINEARY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LINEARY_REVIEW_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Review.Workers = n
		}
	}
	if v := os.Getenv("LINEARY_MARKER_PREFIX"); v != "" {
		c.CodeHost.MarkerPrefix = v
	}
	// Per-host webhook secrets: LINEARY_WEBHOOK_SECRET_GITHUB etc.
	for _, env := range os.Environ() {
		const prefix = "LINEARY_WEBHOOK_SECRET_"
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		kv := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(kv) != 2 || kv[1] == "" {
			continue
		}
		host := strings.ToLower(kv[0])
		hc := c.CodeHost.Hosts[host]
		hc.WebhookSecret = kv[1]
		c.CodeHost.Hosts[host] = hc
	}
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Review.Workers <= 0 {
		return fmt.Errorf("review.workers must be positive, got %d", c.Review.Workers)
	}
	if c.Review.MaxFiles <= 0 {
		return fmt.Errorf("review.max_files must be positive, got %d", c.Review.MaxFiles)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}
