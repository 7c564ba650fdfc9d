// Package config holds runtime settings for the threadauto client.
//
// Sources are applied in order, later ones winning: built-in defaults,
// the JSON config file, then environment variables (a .env file in the
// working directory is loaded first when present).
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds every tunable the orchestrator and its collaborators need.
//
// Units: all *Seconds JSON fields are plain integers; in memory they are
// time.Duration values.
type Config struct {
	// Backend quota/auth service.
	BackendURL     string
	BackendTimeout time.Duration

	// Target platform account and navigation.
	Account          string
	ThreadsBaseURL   string
	ThreadsFallbacks []string
	NavTimeout       time.Duration
	RetriesPerDomain int

	// Batch behavior.
	UploadInterval time.Duration
	LoginWait      time.Duration
	Headless       bool

	// Text generation.
	AnthropicAPIKey string

	// Optional batch-summary notification.
	TelegramBotToken string
	TelegramChatID   string

	// Local state.
	DataDir    string
	HistoryDSN string
}

// DefaultFallbacks are the interchangeable Threads domains observed in
// production; each has independent DNS/TLS/5xx failure modes.
var DefaultFallbacks = []string{
	"https://www.threads.net",
	"https://www.threads.com",
	"https://threads.net",
	"https://threads.com",
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	c.DataDir = filepath.Join(home, ".threadauto")

	c.BackendTimeout = 10 * time.Second
	c.ThreadsBaseURL = DefaultFallbacks[0]
	c.ThreadsFallbacks = append([]string(nil), DefaultFallbacks...)
	c.NavTimeout = 15 * time.Second
	c.RetriesPerDomain = 1
	c.UploadInterval = 60 * time.Second
	c.LoginWait = 60 * time.Second
	c.Headless = false
	c.HistoryDSN = filepath.Join(c.DataDir, "history.db")
}

// MinUploadInterval is the floor enforced on the inter-item delay; posting
// faster than this draws platform rate limiting.
const MinUploadInterval = 30 * time.Second

// Normalize clamps values into their allowed ranges.
func (c *Config) Normalize() {
	if c.UploadInterval < MinUploadInterval {
		c.UploadInterval = MinUploadInterval
	}
	if c.RetriesPerDomain < 0 {
		c.RetriesPerDomain = 0
	}
	if c.HistoryDSN == "" {
		c.HistoryDSN = filepath.Join(c.DataDir, "history.db")
	}
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// the JSON config file (if present) and the environment. Later sources take
// precedence over earlier ones.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg); err != nil {
		return nil, err
	}
	parseEnv(cfg)
	cfg.Normalize()
	return cfg, nil
}
