package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// jsonConfig is a DTO used exclusively for JSON unmarshalling. Interval
// fields are integer seconds; zero values leave the runtime Config untouched.
type jsonConfig struct {
	BackendURL             string   `json:"backend_url"`
	BackendTimeoutSeconds  int      `json:"backend_timeout_seconds"`
	Account                string   `json:"account"`
	ThreadsBaseURL         string   `json:"threads_base_url"`
	ThreadsFallbacks       []string `json:"threads_fallback_urls"`
	NavTimeoutSeconds      int      `json:"nav_timeout_seconds"`
	RetriesPerDomain       *int     `json:"retries_per_domain"`
	UploadIntervalSeconds  int      `json:"upload_interval_seconds"`
	LoginWaitSeconds       int      `json:"login_wait_seconds"`
	Headless               *bool    `json:"headless"`
	AnthropicAPIKey        string   `json:"anthropic_api_key"`
	TelegramBotToken       string   `json:"telegram_bot_token"`
	TelegramChatID         string   `json:"telegram_chat_id"`
	HistoryDSN             string   `json:"history_db"`
}

// ConfigFilePath returns the JSON config location: $THREADAUTO_CONFIG when
// set, otherwise <data dir>/config.json.
func ConfigFilePath(dataDir string) string {
	if p := os.Getenv("THREADAUTO_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(dataDir, "config.json")
}

// parseJSON overlays cfg with values loaded from the JSON config file.
// A missing file is not an error; a malformed one is.
func parseJSON(cfg *Config) error {
	path := ConfigFilePath(cfg.DataDir)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if jc.BackendURL != "" {
		cfg.BackendURL = jc.BackendURL
	}
	if jc.BackendTimeoutSeconds > 0 {
		cfg.BackendTimeout = time.Duration(jc.BackendTimeoutSeconds) * time.Second
	}
	if jc.Account != "" {
		cfg.Account = jc.Account
	}
	if jc.ThreadsBaseURL != "" {
		cfg.ThreadsBaseURL = jc.ThreadsBaseURL
	}
	if len(jc.ThreadsFallbacks) > 0 {
		cfg.ThreadsFallbacks = jc.ThreadsFallbacks
	}
	if jc.NavTimeoutSeconds > 0 {
		cfg.NavTimeout = time.Duration(jc.NavTimeoutSeconds) * time.Second
	}
	if jc.RetriesPerDomain != nil {
		cfg.RetriesPerDomain = *jc.RetriesPerDomain
	}
	if jc.UploadIntervalSeconds > 0 {
		cfg.UploadInterval = time.Duration(jc.UploadIntervalSeconds) * time.Second
	}
	if jc.LoginWaitSeconds > 0 {
		cfg.LoginWait = time.Duration(jc.LoginWaitSeconds) * time.Second
	}
	if jc.Headless != nil {
		cfg.Headless = *jc.Headless
	}
	if jc.AnthropicAPIKey != "" {
		cfg.AnthropicAPIKey = jc.AnthropicAPIKey
	}
	if jc.TelegramBotToken != "" {
		cfg.TelegramBotToken = jc.TelegramBotToken
	}
	if jc.TelegramChatID != "" {
		cfg.TelegramChatID = jc.TelegramChatID
	}
	if jc.HistoryDSN != "" {
		cfg.HistoryDSN = jc.HistoryDSN
	}
	return nil
}
