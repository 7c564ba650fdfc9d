package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// parseEnv overlays cfg with environment variables. A .env file in the
// working directory is loaded first without overriding variables already set
// in the real environment.
func parseEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("THREADAUTO_BACKEND_URL"); v != "" {
		cfg.BackendURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("THREADAUTO_ACCOUNT"); v != "" {
		cfg.Account = v
	}
	if v := os.Getenv("THREADAUTO_THREADS_BASE_URL"); v != "" {
		cfg.ThreadsBaseURL = v
	}
	if v := os.Getenv("THREADAUTO_THREADS_BASE_URLS"); v != "" {
		var urls []string
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) > 0 {
			cfg.ThreadsFallbacks = urls
		}
	}
	if v := os.Getenv("THREADAUTO_UPLOAD_INTERVAL"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.UploadInterval = time.Duration(sec) * time.Second
		}
	}
	if v := os.Getenv("THREADAUTO_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Headless = b
		}
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.AnthropicAPIKey = v
	}
	if v := os.Getenv("THREADAUTO_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.TelegramBotToken = v
	}
	if v := os.Getenv("THREADAUTO_TELEGRAM_CHAT_ID"); v != "" {
		cfg.TelegramChatID = v
	}
	if v := os.Getenv("THREADAUTO_HISTORY_DB"); v != "" {
		cfg.HistoryDSN = v
	}
}
