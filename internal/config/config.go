// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Torn API
	TornAPIKeys    []string
	TornAPIBaseURL string

	// 集計から除外するアイテム名（OCアイテムなど）
	ExcludedItems []string

	// Fetch
	FetchTimeout    time.Duration
	APIPageInterval time.Duration

	// Scheduler
	IngestCronSpec  string
	CatchupInterval time.Duration
	CatchupDays     int

	// Cleanup
	NewsRetentionDays int

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort string

	// Telegram（未設定なら通知は無効）
	TelegramBotToken string
	TelegramChatID   int64
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（無ければ無視する）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.TornAPIKeys = getEnvList("TORN_API_KEYS")
	if len(cfg.TornAPIKeys) == 0 {
		missing = append(missing, "TORN_API_KEYS")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TornAPIBaseURL = getEnvString("TORN_API_BASE_URL", "https://api.torn.com")
	cfg.ExcludedItems = getEnvList("OC_ITEMS")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 15*time.Second)
	cfg.APIPageInterval = getEnvDuration("API_PAGE_INTERVAL", 2*time.Second)
	cfg.IngestCronSpec = getEnvString("INGEST_CRON_SPEC", "5 0 * * *")
	cfg.CatchupInterval = getEnvDuration("CATCHUP_INTERVAL", 1*time.Hour)
	cfg.CatchupDays = getEnvInt("CATCHUP_DAYS", 7)
	cfg.NewsRetentionDays = getEnvInt("NEWS_RETENTION_DAYS", 90)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramChatID = getEnvInt64("TELEGRAM_CHAT_ID", 0)

	return cfg, nil
}

// ExcludedItemSet は除外アイテム名の集合を返す。
func (c *Config) ExcludedItemSet() map[string]bool {
	set := make(map[string]bool, len(c.ExcludedItems))
	for _, item := range c.ExcludedItems {
		set[item] = true
	}
	return set
}

// TelegramEnabled はTelegram通知の設定が揃っているかを返す。
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

// getEnvList はカンマ区切りの環境変数を要素ごとにトリムして返す。
// 空要素は捨てる。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var items []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			items = append(items, part)
		}
	}
	return items
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
