// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Discord
	DiscordBotToken  string
	DiscordChannelID string

	// PSN
	PSNBaseURL     string
	PSNAccessToken string
	PSNRatePerSec  float64

	// Check
	CheckInterval      time.Duration
	CheckMaxConcurrent int
	CheckAllIdentities bool // trueの場合は通知無効のアイデンティティも定期チェックの対象とする
	FetchTimeout       time.Duration

	// Cache
	CacheTTL time.Duration

	// API
	APIToken         string
	RateLimitGeneral int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.DiscordBotToken = os.Getenv("DISCORD_BOT_TOKEN")
	if cfg.DiscordBotToken == "" {
		missing = append(missing, "DISCORD_BOT_TOKEN")
	}

	cfg.DiscordChannelID = os.Getenv("DISCORD_CHANNEL_ID")
	if cfg.DiscordChannelID == "" {
		missing = append(missing, "DISCORD_CHANNEL_ID")
	}

	cfg.PSNAccessToken = os.Getenv("PSN_ACCESS_TOKEN")
	if cfg.PSNAccessToken == "" {
		missing = append(missing, "PSN_ACCESS_TOKEN")
	}

	cfg.APIToken = os.Getenv("API_TOKEN")
	if cfg.APIToken == "" {
		missing = append(missing, "API_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.PSNBaseURL = getEnvString("PSN_API_BASE_URL", "https://m.np.playstation.com/api/trophy")
	cfg.PSNRatePerSec = getEnvFloat("PSN_RATE_PER_SEC", 2.0)
	cfg.CheckInterval = getEnvDuration("CHECK_INTERVAL", 30*time.Minute)
	cfg.CheckMaxConcurrent = getEnvInt("CHECK_MAX_CONCURRENT", 4)
	cfg.CheckAllIdentities = getEnvBool("CHECK_ALL_IDENTITIES", false)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", 20*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
