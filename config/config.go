package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Fyers credentials
	FyersClientID    string // app client id, e.g. "XXXXX-100"
	FyersSecretKey   string
	FyersRedirectURI string
	FyersUsername    string // FY id
	FyersPIN         string
	FyersTOTPKey     string

	// Strategy
	SpotSymbol     string        // index under watch
	CandleInterval time.Duration // signal candle width
	CapitalUnit    float64       // per-trade sizing capital
	BaseCapital    float64       // starting running capital

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string // candles + capital + reports
	JournalPath   string // trade journal
	MetricsAddr   string

	// EMA touch alerts (0 period disables)
	EMAPeriod   int
	EMATouchPct float64

	// Notifications (optional; empty disables)
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		FyersClientID:    mustEnv("FYERS_CLIENT_ID"),
		FyersSecretKey:   mustEnv("FYERS_SECRET_KEY"),
		FyersRedirectURI: getEnv("FYERS_REDIRECT_URI", "https://www.google.com"),
		FyersUsername:    mustEnv("FYERS_USERNAME"),
		FyersPIN:         mustEnv("FYERS_PIN"),
		FyersTOTPKey:     mustEnv("FYERS_TOTP_KEY"),

		SpotSymbol:     getEnv("SPOT_SYMBOL", "NSE:NIFTY50-INDEX"),
		CandleInterval: time.Duration(getEnvInt("CANDLE_INTERVAL_SEC", 300)) * time.Second,
		CapitalUnit:    getEnvFloat("CAPITAL_UNIT", 10000),
		BaseCapital:    getEnvFloat("BASE_CAPITAL", 10000),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/divergence.db"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/journal.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		EMAPeriod:   getEnvInt("EMA_PERIOD", 0),
		EMATouchPct: getEnvFloat("EMA_TOUCH_PCT", 0.1),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		log.Printf("[config] invalid %s=%q, using %.2f", key, v, fallback)
		return fallback
	}
	return f
}
