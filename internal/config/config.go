package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds the process configuration
type Config struct {
	Port                  string
	DatabasePath          string
	TelegramBotToken      string
	WebAppURL             string
	ChannelID             string
	LogFile               string
	CommissionRatePublic  decimal.Decimal
	CommissionRateFriends decimal.Decimal
	ProofGrace            time.Duration
	SettleDelay           time.Duration
	WorkerInterval        time.Duration
	WelcomeBonus          int64 // in cents
}

// Load reads .env (if present) and the environment
func Load() (*Config, error) {
	// A missing .env is fine, the environment is authoritative
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DatabasePath:     getEnv("DATABASE_PATH", "/app/data/pacts.db"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		WebAppURL:        getEnv("WEB_APP_URL", "http://localhost:8080"),
		ChannelID:        os.Getenv("CHANNEL_ID"),
		LogFile:          os.Getenv("LOG_FILE"),
	}

	var err error
	if cfg.CommissionRatePublic, err = getRate("COMMISSION_RATE_PUBLIC", "0.05"); err != nil {
		return nil, err
	}
	if cfg.CommissionRateFriends, err = getRate("COMMISSION_RATE_FRIENDS", "0.03"); err != nil {
		return nil, err
	}

	graceHours, err := getInt("PROOF_GRACE_HOURS", 24)
	if err != nil {
		return nil, err
	}
	cfg.ProofGrace = time.Duration(graceHours) * time.Hour

	settleMinutes, err := getInt("SETTLE_DELAY_MINUTES", 0)
	if err != nil {
		return nil, err
	}
	cfg.SettleDelay = time.Duration(settleMinutes) * time.Minute

	intervalSeconds, err := getInt("WORKER_INTERVAL_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	if intervalSeconds == 0 {
		return nil, fmt.Errorf("WORKER_INTERVAL_SECONDS must be greater than 0")
	}
	cfg.WorkerInterval = time.Duration(intervalSeconds) * time.Second

	bonus, err := getInt("WELCOME_BONUS_CENTS", 10000)
	if err != nil {
		return nil, err
	}
	cfg.WelcomeBonus = int64(bonus)

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, raw)
	}
	return v, nil
}

func getRate(key, fallback string) (decimal.Decimal, error) {
	raw := getEnv(key, fallback)
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("invalid %s %q: must be in [0, 1)", key, raw)
	}
	return rate, nil
}
