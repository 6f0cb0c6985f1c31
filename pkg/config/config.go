package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the platform core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Auth
	JWTSecret     string
	SessionCookie string
	TokenTTL      time.Duration

	// Market feed
	Symbols      []string
	UseMockFeed  bool
	FeedInterval time.Duration
	FeedStepPct  float64 // max random-walk step per tick, percent of price
	SeedCatalog  string  // YAML file with staking plans, metals and pools

	// Execution
	FeeRateBps       float64 // taker fee in basis points
	SlippageBps      float64 // slippage applied to market fills
	PartialFillPct   float64 // chance (0-100) a market order fills in two steps
	OrderTTL         time.Duration
	InitialBalance   float64 // credited to new accounts
	ExpirySweepEvery time.Duration

	// Mixer
	MixerFeePct     float64
	MixerMinAmount  float64
	MixerMaxAmount  float64
	MixerDelayMin   time.Duration
	MixerDelayMax   time.Duration
	MixerTickEvery  time.Duration
	MixerOutputsMax int

	// Spectrum staking
	AccrualInterval time.Duration

	// Bots
	BotCooldown time.Duration

	// WalletConnect
	WalletSessionTTL time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the service still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for older deployments.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/kingdom.db")
	}

	return &Config{
		Port:          getEnv("PORT", "8080"),
		DBPath:        dbPath,
		JWTSecret:     getEnv("JWT_SECRET", "dev-secret"),
		SessionCookie: getEnv("SESSION_COOKIE", "kingdom_session"),
		TokenTTL:      getEnvDuration("TOKEN_TTL", 72*time.Hour),

		Symbols:      splitAndTrim(getEnv("MARKET_SYMBOLS", "BTC/USDT,ETH/USDT,AAPL,TSLA,EUR/USD,US10Y,XAU,XAG")),
		UseMockFeed:  getEnv("USE_MOCK_FEED", "true") == "true",
		FeedInterval: getEnvDuration("FEED_INTERVAL", time.Second),
		FeedStepPct:  getEnvFloat("FEED_STEP_PCT", 0.4),
		SeedCatalog:  getEnv("SEED_CATALOG", "catalog.yaml"),

		FeeRateBps:       getEnvFloat("FEE_RATE_BPS", 10),
		SlippageBps:      getEnvFloat("SLIPPAGE_BPS", 2),
		PartialFillPct:   getEnvFloat("PARTIAL_FILL_PCT", 25),
		OrderTTL:         getEnvDuration("ORDER_TTL", 24*time.Hour),
		InitialBalance:   getEnvFloat("INITIAL_BALANCE", 10000.0),
		ExpirySweepEvery: getEnvDuration("EXPIRY_SWEEP_EVERY", time.Minute),

		MixerFeePct:     getEnvFloat("MIXER_FEE_PCT", 1.5),
		MixerMinAmount:  getEnvFloat("MIXER_MIN_AMOUNT", 0.01),
		MixerMaxAmount:  getEnvFloat("MIXER_MAX_AMOUNT", 100),
		MixerDelayMin:   getEnvDuration("MIXER_DELAY_MIN", 10*time.Minute),
		MixerDelayMax:   getEnvDuration("MIXER_DELAY_MAX", 2*time.Hour),
		MixerTickEvery:  getEnvDuration("MIXER_TICK_EVERY", 15*time.Second),
		MixerOutputsMax: getEnvInt("MIXER_OUTPUTS_MAX", 5),

		AccrualInterval: getEnvDuration("ACCRUAL_INTERVAL", time.Minute),

		BotCooldown: getEnvDuration("BOT_COOLDOWN", time.Minute),

		WalletSessionTTL: getEnvDuration("WALLET_SESSION_TTL", 24*time.Hour),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
