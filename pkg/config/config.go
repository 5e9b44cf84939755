// Package config resolves runtime parameters from the environment.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"spotbot-core/internal/model"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	Port       string
	ExchangeID string
	APIKey     string
	APISecret  string
	IsSandbox  bool
	Env        string

	DBPath         string
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads environment variables (optionally via .env) into Config,
// applying the credential precedence rule from spec.md §6: exchange
// specific sandbox credentials override exchange-specific production
// credentials, which override generic credentials. Missing credentials
// are not a load-time error; the engine surfaces ERROR later if it
// needs them and they are absent.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	exchangeID := strings.ToLower(getEnv("EXCHANGE", "binance"))
	venue := strings.ToUpper(exchangeID)

	apiKey, apiSecret, sandbox := resolveCredentials(venue)
	if getEnv("IS_TESTNET", "false") == "true" {
		sandbox = true
	}

	return &Config{
		Port:           getEnv("PORT", "3001"),
		ExchangeID:     exchangeID,
		APIKey:         apiKey,
		APISecret:      apiSecret,
		IsSandbox:      sandbox,
		Env:            getEnv("GO_ENV", "production"),
		DBPath:         getEnv("DB_PATH", "data/spotbot.db"),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret"),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: int(getEnvFloat("RATE_LIMIT_BURST", 50)),
	}, nil
}

// resolveCredentials applies the precedence rule for one venue, returning
// sandbox=true when the pair that resolved came from the testnet keys.
func resolveCredentials(venue string) (key, secret string, sandbox bool) {
	if k, s := os.Getenv(venue+"_TESTNET_API_KEY"), os.Getenv(venue+"_TESTNET_SECRET_KEY"); k != "" || s != "" {
		return k, s, true
	}
	if k, s := os.Getenv(venue+"_API_KEY"), os.Getenv(venue+"_API_SECRET"); k != "" || s != "" {
		return k, s, false
	}
	return os.Getenv("API_KEY"), os.Getenv("SECRET_KEY"), false
}

// Credentials adapts the resolved config into the shape pkg/exchange consumes.
func (c *Config) Credentials() model.GatewayCredentials {
	return model.GatewayCredentials{
		ExchangeID: c.ExchangeID,
		APIKey:     c.APIKey,
		APISecret:  c.APISecret,
		Sandbox:    c.IsSandbox,
	}
}

// Redacted returns a copy with secrets masked to their first 4 characters.
func (c *Config) Redacted() Config {
	cp := *c
	cp.APIKey = redact(c.APIKey)
	cp.APISecret = redact(c.APISecret)
	cp.JWTSecret = redact(c.JWTSecret)
	return cp
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return s + "***"
	}
	return s[:4] + "***"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
