package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	ProviderURL     string `mapstructure:"PROVIDER_URL"`
	ProviderKey     string `mapstructure:"PROVIDER_KEY"`
	ProviderJWKSURL string `mapstructure:"PROVIDER_JWKS_URL"`
	ProviderWSURL   string `mapstructure:"PROVIDER_WS_URL"`
	// ProviderSigningKey enables HS256 token verification for
	// development; production verifies against the JWKS endpoint.
	ProviderSigningKey string `mapstructure:"PROVIDER_SIGNING_KEY"`

	SessionCookie      string   `mapstructure:"SESSION_COOKIE"`
	SessionIdleHours   int      `mapstructure:"SESSION_IDLE_HOURS"`
	OTPTTLMinutes      int      `mapstructure:"OTP_TTL_MIN"`
	ResendCooldownSecs int      `mapstructure:"RESEND_COOLDOWN_SEC"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int      `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8100")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SESSION_COOKIE", "cb_session")
	v.SetDefault("SESSION_IDLE_HOURS", 12)
	v.SetDefault("OTP_TTL_MIN", 10)
	v.SetDefault("RESEND_COOLDOWN_SEC", 60)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("PROVIDER_URL")
	v.BindEnv("PROVIDER_KEY")
	v.BindEnv("PROVIDER_JWKS_URL")
	v.BindEnv("PROVIDER_WS_URL")
	v.BindEnv("PROVIDER_SIGNING_KEY")
	v.BindEnv("SESSION_COOKIE")
	v.BindEnv("SESSION_IDLE_HOURS")
	v.BindEnv("OTP_TTL_MIN")
	v.BindEnv("RESEND_COOLDOWN_SEC")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ProviderURL == "" {
		return nil, fmt.Errorf("PROVIDER_URL is required")
	}

	return cfg, cfg.Validate()
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the gateway is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Production
// requires a way to verify provider-issued tokens.
func (c *Config) Validate() error {
	if c.IsProduction() && c.ProviderJWKSURL == "" && c.ProviderSigningKey == "" {
		return fmt.Errorf("PROVIDER_JWKS_URL or PROVIDER_SIGNING_KEY is required in production")
	}
	if c.OTPTTLMinutes <= 0 {
		return fmt.Errorf("OTP_TTL_MIN must be positive, got %d", c.OTPTTLMinutes)
	}
	if c.ResendCooldownSecs < 0 {
		return fmt.Errorf("RESEND_COOLDOWN_SEC must not be negative, got %d", c.ResendCooldownSecs)
	}
	return nil
}

// OTPTTL returns the one-time-code lifetime.
func (c *Config) OTPTTL() time.Duration {
	return time.Duration(c.OTPTTLMinutes) * time.Minute
}

// ResendCooldown returns the minimum interval between code resends for
// one destination.
func (c *Config) ResendCooldown() time.Duration {
	return time.Duration(c.ResendCooldownSecs) * time.Second
}

// SessionIdleTTL returns how long an idle browser session is kept.
func (c *Config) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleHours) * time.Hour
}
