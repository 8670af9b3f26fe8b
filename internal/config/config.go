package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration read from the environment.
type Config struct {
	AppEnv           string
	LogLevel         string
	HTTPListenAddr   string
	PublicBasePath   string
	MetricsNamespace string

	// Persistence. Driver selects the repository backend.
	DatabaseDriver string // "postgres", "sqlite" or "memory"
	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	JWTSecret string
	TokenTTL  time.Duration

	TwilioAccountSID      string
	TwilioAuthToken       string
	TwilioVerifyServiceID string
	TwilioBaseURL         string
	TwilioTimeout         time.Duration

	RazorpayKeyID     string
	RazorpayKeySecret string
	RazorpayBaseURL   string
	RazorpayTimeout   time.Duration

	AdminPhoneNumbers []string
	OTPResendCooldown time.Duration

	Currency        string
	ReferralReward  int64
	MinDisbursement int64
}

// Load builds a Config from environment variables and validates required values.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:           getString("APP_ENV", "development"),
		LogLevel:         getString("LOG_LEVEL", "info"),
		HTTPListenAddr:   getString("HTTP_LISTEN_ADDR", ":4000"),
		PublicBasePath:   getString("PUBLIC_BASE_PATH", ""),
		MetricsNamespace: getString("METRICS_NAMESPACE", "mentora"),

		DatabaseDriver: getString("DATABASE_DRIVER", "postgres"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DatabaseSchema: getString("DATABASE_SCHEMA", ""),
		SQLitePath:     getString("SQLITE_PATH", "mentora.db"),

		RedisAddr:     getString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),
		RedisTLS:      getBool("REDIS_TLS", false),

		JWTSecret: os.Getenv("JWT_SECRET"),
		TokenTTL:  getDuration("TOKEN_TTL", 30*24*time.Hour),

		TwilioAccountSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:       os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioVerifyServiceID: os.Getenv("TWILIO_VERIFY_SERVICE_SID"),
		TwilioBaseURL:         getString("TWILIO_BASE_URL", ""),
		TwilioTimeout:         getDuration("TWILIO_TIMEOUT", 15*time.Second),

		RazorpayKeyID:     os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret: os.Getenv("RAZORPAY_KEY_SECRET"),
		RazorpayBaseURL:   getString("RAZORPAY_BASE_URL", ""),
		RazorpayTimeout:   getDuration("RAZORPAY_TIMEOUT", 15*time.Second),

		AdminPhoneNumbers: getList("ADMIN_PHONE_NUMBERS"),
		OTPResendCooldown: getDuration("OTP_RESEND_COOLDOWN", time.Minute),

		Currency:        getString("CURRENCY", "INR"),
		ReferralReward:  getInt64("REFERRAL_REWARD", 200),
		MinDisbursement: getInt64("MIN_DISBURSEMENT", 1000),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.RazorpayKeySecret == "" {
		return nil, fmt.Errorf("RAZORPAY_KEY_SECRET is required")
	}

	switch cfg.DatabaseDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case "sqlite", "memory":
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}

	if cfg.ReferralReward <= 0 {
		return nil, fmt.Errorf("REFERRAL_REWARD must be positive")
	}
	if cfg.MinDisbursement <= 0 {
		return nil, fmt.Errorf("MIN_DISBURSEMENT must be positive")
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getInt64(key string, fallback int64) int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
