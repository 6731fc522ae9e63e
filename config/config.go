// config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	PayHero  PayHeroConfig
	WhatsApp WhatsAppConfig
	Bot      BotConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port string
	Env  string
	// inbound webhook rate limit per client; only applied when redis is enabled
	RateLimit     int
	RateWindow    time.Duration
	RateBlock     time.Duration
	ShutdownGrace time.Duration
	// WebhookSecret is shared with the chat gateway, which signs every inbound webhook.
	WebhookSecret  string
	WebhookMaxSkew time.Duration
}

type DatabaseConfig struct {
	Driver   string // "file" or "postgres"
	FilePath string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Enabled is false when REDIS_ADDR is empty; sessions then live in memory.
	Enabled bool
}

type PayHeroConfig struct {
	PaymentsURL  string
	StatusURL    string
	AuthToken    string
	ChannelID    int
	Provider     string
	CustomerName string
	CallbackURL  string
	Timeout      time.Duration
	// CallbackSecret derives the per-deposit token appended to CallbackURL.
	CallbackSecret string
}

type WhatsAppConfig struct {
	Driver  string // "gateway" or "log"
	URL     string
	Token   string
	Sender  string
	Timeout time.Duration
}

type BotConfig struct {
	SuperAdmin          string
	Admins              []string
	AlertRecipient      string
	MinDeposit          decimal.Decimal
	MaxDeposit          decimal.Decimal
	WelcomeMessage      string
	PhonePattern        *regexp.Regexp
	PhonePromptDelay    time.Duration
	StatusCheckDelay    time.Duration
	StatusCheckAttempts uint
	StatusCheckInterval time.Duration
	ReconcileSchedule   string
	SessionTTL          time.Duration
	TimeZone            *time.Location
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

const defaultWelcome = "👋 Welcome to FY'S DEPOSIT BOT! Please enter the amount you wish to deposit (min 1, max 10,000)."

// Load reads configuration from the environment (and .env when present).
func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, relying on system env vars")
	}

	superAdmin := digitsOnly(getEnv("SUPER_ADMIN", "254701339573"))

	cfg := &Config{
		Server: ServerConfig{
			Port:          getEnv("SERVER_PORT", "3000"),
			Env:           getEnv("ENVIRONMENT", "development"),
			RateLimit:     getEnvInt("WEBHOOK_RATE_LIMIT", 60),
			RateWindow:    getEnvDuration("WEBHOOK_RATE_WINDOW", time.Minute),
			RateBlock:     getEnvDuration("WEBHOOK_RATE_BLOCK", 5*time.Minute),
			ShutdownGrace: getEnvDuration("SHUTDOWN_GRACE", 30*time.Second),

			WebhookSecret:  getEnv("WEBHOOK_SECRET", ""),
			WebhookMaxSkew: getEnvDuration("WEBHOOK_MAX_SKEW", 5*time.Minute),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("STORE_DRIVER", "file")),
			FilePath: getEnv("STORE_FILE", "deposits.json"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "deposit_bot"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASS", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		PayHero: PayHeroConfig{
			PaymentsURL:  getEnv("PAYHERO_PAYMENTS_URL", "https://backend.payhero.co.ke/api/v2/payments"),
			StatusURL:    getEnv("PAYHERO_STATUS_URL", "https://backend.payhero.co.ke/api/v2/transaction-status"),
			AuthToken:    getEnv("PAYHERO_AUTH", ""),
			ChannelID:    getEnvInt("PAYHERO_CHANNEL_ID", 529),
			Provider:     getEnv("PAYHERO_PROVIDER", "m-pesa"),
			CustomerName: getEnv("PAYHERO_CUSTOMER_NAME", "Deposit Request"),
			CallbackURL:  getEnv("PAYHERO_CALLBACK_URL", "http://localhost:3000/api/v1/callbacks/payhero"),
			Timeout:      getEnvDuration("PAYHERO_TIMEOUT", 30*time.Second),

			CallbackSecret: getEnv("PAYHERO_CALLBACK_SECRET", ""),
		},
		WhatsApp: WhatsAppConfig{
			Driver:  strings.ToLower(getEnv("CHAT_DRIVER", "gateway")),
			URL:     getEnv("WA_URL", "https://www.whatsupsender.co.ke/api/qr/rest/send_message"),
			Token:   getEnv("WA_KEY", ""),
			Sender:  getEnv("WA_SENDER", ""),
			Timeout: getEnvDuration("WHATSAPP_TIMEOUT", 10*time.Second),
		},
		Bot: BotConfig{
			SuperAdmin:          superAdmin,
			AlertRecipient:      getEnv("ALERT_RECIPIENT", superAdmin+"@c.us"),
			WelcomeMessage:      getEnv("WELCOME_MESSAGE", defaultWelcome),
			PhonePromptDelay:    getEnvDuration("PHONE_PROMPT_DELAY", 3*time.Second),
			StatusCheckDelay:    getEnvDuration("STATUS_CHECK_DELAY", 20*time.Second),
			StatusCheckInterval: getEnvDuration("STATUS_CHECK_INTERVAL", 20*time.Second),
			ReconcileSchedule:   getEnv("RECONCILE_SCHEDULE", "@every 5m"),
			SessionTTL:          getEnvDuration("SESSION_TTL", 0),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
			Issuer:    getEnv("ADMIN_JWT_ISSUER", "fys-deposit-bot"),
		},
	}
	cfg.Redis.Enabled = cfg.Redis.Addr != ""

	attempts := getEnvInt("STATUS_CHECK_ATTEMPTS", 1)
	if attempts < 1 {
		return nil, fmt.Errorf("STATUS_CHECK_ATTEMPTS must be at least 1, got %d", attempts)
	}
	cfg.Bot.StatusCheckAttempts = uint(attempts)

	if cfg.PayHero.CallbackSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		cfg.PayHero.CallbackSecret = secret
		logger.Warn("PAYHERO_CALLBACK_SECRET not set, using a per-process secret; callbacks for deposits made before a restart will be refused and settled by polling")
	}
	if cfg.Server.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET not set, inbound chat webhooks will be refused")
	}

	var err error
	if cfg.Bot.MinDeposit, err = getEnvDecimal("DEPOSIT_MIN", "1"); err != nil {
		return nil, err
	}
	if cfg.Bot.MaxDeposit, err = getEnvDecimal("DEPOSIT_MAX", "10000"); err != nil {
		return nil, err
	}

	pattern := getEnv("PHONE_PATTERN", `^(07|01)\d{8}$`)
	if cfg.Bot.PhonePattern, err = regexp.Compile(pattern); err != nil {
		return nil, fmt.Errorf("invalid PHONE_PATTERN %q: %w", pattern, err)
	}

	tzName := getEnv("TIMEZONE", "Africa/Nairobi")
	if cfg.Bot.TimeZone, err = time.LoadLocation(tzName); err != nil {
		logger.Warn("timezone database unavailable, falling back to fixed EAT offset",
			zap.String("timezone", tzName),
			zap.Error(err))
		cfg.Bot.TimeZone = time.FixedZone("EAT", 3*60*60)
	}

	cfg.Bot.Admins = []string{superAdmin}
	for _, a := range strings.Split(getEnv("ADMINS", ""), ",") {
		if a = digitsOnly(a); a != "" && a != superAdmin {
			cfg.Bot.Admins = append(cfg.Bot.Admins, a)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("store_driver", cfg.Database.Driver),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.String("chat_driver", cfg.WhatsApp.Driver),
		zap.Int("admins", len(cfg.Bot.Admins)))

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "file":
		if c.Database.FilePath == "" {
			return fmt.Errorf("STORE_FILE is required for the file store")
		}
	case "postgres":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER: %s", c.Database.Driver)
	}

	switch c.WhatsApp.Driver {
	case "gateway", "log":
	default:
		return fmt.Errorf("unsupported CHAT_DRIVER: %s", c.WhatsApp.Driver)
	}

	if !c.Bot.MinDeposit.IsPositive() {
		return fmt.Errorf("DEPOSIT_MIN must be greater than zero")
	}
	if c.Bot.MaxDeposit.LessThan(c.Bot.MinDeposit) {
		return fmt.Errorf("DEPOSIT_MAX (%s) must not be below DEPOSIT_MIN (%s)", c.Bot.MaxDeposit, c.Bot.MinDeposit)
	}
	if c.Bot.StatusCheckAttempts == 0 {
		return fmt.Errorf("STATUS_CHECK_ATTEMPTS must be at least 1")
	}
	if c.Bot.SuperAdmin == "" {
		return fmt.Errorf("SUPER_ADMIN is required")
	}
	return nil
}

// IsAdmin compares digits only, so "254701339573@c.us" matches "254701339573".
func (b BotConfig) IsAdmin(chatID string) bool {
	id := digitsOnly(chatID)
	for _, a := range b.Admins {
		if a == id {
			return true
		}
	}
	return false
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate callback secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key, defaultValue string) (decimal.Decimal, error) {
	raw := getEnv(key, defaultValue)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
