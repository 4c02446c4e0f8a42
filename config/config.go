package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	GinMode        string
	LogLevel       string
	AllowedOrigins []string
	RequestTimeout time.Duration

	StoreDriver   string // mongo, sqlite or postgres
	MongoURI      string
	MongoDatabase string
	SQLDSN        string

	JWTSecret      string
	TokenTTL       time.Duration
	CookieName     string
	CookieSecure   bool
	AdminIDs       []string
	RootSetupToken string

	PinTTL   time.Duration
	PinPrice int64 // rupees per PIN

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RateLimit     uint
	RateWindow    time.Duration

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	TelegramToken       string
	TelegramAdminChatID int64
}

func (c *Config) Release() bool {
	return c.GinMode == "release"
}

var defaults = map[string]interface{}{
	"PORT":                   "8080",
	"GIN_MODE":               "debug",
	"LOG_LEVEL":              "info",
	"CORS_ALLOWED_ORIGINS":   "http://localhost:3000,http://127.0.0.1:3000",
	"REQUEST_TIMEOUT":        "10s",
	"STORE_DRIVER":           "mongo",
	"MONGODB_URI":            "",
	"MONGODB_DATABASE":       "sknet",
	"SQL_DSN":                "sknet.db",
	"JWT_SECRET":             "",
	"TOKEN_TTL":              "720h",
	"COOKIE_NAME":            "skn_token",
	"ADMIN_IDS":              "",
	"ROOT_SETUP_TOKEN":       "",
	"PIN_TTL":                "720h",
	"PIN_PRICE":              1000,
	"REDIS_ADDR":             "",
	"REDIS_PASSWORD":         "",
	"REDIS_DB":               0,
	"RATE_LIMIT":             60,
	"RATE_WINDOW":            "1m",
	"VAPID_PUBLIC_KEY":       "",
	"VAPID_PRIVATE_KEY":      "",
	"VAPID_SUBSCRIBER":       "admin@example.com",
	"TELEGRAM_TOKEN":         "",
	"TELEGRAM_ADMIN_CHAT_ID": 0,
}

// Load reads .env (if present), then an optional config file, then the
// environment. Environment variables win.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	v.AutomaticEnv()

	cfg := &Config{
		Port:           v.GetString("PORT"),
		GinMode:        v.GetString("GIN_MODE"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),

		StoreDriver:   strings.ToLower(v.GetString("STORE_DRIVER")),
		MongoURI:      v.GetString("MONGODB_URI"),
		MongoDatabase: v.GetString("MONGODB_DATABASE"),
		SQLDSN:        v.GetString("SQL_DSN"),

		JWTSecret:      v.GetString("JWT_SECRET"),
		TokenTTL:       v.GetDuration("TOKEN_TTL"),
		CookieName:     v.GetString("COOKIE_NAME"),
		AdminIDs:       splitList(v.GetString("ADMIN_IDS")),
		RootSetupToken: v.GetString("ROOT_SETUP_TOKEN"),

		PinTTL:   v.GetDuration("PIN_TTL"),
		PinPrice: v.GetInt64("PIN_PRICE"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		RateLimit:     v.GetUint("RATE_LIMIT"),
		RateWindow:    v.GetDuration("RATE_WINDOW"),

		VAPIDPublicKey:  v.GetString("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: v.GetString("VAPID_PRIVATE_KEY"),
		VAPIDSubscriber: v.GetString("VAPID_SUBSCRIBER"),

		TelegramToken:       v.GetString("TELEGRAM_TOKEN"),
		TelegramAdminChatID: v.GetInt64("TELEGRAM_ADMIN_CHAT_ID"),
	}
	cfg.CookieSecure = cfg.Release()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "mongo", "sqlite", "postgres":
	default:
		return fmt.Errorf("STORE_DRIVER must be mongo, sqlite or postgres, got %q", c.StoreDriver)
	}
	if c.PinPrice <= 0 {
		return fmt.Errorf("PIN_PRICE must be positive")
	}
	if c.PinTTL <= 0 || c.TokenTTL <= 0 {
		return fmt.Errorf("PIN_TTL and TOKEN_TTL must be positive")
	}
	return nil
}

// RequireSecret is checked by commands that sign tokens.
func (c *Config) RequireSecret() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
