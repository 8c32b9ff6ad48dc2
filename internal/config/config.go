package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	CartTTL               time.Duration
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string
	LogDevelopment        bool
	CheckoutMaxAttempts   int
	CheckoutRetryBase     time.Duration
	LockTimeout           time.Duration
	LoginRatePerMinute    int
	LoginBurst            int
}

// Load reads the process environment, then an optional .env file in the
// working directory. Real environment variables win over .env entries.
func Load() Config {
	return LoadFrom(".env")
}

func LoadFrom(envFile string) Config {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()
	// A missing .env is normal outside development.
	_ = v.ReadInConfig()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CART_TTL_MINUTES", 720)
	v.SetDefault("AUTH_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEVELOPMENT", false)
	v.SetDefault("CHECKOUT_MAX_ATTEMPTS", 4)
	v.SetDefault("CHECKOUT_RETRY_BASE_MS", 25)
	v.SetDefault("LOCK_TIMEOUT_MS", 3000)
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 10)
	v.SetDefault("LOGIN_BURST", 5)

	return Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		CartTTL:               time.Duration(atLeast(v.GetInt("CART_TTL_MINUTES"), 1)) * time.Minute,
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: atLeast(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 1),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogDevelopment:        v.GetBool("LOG_DEVELOPMENT"),
		CheckoutMaxAttempts:   atLeast(v.GetInt("CHECKOUT_MAX_ATTEMPTS"), 1),
		CheckoutRetryBase:     time.Duration(atLeast(v.GetInt("CHECKOUT_RETRY_BASE_MS"), 0)) * time.Millisecond,
		LockTimeout:           time.Duration(atLeast(v.GetInt("LOCK_TIMEOUT_MS"), 1)) * time.Millisecond,
		LoginRatePerMinute:    atLeast(v.GetInt("LOGIN_RATE_PER_MINUTE"), 1),
		LoginBurst:            atLeast(v.GetInt("LOGIN_BURST"), 1),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func atLeast(value int, floor int) int {
	if value < floor {
		return floor
	}
	return value
}
