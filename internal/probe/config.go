package probe

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/bmsclient/pkg/bmsclient"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

type Config struct {
	BackendRoute   string        // Required: backend route, may carry ?subzone=
	BackendGUID    string        // Optional: sent as X-BMS-App-GUID
	DefaultTimeout time.Duration // Request timeout (default: 20s)

	Method string // HTTP method (default: GET)
	Path   string // Path relative to the backend route (default: /)
	Repeat int    // Number of requests to send (default: 1)

	Realm      string // Realm to answer challenges for
	Token      string // Static bearer token answer
	TOTPSecret string // Base32 TOTP secret; takes precedence over Token
	TOTPScheme string // Authorization scheme for TOTP codes (default: OTP)

	CredentialStore      string        // memory, sqlite, redis (default: memory)
	DatabaseFile         string        // SQLite file for the sqlite store (default: bmsprobe.db)
	RedisURL             string        // Redis URL for the redis store
	RedisPrefix          string        // Redis key prefix
	HousekeepingInterval time.Duration // Expired credential cleanup interval (default: 10m)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: text)
}

func LoadConfig() Config {
	return Config{
		BackendRoute:   os.Getenv("BMS_BACKEND_ROUTE"),
		BackendGUID:    os.Getenv("BMS_BACKEND_GUID"),
		DefaultTimeout: getEnvDurationOrDefault("BMS_DEFAULT_TIMEOUT", bmsclient.DefaultTimeout),

		Method: strings.ToUpper(getEnvOrDefault("BMS_METHOD", "GET")),
		Path:   getEnvOrDefault("BMS_PATH", "/"),
		Repeat: getEnvIntOrDefault("BMS_REPEAT", 1),

		Realm:      os.Getenv("BMS_REALM"),
		Token:      os.Getenv("BMS_TOKEN"),
		TOTPSecret: os.Getenv("BMS_TOTP_SECRET"),
		TOTPScheme: os.Getenv("BMS_TOTP_SCHEME"),

		CredentialStore:      getEnvOrDefault("CREDENTIAL_STORE", StoreMemory),
		DatabaseFile:         getEnvOrDefault("DATABASE_FILE", "bmsprobe.db"),
		RedisURL:             getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix:          os.Getenv("REDIS_PREFIX"),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 10*time.Minute),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

// Validate reports the first configuration problem.
func (c Config) Validate() error {
	if c.BackendRoute == "" {
		return errors.New("BMS_BACKEND_ROUTE is required")
	}
	if _, err := bmsclient.ResolveRoute(c.BackendRoute, nil); err != nil {
		return err
	}
	if c.Repeat < 1 {
		return fmt.Errorf("BMS_REPEAT must be at least 1, got %d", c.Repeat)
	}
	switch c.CredentialStore {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown CREDENTIAL_STORE %q", c.CredentialStore)
	}
	if (c.Token != "" || c.TOTPSecret != "") && c.Realm == "" {
		return errors.New("BMS_REALM is required when BMS_TOKEN or BMS_TOTP_SECRET is set")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are milliseconds, matching SetDefaultTimeout callers.
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	return defaultValue
}
