package util

import (
	"os"
	"strconv"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"
	"github.com/joho/godotenv"
)

// LoadEnv reads .env from the working directory when present. Variables
// already set in the environment win.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using system environment variables")
	}
}

// GetEnv returns the variable or "" when unset.
func GetEnv(key string) string {
	return os.Getenv(key)
}

func GetEnvString(key string, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

// envValue parses key with parse. Unset variables yield def silently;
// malformed ones yield def with a warning.
func envValue[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		logger.Warn("Ignoring malformed environment variable", "key", key, "value", raw)
		return def
	}
	return v
}

func GetEnvNumeric(key string, defaultValue int) float64 {
	return GetEnvFloat(key, float64(defaultValue))
}

func GetEnvFloat(key string, defaultValue float64) float64 {
	return envValue(key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

func GetEnvInt(key string, defaultValue int) int {
	return envValue(key, defaultValue, strconv.Atoi)
}

// GetEnvDuration accepts Go duration strings ("90s", "5m").
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return envValue(key, defaultValue, time.ParseDuration)
}

func GetEnvBool(key string, defaultValue bool) bool {
	return envValue(key, defaultValue, strconv.ParseBool)
}
