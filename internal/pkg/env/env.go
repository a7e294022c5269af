package env

import (
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"
)

var Env map[string]string

func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok {
		return val
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// GetEnvInt parses an integer setting, returning def when unset or malformed.
func GetEnvInt(key string, def int) int {
	raw := GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warnf("[Env] Invalid integer for %s=%q, using %d", key, raw, def)
		return def
	}
	return v
}

// GetEnvFloat parses a float setting, returning def when unset or malformed.
func GetEnvFloat(key string, def float64) float64 {
	raw := GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Warnf("[Env] Invalid number for %s=%q, using %v", key, raw, def)
		return def
	}
	return v
}

// GetEnvSeconds reads a whole number of seconds as a duration.
func GetEnvSeconds(key string, def time.Duration) time.Duration {
	raw := GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		log.Warnf("[Env] Invalid seconds for %s=%q, using %s", key, raw, def)
		return def
	}
	return time.Duration(v) * time.Second
}

// SetupEnvFile loads the first .env file found. Containers usually pass plain
// environment variables, so a missing file only logs.
func SetupEnvFile() bool {
	// Look for .env file in project root
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/genfox to project root
		"../../../.env", // Fallback for deeper nesting
	}

	var err error
	for _, envFile := range envFiles {
		Env, err = godotenv.Read(envFile)
		if err == nil {
			return true
		}
	}

	Env = map[string]string{}
	log.Warn("[Env] No .env file found, using process environment only")
	return false
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
