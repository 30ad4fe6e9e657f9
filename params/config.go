package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Replay struct {
	Output string
	// ValidateClear makes a run fail when the first data row is not a book clear.
	ValidateClear bool
}

type Log struct {
	Level string
	File  string
}

type Sinks struct {
	StoreDir     string   // pebble archive, disabled when empty
	KafkaBrokers []string // publisher, disabled when empty
	KafkaTopic   string
}

type API struct {
	// Addr enables the inspector. The process then serves until interrupted.
	Addr string
}

type Config struct {
	Replay Replay
	Log    Log
	Sinks  Sinks
	API    API
}

func Default() Config {
	return Config{
		Replay: Replay{Output: "mbp.csv"},
		Log:    Log{Level: "info"},
		Sinks:  Sinks{KafkaTopic: "mbp10"},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Replay.Output = getEnv("MBP_OUTPUT", cfg.Replay.Output)
	if v := os.Getenv("MBP_VALIDATE_CLEAR"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Replay.ValidateClear = b
		}
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	cfg.Sinks.StoreDir = getEnv("MBP_STORE_DIR", cfg.Sinks.StoreDir)
	cfg.Sinks.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Sinks.KafkaTopic)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Sinks.KafkaBrokers = append(cfg.Sinks.KafkaBrokers, b)
			}
		}
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
