// Package config provides environment-variable configuration loading,
// adapted from the teacher's infrastructure/config.Loader helpers with the
// Marble/TEE secret-loading path removed (this node has no enclave).
package config

import (
	"strconv"
	"strings"
	"time"

	"os"

	"github.com/joho/godotenv"
)

// GetEnv retrieves an environment variable, trimmed, or defaultValue.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvBool retrieves a boolean environment variable.
// Accepts "true", "1", "yes", "y" (case-insensitive) as true.
func GetEnvBool(key string, defaultValue bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	lower := strings.ToLower(val)
	return lower == "true" || lower == "1" || lower == "yes" || lower == "y"
}

// GetEnvInt retrieves an integer environment variable.
func GetEnvInt(key string, defaultValue int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// GetEnvFloat retrieves a floating-point environment variable.
func GetEnvFloat(key string, defaultValue float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// GetEnvDuration retrieves a duration environment variable (e.g. "30s", "1m").
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// GetEnvCSV splits a comma-separated environment variable, trimming and
// dropping empty entries.
func GetEnvCSV(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// LoadDotEnv loads a .env file if present; a missing file is not an error.
func LoadDotEnv(path string) {
	_ = godotenv.Load(path)
}

// ChainConfig carries the recognized per-chain anchoring options (§6).
type ChainConfig struct {
	Enabled    bool
	Network    string
	PrivateKey string
	RPCURL     string
}

// Config is the set of recognized configuration options from §6.
type Config struct {
	HTTPAddr string

	BatchSize        int
	AnchoringEnabled bool
	Bitcoin          ChainConfig
	Ethereum         ChainConfig

	Peers []string

	RateLimitWindow time.Duration
	RateLimitCap    int
	MinIntervalMS   int

	ScoreRefusalThreshold float64
	ScoreIncrement        float64
	ScoreDecrement        float64
	ScoreDecayPerIdleDay  float64

	DatabaseURL string
	LogLevel    string
	LogFormat   string
}

// Load reads Config from the environment, applying the defaults named
// throughout §4 and §6.
func Load() Config {
	return Config{
		HTTPAddr: GetEnv("HTTP_ADDR", ":8080"),

		BatchSize:        GetEnvInt("BATCH_SIZE", 1000),
		AnchoringEnabled: GetEnvBool("ANCHORING_ENABLED", false),
		Bitcoin: ChainConfig{
			Enabled:    GetEnvBool("BITCOIN_ENABLED", false),
			Network:    GetEnv("BITCOIN_NETWORK", "testnet"),
			PrivateKey: GetEnv("BITCOIN_PRIVATE_KEY", ""),
			RPCURL:     GetEnv("BITCOIN_RPC_URL", ""),
		},
		Ethereum: ChainConfig{
			Enabled:    GetEnvBool("ETHEREUM_ENABLED", false),
			Network:    GetEnv("ETHEREUM_NETWORK", "sepolia"),
			PrivateKey: GetEnv("ETHEREUM_PRIVATE_KEY", ""),
			RPCURL:     GetEnv("ETHEREUM_RPC_URL", ""),
		},

		Peers: GetEnvCSV("PEERS"),

		RateLimitWindow: GetEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		RateLimitCap:    GetEnvInt("RATE_LIMIT_CAP", 60),
		MinIntervalMS:   GetEnvInt("MIN_INTERVAL_MS", 50),

		ScoreRefusalThreshold: GetEnvFloat("SCORE_REFUSAL_THRESHOLD", 10),
		ScoreIncrement:        GetEnvFloat("SCORE_INCREMENT", 1),
		ScoreDecrement:        GetEnvFloat("SCORE_DECREMENT", 5),
		ScoreDecayPerIdleDay:  GetEnvFloat("SCORE_DECAY_PER_IDLE_DAY", 2),

		DatabaseURL: GetEnv("DATABASE_URL", ""),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		LogFormat:   GetEnv("LOG_FORMAT", "json"),
	}
}
