package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the order gateway.
type Config struct {
	Port string

	// Terminal bridge
	BridgeURL       string
	BridgeAuthToken string

	// Readiness polling
	ReadyMaxWait time.Duration
	PollInterval time.Duration

	// Order defaults
	DefaultRoute string
	DefaultTIF   string

	// Venue route policy table (optional)
	VenuePolicyPath string

	// Position query bound
	PositionQueryTimeout time.Duration

	// Idempotency store; empty disables idempotent submits
	IdempotencyDBPath string

	// Auth; empty disables JWT validation
	JWTSecret string

	// Process supervision hooks (optional, space-separated argv)
	TerminalCheckCmd  []string
	TerminalLaunchCmd []string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the gateway still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		BridgeURL:            getEnv("TERMINAL_BRIDGE_URL", "ws://127.0.0.1:17700/ws"),
		BridgeAuthToken:      os.Getenv("TERMINAL_BRIDGE_TOKEN"),
		ReadyMaxWait:         getEnvSeconds("TERMINAL_READY_MAX_WAIT", 60),
		PollInterval:         getEnvSeconds("TERMINAL_POLL_INTERVAL", 2),
		DefaultRoute:         getEnv("DEFAULT_ROUTE", "DEFAULT"),
		DefaultTIF:           getEnv("DEFAULT_TIF", "D"),
		VenuePolicyPath:      os.Getenv("VENUE_POLICY_PATH"),
		PositionQueryTimeout: getEnvSeconds("POSITION_QUERY_TIMEOUT", 5),
		IdempotencyDBPath:    getEnv("IDEMPOTENCY_DB_PATH", "./data/gateway.db"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		TerminalCheckCmd:     splitArgv(os.Getenv("TERMINAL_CHECK_CMD")),
		TerminalLaunchCmd:    splitArgv(os.Getenv("TERMINAL_LAUNCH_CMD")),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvSeconds(key string, def int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return time.Duration(i) * time.Second
		}
	}
	return time.Duration(def) * time.Second
}

func splitArgv(val string) []string {
	fields := strings.Fields(val)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
