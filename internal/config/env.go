package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv loads configuration from environment variables
// Environment variables override default values
func LoadFromEnv(cfg *Config) {
	// Database configuration
	if dbPath := os.Getenv("APPRESENCE_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	// Tracker configuration
	if pollInterval := os.Getenv("APPRESENCE_POLL_INTERVAL"); pollInterval != "" {
		if seconds, err := strconv.Atoi(pollInterval); err == nil && seconds > 0 {
			interval := time.Duration(seconds) * time.Second
			if interval >= cfg.Tracker.MinPollInterval && interval <= cfg.Tracker.MaxPollInterval {
				cfg.Tracker.PollInterval = interval
			}
		}
	}

	if lookback := os.Getenv("APPRESENCE_LOOKBACK_MS"); lookback != "" {
		if ms, err := strconv.Atoi(lookback); err == nil && ms > 0 {
			cfg.Tracker.LookbackWindow = time.Duration(ms) * time.Millisecond
		}
	}

	if recency := os.Getenv("APPRESENCE_STATS_RECENCY_MS"); recency != "" {
		if ms, err := strconv.Atoi(recency); err == nil && ms > 0 {
			cfg.Tracker.StatsRecency = time.Duration(ms) * time.Millisecond
		}
	}

	// Transport configuration
	if throttle := os.Getenv("APPRESENCE_THROTTLE_MS"); throttle != "" {
		if ms, err := strconv.Atoi(throttle); err == nil && ms >= 0 {
			cfg.Transport.ThrottleWindow = time.Duration(ms) * time.Millisecond
		}
	}

	// Relay configuration
	if relayHost := os.Getenv("APPRESENCE_RELAY_HOST"); relayHost != "" {
		cfg.Relay.Host = relayHost
	}

	if relayPort := os.Getenv("APPRESENCE_RELAY_PORT"); relayPort != "" {
		if port, err := strconv.Atoi(relayPort); err == nil && port > 0 && port <= 65535 {
			cfg.Relay.Port = port
		}
	}

	if staleAfter := os.Getenv("APPRESENCE_STALE_AFTER"); staleAfter != "" {
		if seconds, err := strconv.Atoi(staleAfter); err == nil && seconds > 0 {
			cfg.Relay.StaleAfter = time.Duration(seconds) * time.Second
		}
	}

	// Daemon configuration
	if pidFile := os.Getenv("APPRESENCE_PID_FILE"); pidFile != "" {
		cfg.Daemon.PIDFile = pidFile
	}
}

// New creates a new Config with default values and loads from environment
func New() *Config {
	cfg := Default()
	LoadFromEnv(cfg)
	return cfg
}
