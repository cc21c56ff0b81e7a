package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Tracker configuration
	Tracker TrackerConfig

	// Transport configuration (reporter-side relay client)
	Transport TransportConfig

	// Relay configuration (desktop-side server)
	Relay RelayConfig

	// Daemon configuration
	Daemon DaemonConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Path string // Path to SQLite database file
}

// TrackerConfig holds foreground-resolution behavior configuration.
// The fallback thresholds are tunable; only their ordering is fixed.
type TrackerConfig struct {
	PollInterval    time.Duration // How often to resolve the foreground app
	MinPollInterval time.Duration // Minimum allowed poll interval
	MaxPollInterval time.Duration // Maximum allowed poll interval
	LookbackWindow  time.Duration // Event query window per tick
	StatsRecency    time.Duration // Short stats window tried before widening
	SelfPackage     string        // Reporting app's own package, always filtered
}

// TransportConfig holds relay-client behavior configuration
type TransportConfig struct {
	ThrottleWindow time.Duration // Repeat sends for the same app inside this window are skipped
	SendTimeout    time.Duration
	ClearTimeout   time.Duration
	HealthTimeout  time.Duration
}

// RelayConfig holds the desktop relay server configuration
type RelayConfig struct {
	Host          string        // Host to bind the relay API to
	Port          int           // Port for the relay API
	LoginPoll     time.Duration // Wait between retries while another login is in flight
	SweepInterval time.Duration // How often the staleness sweep runs
	StaleAfter    time.Duration // Presence older than this is cleared by the sweep
}

// DaemonConfig holds daemon process configuration
type DaemonConfig struct {
	PIDFile string // Path to PID file for daemon management
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "", // Empty means use default ~/.config/appresence/appresence.db
		},
		Tracker: TrackerConfig{
			PollInterval:    1 * time.Second,
			MinPollInterval: 1 * time.Second,
			MaxPollInterval: 60 * time.Second,
			LookbackWindow:  30 * time.Second,
			StatsRecency:    5 * time.Second,
			SelfPackage:     "appresence",
		},
		Transport: TransportConfig{
			ThrottleWindow: 2 * time.Second,
			SendTimeout:    3 * time.Second,
			ClearTimeout:   3 * time.Second,
			HealthTimeout:  5 * time.Second,
		},
		Relay: RelayConfig{
			Host:          "0.0.0.0",
			Port:          3000,
			LoginPoll:     500 * time.Millisecond,
			SweepInterval: 30 * time.Second,
			StaleAfter:    60 * time.Second,
		},
		Daemon: DaemonConfig{
			PIDFile: fmt.Sprintf("/tmp/appresence-%d.pid", os.Getuid()),
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Tracker.PollInterval < c.Tracker.MinPollInterval {
		return fmt.Errorf("poll interval (%v) cannot be less than minimum (%v)",
			c.Tracker.PollInterval, c.Tracker.MinPollInterval)
	}

	if c.Tracker.PollInterval > c.Tracker.MaxPollInterval {
		return fmt.Errorf("poll interval (%v) cannot be greater than maximum (%v)",
			c.Tracker.PollInterval, c.Tracker.MaxPollInterval)
	}

	if c.Tracker.LookbackWindow <= 0 {
		return fmt.Errorf("lookback window must be positive")
	}

	if c.Tracker.StatsRecency <= 0 || c.Tracker.StatsRecency > c.Tracker.LookbackWindow {
		return fmt.Errorf("stats recency (%v) must be positive and within the lookback window (%v)",
			c.Tracker.StatsRecency, c.Tracker.LookbackWindow)
	}

	if c.Transport.ThrottleWindow < 0 {
		return fmt.Errorf("throttle window cannot be negative")
	}

	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay port must be between 1 and 65535, got %d", c.Relay.Port)
	}

	if c.Relay.Host == "" {
		return fmt.Errorf("relay host cannot be empty")
	}

	if c.Relay.StaleAfter < c.Relay.SweepInterval {
		return fmt.Errorf("stale-after (%v) cannot be shorter than the sweep interval (%v)",
			c.Relay.StaleAfter, c.Relay.SweepInterval)
	}

	if c.Daemon.PIDFile == "" {
		return fmt.Errorf("PID file path cannot be empty")
	}

	return nil
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(`Configuration:
  Database:
    Path: %s
  Tracker:
    Poll Interval: %v
    Lookback Window: %v
    Stats Recency: %v
  Transport:
    Throttle Window: %v
    Send Timeout: %v
    Health Timeout: %v
  Relay:
    Host: %s
    Port: %d
    Sweep Interval: %v
    Stale After: %v
  Daemon:
    PID File: %s`,
		c.Database.Path,
		c.Tracker.PollInterval,
		c.Tracker.LookbackWindow,
		c.Tracker.StatsRecency,
		c.Transport.ThrottleWindow,
		c.Transport.SendTimeout,
		c.Transport.HealthTimeout,
		c.Relay.Host,
		c.Relay.Port,
		c.Relay.SweepInterval,
		c.Relay.StaleAfter,
		c.Daemon.PIDFile,
	)
}
