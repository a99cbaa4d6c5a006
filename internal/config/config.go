// Package config loads the daemon configuration: defaults, then
// environment overrides. Validation is deferred so callers can apply flag
// overrides first.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Config holds every knob the daemon reads at startup.
type Config struct {
	Env        string // "dev" enables console logging
	ListenAddr string // control API address
	DBPath     string // SQLite database file

	RemoteBaseURL string // sync service base URL
	RemoteToken   string // bearer credential

	UpstreamURL string // asset origin for the cache router; empty disables it
	CacheAddr   string // cache router listen address

	SyncInterval     time.Duration
	ProbeInterval    time.Duration
	QueueRetention   time.Duration // completed-entry retention
	MaintenanceEvery time.Duration // purge cadence
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Env:              "dev",
		ListenAddr:       ":8084",
		DBPath:           ".daykeep/daykeep.db",
		CacheAddr:        ":8085",
		SyncInterval:     5 * time.Minute,
		ProbeInterval:    30 * time.Second,
		QueueRetention:   30 * 24 * time.Hour,
		MaintenanceEvery: 24 * time.Hour,
	}
}

// Load builds the configuration from defaults plus environment overrides.
func Load() *Config {
	cfg := Default()
	applyEnvironmentOverrides(cfg)
	return cfg
}

func applyEnvironmentOverrides(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(dst *time.Duration, key string) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			}
		}
	}

	setString(&cfg.Env, "DAYKEEP_ENV")
	setString(&cfg.ListenAddr, "DAYKEEP_LISTEN_ADDR")
	setString(&cfg.DBPath, "DAYKEEP_DB_PATH")
	setString(&cfg.RemoteBaseURL, "DAYKEEP_REMOTE_URL")
	setString(&cfg.RemoteToken, "DAYKEEP_REMOTE_TOKEN")
	setString(&cfg.UpstreamURL, "DAYKEEP_UPSTREAM_URL")
	setString(&cfg.CacheAddr, "DAYKEEP_CACHE_ADDR")
	setDuration(&cfg.SyncInterval, "DAYKEEP_SYNC_INTERVAL")
	setDuration(&cfg.ProbeInterval, "DAYKEEP_PROBE_INTERVAL")
	setDuration(&cfg.QueueRetention, "DAYKEEP_QUEUE_RETENTION")
	setDuration(&cfg.MaintenanceEvery, "DAYKEEP_MAINTENANCE_EVERY")
}

// Validate checks the knobs that have no workable default.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("DBPath is required"))
	}
	if c.RemoteBaseURL == "" {
		errs = append(errs, errors.New("RemoteBaseURL is required (DAYKEEP_REMOTE_URL)"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
