// Package config loads runtime configuration: environment variables for
// deployment-level settings, plus an optional YAML practice profile for
// jurisdiction-specific defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server and pipeline configuration.
type Config struct {
	Port        string
	LogLevel    string
	LogFormat   string
	DatabaseURL string
	LedgerPath  string
	RulesetPath string

	// Plan authority settings. Empty AuthorityURL selects the in-process
	// signing authority.
	AuthorityURL     string
	AuthorityAPIKey  string
	AuthorityTimeout time.Duration

	// ProfileDir and Jurisdiction select an optional practice profile,
	// profile_<code>.yaml under ProfileDir. An empty Jurisdiction skips
	// profile loading.
	ProfileDir   string
	Jurisdiction string

	// OTLPEndpoint enables trace and metric export when set.
	OTLPEndpoint string
}

// Load reads configuration from environment variables with development
// defaults.
func Load() *Config {
	return &Config{
		Port:             getenv("WARDEN_PORT", "8080"),
		LogLevel:         getenv("WARDEN_LOG_LEVEL", "info"),
		LogFormat:        getenv("WARDEN_LOG_FORMAT", "json"),
		DatabaseURL:      os.Getenv("WARDEN_DATABASE_URL"),
		LedgerPath:       getenv("WARDEN_LEDGER_PATH", "warden_audit.jsonl"),
		RulesetPath:      getenv("WARDEN_RULESET_PATH", "ruleset.json"),
		AuthorityURL:     os.Getenv("WARDEN_AUTHORITY_URL"),
		AuthorityAPIKey:  os.Getenv("WARDEN_AUTHORITY_API_KEY"),
		AuthorityTimeout: getenvDuration("WARDEN_AUTHORITY_TIMEOUT", 5*time.Second),
		ProfileDir:       getenv("WARDEN_PROFILE_DIR", "configs"),
		Jurisdiction:     os.Getenv("WARDEN_JURISDICTION"),
		OTLPEndpoint:     os.Getenv("WARDEN_OTLP_ENDPOINT"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
