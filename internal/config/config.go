package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface of the service. Domain settings
// keep the environment names the terminal deployments already use (ZK_IP,
// ALLOWED_HOURS, ...); service-level settings carry the SENTRYGATE_ prefix.
type Config struct {
	HTTPAddr   string
	NATSURL    string
	LogLevel   string
	PolicyFile string

	DeviceHost    string
	DevicePort    int
	DeviceTimeout time.Duration

	Whitelist    []string
	Blacklist    []string
	AllowedHours string

	AdminCount    int
	CheckInterval time.Duration
	StreamDelay   time.Duration

	MaxFindings int
	DedupeCap   int
}

// FromEnv loads configuration from environment variables with defaults.
func FromEnv() *Config {
	return &Config{
		HTTPAddr:   getEnv("SENTRYGATE_HTTP_ADDR", ":8080"),
		NATSURL:    getEnv("SENTRYGATE_NATS_URL", ""),
		LogLevel:   getEnv("SENTRYGATE_LOG_LEVEL", "INFO"),
		PolicyFile: getEnv("SENTRYGATE_POLICY_FILE", ""),

		DeviceHost:    getEnv("ZK_IP", ""),
		DevicePort:    getEnvInt("ZK_PORT", 4370),
		DeviceTimeout: getEnvDuration("ZK_TIMEOUT_SEC", 165*time.Second),

		Whitelist:    SplitList(getEnv("WHITELIST", "")),
		Blacklist:    SplitList(getEnv("BLACKLIST", "")),
		AllowedHours: getEnv("ALLOWED_HOURS", "8,18"),

		AdminCount:    getEnvInt("ADMIN_COUNT", 2),
		CheckInterval: getEnvDuration("CHECK_INTERVAL", 10*time.Second),
		StreamDelay:   getEnvDuration("STREAM_DELAY", 0),

		MaxFindings: getEnvInt("SENTRYGATE_MAX_FINDINGS", 1000),
		DedupeCap:   getEnvInt("SENTRYGATE_DEDUPE_CAP", 10000),
	}
}

// policyFile is the yaml overlay shape. Only set fields override the
// environment values.
type policyFile struct {
	Whitelist    []string `yaml:"whitelist"`
	Blacklist    []string `yaml:"blacklist"`
	AllowedHours string   `yaml:"allowed_hours"`
	AdminCount   *int     `yaml:"admin_count"`
}

// LoadPolicyFile overlays list/hours settings from the configured yaml file,
// if any.
func (c *Config) LoadPolicyFile() error {
	if c.PolicyFile == "" {
		return nil
	}

	data, err := os.ReadFile(c.PolicyFile)
	if err != nil {
		return fmt.Errorf("reading policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parsing policy file %s: %w", c.PolicyFile, err)
	}

	if pf.Whitelist != nil {
		c.Whitelist = pf.Whitelist
	}
	if pf.Blacklist != nil {
		c.Blacklist = pf.Blacklist
	}
	if pf.AllowedHours != "" {
		c.AllowedHours = pf.AllowedHours
	}
	if pf.AdminCount != nil {
		c.AdminCount = *pf.AdminCount
	}

	return nil
}

// SplitList splits a comma-separated name list, trimming whitespace and
// dropping empty entries.
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SplitHours splits an allowed-hours pair like "8,18". A pair that does not
// contain exactly two bounds is a configuration error.
func SplitHours(raw string) (start, end string, err error) {
	parts := SplitList(raw)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("allowed hours %q: expected 2 bounds, got %d", raw, len(parts))
	}
	return parts[0], parts[1], nil
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as whole seconds with a
// default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}
