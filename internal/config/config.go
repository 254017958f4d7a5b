// ABOUTME: Configuration loading and parsing for the talkto server
// ABOUTME: YAML files with ${VAR} expansion, TALKTO_* env overrides, defaults

package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Network modes for the listener.
const (
	NetworkLocal     = "local"
	NetworkTailscale = "tailscale"
)

// Config represents the complete talkto server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	Agents    AgentsConfig    `yaml:"agents"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	AdvertiseHost string `yaml:"advertise_host"` // host agents are told to dial; defaults to Host
	NetworkMode   string `yaml:"network_mode"`   // local | tailscale
}

// TailscaleConfig holds tsnet configuration for network_mode: tailscale.
type TailscaleConfig struct {
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret      string `yaml:"jwt_secret"`
	AllowLocalhost *bool  `yaml:"allow_localhost"` // default true
}

// PromptsConfig points at on-disk prompt overrides.
type PromptsConfig struct {
	Dir string `yaml:"dir"`
}

// AgentsConfig holds agent liveness timing.
type AgentsConfig struct {
	GhostRefreshInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	GhostRefreshIntervalRaw string `yaml:"ghost_refresh_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration for a single-user local install.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			NetworkMode: NetworkLocal,
		},
		Database: DatabaseConfig{Path: "talkto.db"},
		Agents:   AgentsConfig{GhostRefreshInterval: 30 * time.Second},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file, layering it over the defaults.
// Environment variables in the format ${VAR_NAME} are expanded in the raw
// YAML, then TALKTO_* overrides are applied. An empty path skips the file
// and uses defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides layers TALKTO_* environment variables over the config.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("TALKTO_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("TALKTO_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing TALKTO_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("TALKTO_ADVERTISE_HOST"); v != "" {
		cfg.Server.AdvertiseHost = v
	}
	if v := os.Getenv("TALKTO_NETWORK_MODE"); v != "" {
		cfg.Server.NetworkMode = v
	}
	if v := os.Getenv("TALKTO_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TALKTO_PROMPTS_DIR"); v != "" {
		cfg.Prompts.Dir = v
	}
	return nil
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	switch c.Server.NetworkMode {
	case NetworkLocal:
	case NetworkTailscale:
		if c.Tailscale.Hostname == "" {
			return fmt.Errorf("tailscale.hostname is required when network_mode is tailscale")
		}
	default:
		return fmt.Errorf("server.network_mode %q must be %q or %q",
			c.Server.NetworkMode, NetworkLocal, NetworkTailscale)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Logging.Level != "" {
		switch c.Logging.Level {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
		}
	}

	return nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// AdvertiseAddr returns the host:port agents should dial.
func (c *Config) AdvertiseAddr() string {
	host := c.Server.AdvertiseHost
	if host == "" {
		host = c.Server.Host
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Server.Port))
}

// AllowLocalhost reports whether loopback requests bypass auth.
func (c *Config) AllowLocalhost() bool {
	if c.Auth.AllowLocalhost == nil {
		return true
	}
	return *c.Auth.AllowLocalhost
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	if cfg.Agents.GhostRefreshIntervalRaw != "" {
		d, err := time.ParseDuration(cfg.Agents.GhostRefreshIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing ghost_refresh_interval %q: %w", cfg.Agents.GhostRefreshIntervalRaw, err)
		}
		cfg.Agents.GhostRefreshInterval = d
	}
	return nil
}
