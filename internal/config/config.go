// Package config handles configuration loading and validation.
//
// Values are layered, highest precedence first: command-line flags and
// process environment (via Kong), a dotenv file, a TOML file, then defaults.
// The resulting Config is built once at startup and never mutated afterwards.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Environment variable names understood by the relay.
const (
	EnvAPIURL = "API_URL"
	EnvAPIKey = "RETOOL_KEY"
)

// DefaultRelayPath is the route the relay handler is mounted on.
const DefaultRelayPath = "/api/proxy-chat"

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/workflow-relay/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the relay itself and cannot be reused.
var reservedRoutes = []string{"/healthz", "/relay/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string           `kong:"short='c',help='Path to TOML config file (optional).',env='CONFIG_PATH'"`
	EnvFile  string           `kong:"help='Path to a dotenv file providing API_URL and RETOOL_KEY.',env='ENV_FILE'"`
	Host     string           `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int              `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	APIURL   string           `kong:"name='api-url',help='Upstream workflow URL (overrides config).',env='API_URL'"`
	APIKey   string           `kong:"name='api-key',help='Workflow API key sent as X-Workflow-Api-Key (overrides config).',env='RETOOL_KEY'"`
	LogLevel string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Version  kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved TOML path, empty when running from env only
	envPath  string // dotenv path, empty when not used
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8000)
	BodyMaxBytes int64  `toml:"body_max_bytes"`
	RelayPath    string `toml:"relay_path"`
}

// UpstreamConfig holds the single forwarding destination and its credential.
type UpstreamConfig struct {
	URL             string `toml:"url"`
	APIKey          string `toml:"api_key"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load builds the configuration from the optional TOML file, the optional
// dotenv file and CLI/environment overrides.
//
// An explicit --config path that cannot be read is an error. Without one, the
// search paths are tried and a missing file simply means "environment only".
// A missing upstream URL or API key is not an error here: the relay still
// starts and reports the problem on each forwarded request.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	if cli.EnvFile != "" {
		env, err := godotenv.Read(cli.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("config: read env file %s: %w", cli.EnvFile, err)
		}
		cfg.envPath = cli.EnvFile
		cfg.applyEnv(env)
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyEnv overrides upstream settings with values from a dotenv file.
func (c *Config) applyEnv(env map[string]string) {
	if v := env[EnvAPIURL]; v != "" {
		c.Upstream.URL = v
	}
	if v := env[EnvAPIKey]; v != "" {
		c.Upstream.APIKey = v
	}
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.APIURL != "" {
		c.Upstream.URL = cli.APIURL
	}
	if cli.APIKey != "" {
		c.Upstream.APIKey = cli.APIKey
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if c.Upstream.APIKey == "YOUR_RETOOL_KEY_HERE" {
		return fmt.Errorf("upstream.api_key contains placeholder value; set a real key or leave it empty")
	}

	// Upstream URL is optional at startup, but must be usable when present.
	if c.Upstream.URL != "" {
		u, err := url.Parse(c.Upstream.URL)
		if err != nil {
			return fmt.Errorf("upstream.url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("upstream.url must use http or https; got %q", c.Upstream.URL)
		}
		if u.Host == "" {
			return fmt.Errorf("upstream.url has no host; got %q", c.Upstream.URL)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	relayPath := c.Server.RelayPath
	if relayPath == "" {
		relayPath = DefaultRelayPath
	}
	if relayPath[0] != '/' {
		return fmt.Errorf("server.relay_path must start with '/'; got %q", relayPath)
	}
	if conflicts(relayPath, reservedRoutes) {
		return fmt.Errorf("server.relay_path %q conflicts with a reserved route", relayPath)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range append([]string{relayPath}, reservedRoutes...) {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func conflicts(p string, routes []string) bool {
	for _, r := range routes {
		if p == r || strings.HasPrefix(p, r+"/") {
			return true
		}
	}
	return false
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish an
// explicit 0 from an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Server.RelayPath == "" {
		c.Server.RelayPath = DefaultRelayPath
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Configured reports whether both the upstream URL and API key are set.
func (u *UpstreamConfig) Configured() bool {
	return u.URL != "" && u.APIKey != ""
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning for every secret-bearing file (TOML config
// or dotenv) that is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	for _, p := range []string{c.filePath, c.envPath} {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			logger.Warn("config file is readable by group/others; consider chmod 600",
				"path", p,
				"mode", fmt.Sprintf("%04o", perm),
			)
		}
	}
}
