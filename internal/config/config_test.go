package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeFile writes data into a fresh temp dir and returns its path.
func writeFile(t *testing.T, name, data string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), perm); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeFile(t, "config.toml", `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880
relay_path = "/api/chat"

[upstream]
url = "https://api.retool.com/v1/workflows/abc/startTrigger"
api_key = "retool_wk_123"
timeout_seconds = 60
idle_connections = 50

[log]
level = "debug"
format = "text"
`, 0o600)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Server.RelayPath != "/api/chat" {
		t.Errorf("Server.RelayPath = %q, want %q", cfg.Server.RelayPath, "/api/chat")
	}
	if cfg.Upstream.URL != "https://api.retool.com/v1/workflows/abc/startTrigger" {
		t.Errorf("Upstream.URL = %q", cfg.Upstream.URL)
	}
	if cfg.Upstream.APIKey != "retool_wk_123" {
		t.Errorf("Upstream.APIKey = %q, want %q", cfg.Upstream.APIKey, "retool_wk_123")
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if !cfg.Upstream.Configured() {
		t.Error("Upstream.Configured() = false, want true")
	}
}

func TestLoad_NoFileEnvOnly(t *testing.T) {
	cfg, err := Load(&CLI{APIURL: "https://example.com/hook", APIKey: "k"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upstream.URL != "https://example.com/hook" {
		t.Errorf("Upstream.URL = %q", cfg.Upstream.URL)
	}
	if cfg.Upstream.APIKey != "k" {
		t.Errorf("Upstream.APIKey = %q, want %q", cfg.Upstream.APIKey, "k")
	}
	if cfg.filePath != "" {
		t.Errorf("filePath = %q, want empty", cfg.filePath)
	}
}

func TestLoad_UnconfiguredUpstreamAllowed(t *testing.T) {
	cfg, err := Load(&CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v; missing upstream must not fail startup", err)
	}
	if cfg.Upstream.Configured() {
		t.Error("Upstream.Configured() = true, want false")
	}
}

func TestLoad_PlaceholderAPIKey(t *testing.T) {
	path := writeFile(t, "config.toml", `
[upstream]
url = "https://example.com/hook"
api_key = "YOUR_RETOOL_KEY_HERE"
`, 0o600)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for placeholder api_key, got nil")
	}
}

func TestLoad_InvalidUpstreamURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"ftp scheme", "ftp://example.com/hook"},
		{"no scheme", "example.com/hook"},
		{"no host", "https:///hook"},
		{"unparsable", "http://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(&CLI{APIURL: tt.url})
			if err == nil {
				t.Fatalf("Load() expected error for url %q, got nil", tt.url)
			}
			if !strings.Contains(err.Error(), "upstream.url") {
				t.Errorf("error = %q, want mention of upstream.url", err)
			}
		})
	}
}

func TestLoad_HTTPUpstreamAllowed(t *testing.T) {
	cfg, err := Load(&CLI{APIURL: "http://127.0.0.1:9999/hook"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upstream.URL != "http://127.0.0.1:9999/hook" {
		t.Errorf("Upstream.URL = %q", cfg.Upstream.URL)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeFile(t, "config.toml", `
[log]
level = "verbose"
`, 0o600)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	path := writeFile(t, "config.toml", `
[log]
format = "xml"
`, 0o600)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log format, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeFile(t, "config.toml", "", 0o600)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Server.RelayPath != DefaultRelayPath {
		t.Errorf("default Server.RelayPath = %q, want %q", cfg.Server.RelayPath, DefaultRelayPath)
	}
	if cfg.Upstream.TimeoutSeconds != 120 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 120)
	}
	if cfg.Upstream.IdleConnections != 100 {
		t.Errorf("default Upstream.IdleConnections = %d, want %d", cfg.Upstream.IdleConnections, 100)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("default Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeFile(t, "config.toml", "[server\nport = ", 0o600)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for malformed TOML, got nil")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %q, want mention of parse", err)
	}
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, "config.toml", `
[server]
host = "0.0.0.0"
port = 8000

[upstream]
url = "https://toml.example.com/hook"
api_key = "toml-key"

[log]
level = "info"
`, 0o600)
	envFile := writeFile(t, ".env", "API_URL=https://dotenv.example.com/hook\nRETOOL_KEY=dotenv-key\n", 0o600)

	tests := []struct {
		name    string
		cli     CLI
		wantURL string
		wantKey string
	}{
		{
			name:    "toml only",
			cli:     CLI{Config: path},
			wantURL: "https://toml.example.com/hook",
			wantKey: "toml-key",
		},
		{
			name:    "dotenv overrides toml",
			cli:     CLI{Config: path, EnvFile: envFile},
			wantURL: "https://dotenv.example.com/hook",
			wantKey: "dotenv-key",
		},
		{
			name:    "flags override dotenv",
			cli:     CLI{Config: path, EnvFile: envFile, APIURL: "https://flag.example.com/hook", APIKey: "flag-key"},
			wantURL: "https://flag.example.com/hook",
			wantKey: "flag-key",
		},
		{
			name:    "partial flag override",
			cli:     CLI{Config: path, EnvFile: envFile, APIKey: "flag-key"},
			wantURL: "https://dotenv.example.com/hook",
			wantKey: "flag-key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(&tt.cli)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Upstream.URL != tt.wantURL {
				t.Errorf("Upstream.URL = %q, want %q", cfg.Upstream.URL, tt.wantURL)
			}
			if cfg.Upstream.APIKey != tt.wantKey {
				t.Errorf("Upstream.APIKey = %q, want %q", cfg.Upstream.APIKey, tt.wantKey)
			}
		})
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeFile(t, "config.toml", `
[server]
host = "0.0.0.0"
port = 8000

[log]
level = "info"
`, 0o600)

	cli := &CLI{
		Config:   path,
		Host:     "127.0.0.1",
		Port:     3000,
		LogLevel: "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_MissingEnvFile(t *testing.T) {
	_, err := Load(&CLI{EnvFile: "/nonexistent/.env"})
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if !strings.Contains(err.Error(), "env file") {
		t.Errorf("error = %q, want mention of env file", err)
	}
}

func TestLoad_NegativeValues(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"port", "[server]\nport = -1\n"},
		{"port too large", "[server]\nport = 70000\n"},
		{"body_max_bytes", "[server]\nbody_max_bytes = -1\n"},
		{"timeout_seconds", "[upstream]\ntimeout_seconds = -5\n"},
		{"idle_connections", "[upstream]\nidle_connections = -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "config.toml", tt.data, 0o600)
			if _, err := Load(cliWithPath(path)); err == nil {
				t.Fatalf("Load() expected error for %s, got nil", tt.name)
			}
		})
	}
}

func TestLoad_RelayPathValidation(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"custom", "/relay", false},
		{"no leading slash", "relay", true},
		{"healthz", "/healthz", true},
		{"status sub", "/relay/status/x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeFile(t, "config.toml", "[server]\nrelay_path = \""+tt.path+"\"\n", 0o600)
			_, err := Load(cliWithPath(cfgPath))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeFile(t, "config.toml", "# test", 0o644)

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_LooseEnvFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeFile(t, ".env", "RETOOL_KEY=x\n", 0o644)

	cfg := &Config{envPath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), path) {
		t.Errorf("expected warning naming %q, got: %q", path, buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeFile(t, "config.toml", "# test", 0o600)

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths(t *testing.T) {
	path1 := writeFile(t, "config.toml", "", 0o600)
	path2 := writeFile(t, "config.toml", "", 0o600)

	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"found", []string{path1}, path1},
		{"not found", []string{"/nonexistent/a.toml", "/nonexistent/b.toml"}, ""},
		{"priority", []string{path1, path2}, path1},
		{"skips missing", []string{"/nonexistent/a.toml", path2}, path2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findConfigInPaths(tt.paths); got != tt.want {
				t.Errorf("findConfigInPaths() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	path := writeFile(t, "config.toml", "[metrics]\nenabled = true\n", 0o600)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeFile(t, "config.toml", "[metrics]\nenabled = true\npath = \"metrics\"\n", 0o600)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflicts(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"relay path exact", "/api/proxy-chat"},
		{"relay path sub", "/api/proxy-chat/metrics"},
		{"healthz", "/healthz"},
		{"relay/status", "/relay/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeFile(t, "config.toml", "[metrics]\nenabled = true\npath = \""+tt.path+"\"\n", 0o600)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeFile(t, "config.toml", "[metrics]\nenabled = false\npath = \"bad-no-slash\"\n", 0o600)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
