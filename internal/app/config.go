package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr           string
	Path           string
	DBPath         string
	TokenTTL       time.Duration
	TrustProxy     bool
	AllowedOrigins []string
	Logger         *slog.Logger
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL   string
	SessionPath string
	Username    string
	Peer        string
	Room        string
	RetryDelay  time.Duration
	LogFile     string
	LogLevel    string
}

// FileConfig is the optional YAML config file. Empty fields leave the flag
// defaults alone.
type FileConfig struct {
	Server      string `yaml:"server"`
	Username    string `yaml:"username"`
	SessionPath string `yaml:"session_path"`
	LogFile     string `yaml:"log_file"`
	LogLevel    string `yaml:"log_level"`
	RetryDelay  string `yaml:"retry_delay"`
}

// LoadFileConfig reads path. A missing file is not an error.
func LoadFileConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.RetryDelay != "" {
		if _, err := time.ParseDuration(cfg.RetryDelay); err != nil {
			return cfg, fmt.Errorf("parse config %s: retry_delay: %w", path, err)
		}
	}
	return cfg, nil
}

// Apply copies the file values into cfg for every field the caller did not
// set explicitly. explicit reports whether a flag was given on the command
// line.
func (f FileConfig) Apply(cfg *ClientConfig, explicit func(flag string) bool) {
	set := func(flag, value string, dst *string) {
		if value != "" && !explicit(flag) {
			*dst = value
		}
	}
	set("server-url", f.Server, &cfg.ServerURL)
	set("user", f.Username, &cfg.Username)
	set("session", f.SessionPath, &cfg.SessionPath)
	set("log-file", f.LogFile, &cfg.LogFile)
	set("log-level", f.LogLevel, &cfg.LogLevel)
	if f.RetryDelay != "" && !explicit("retry") {
		if d, err := time.ParseDuration(f.RetryDelay); err == nil {
			cfg.RetryDelay = d
		}
	}
}

// DefaultConfigPath is where the client looks for its YAML config.
func DefaultConfigPath() string {
	if env := os.Getenv("LIVECHAT_CONFIG"); env != "" {
		return env
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "livechat", "config.yaml")
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	return filepath.Join(dataDir(), "livechat.db")
}

// DefaultSessionPath is where the client keeps its login token.
func DefaultSessionPath() string {
	if env := os.Getenv("LIVECHAT_SESSION_PATH"); env != "" {
		return env
	}
	return filepath.Join(dataDir(), "session.json")
}

func dataDir() string {
	if env := os.Getenv("LIVECHAT_DATA_DIR"); env != "" {
		return env
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "livechat")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "LiveChat")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "LiveChat")
		}
		return filepath.Join(home, ".local", "share", "livechat")
	}
	return filepath.Join(".", ".livechat")
}

// NormalizeJoinPath guarantees the websocket join path starts with '/' and
// falls back to /join when empty.
func NormalizeJoinPath(path string) string {
	if path == "" {
		return "/join"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

// NewLogger builds the text logger both binaries use.
func NewLogger(level string, w io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
