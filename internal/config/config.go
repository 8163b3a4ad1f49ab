// Package config loads the videoplayerd configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"golang.org/x/mod/semver"
)

const appName = "videoplayer"

// Config is the daemon configuration.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Server    ServerConfig    `koanf:"server"`
	MPV       MPVConfig       `koanf:"mpv"`
	Player    PlayerConfig    `koanf:"player"`
	History   HistoryConfig   `koanf:"history"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // logrus level name, default "info"
	Format string `koanf:"format"` // "text" or "json"
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
	// RateLimit is the per-player command rate in calls per second.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

type MPVConfig struct {
	Path       string   `koanf:"path"`
	SocketDir  string   `koanf:"socket_dir"`
	MinVersion string   `koanf:"min_version"` // semver, e.g. "v0.35.0"
	Args       []string `koanf:"args"`
}

type PlayerConfig struct {
	UserAgent     string `koanf:"user_agent"`
	MixWithOthers bool   `koanf:"mix_with_others"`
	// AssetRoot is the directory asset:/// URIs resolve against.
	AssetRoot string `koanf:"asset_root"`
}

type HistoryConfig struct {
	Enabled *bool  `koanf:"enabled"` // default true
	Path    string `koanf:"path"`
	Limit   int    `koanf:"limit"` // rows returned by /v1/history
}

type TelemetryConfig struct {
	// Endpoint is the OTLP/HTTP collector. Empty disables tracing.
	Endpoint    string  `koanf:"endpoint"`
	SampleRate  float64 `koanf:"sample_rate"`
	ServiceName string  `koanf:"service_name"`
}

// Load reads the config files that exist, in order: the XDG config file, a
// videoplayer.{toml,yaml} in the working directory, then explicit. Later
// files override earlier ones. An explicit path that does not exist is an
// error; the others are optional.
func Load(explicit string) (*Config, error) {
	paths := searchPaths()
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		paths = append(paths, explicit)
	}
	return loadPaths(paths)
}

func searchPaths() []string {
	var paths []string
	for _, ext := range []string{"toml", "yaml"} {
		paths = append(paths, filepath.Join(xdg.ConfigHome, appName, "config."+ext))
	}
	for _, ext := range []string{"toml", "yaml"} {
		paths = append(paths, appName+"."+ext)
	}
	return paths
}

func loadPaths(paths []string) (*Config, error) {
	k := koanf.New(".")
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Parser(), nil
	case ".yaml", ".yml":
		return YAML(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file type %q", path)
	}
}

// normalize fills defaults and validates.
func (c *Config) normalize() error {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	switch c.Log.Format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}

	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:7780"
	}
	if c.Server.RateLimit <= 0 {
		c.Server.RateLimit = 50
	}
	if c.Server.Burst <= 0 {
		c.Server.Burst = 20
	}

	if c.MPV.Path == "" {
		c.MPV.Path = "mpv"
	}
	if c.MPV.SocketDir == "" {
		c.MPV.SocketDir = filepath.Join(xdg.RuntimeDir, appName)
	}
	c.MPV.SocketDir = expandPath(c.MPV.SocketDir)
	if c.MPV.MinVersion != "" {
		if !strings.HasPrefix(c.MPV.MinVersion, "v") {
			c.MPV.MinVersion = "v" + c.MPV.MinVersion
		}
		if !semver.IsValid(c.MPV.MinVersion) {
			return fmt.Errorf("config: mpv.min_version %q is not a semantic version", c.MPV.MinVersion)
		}
	}

	c.Player.AssetRoot = expandPath(c.Player.AssetRoot)

	if c.History.Enabled == nil {
		enabled := true
		c.History.Enabled = &enabled
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(xdg.DataHome, appName, "history.db")
	}
	c.History.Path = expandPath(c.History.Path)
	if c.History.Limit <= 0 {
		c.History.Limit = 50
	}

	if c.Telemetry.SampleRate <= 0 || c.Telemetry.SampleRate > 1 {
		c.Telemetry.SampleRate = 0.1
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "videoplayerd"
	}
	return nil
}

// HistoryEnabled reports whether playback history is recorded.
func (c *Config) HistoryEnabled() bool {
	return c.History.Enabled != nil && *c.History.Enabled
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
