package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-drift/videoplayer/internal/config"
	"github.com/go-drift/videoplayer/internal/history"
	"github.com/go-drift/videoplayer/pkg/player"
)

// writeConfig writes a config file that keeps history inside the test dir.
func writeConfig(t *testing.T, extra string) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "history.db")
	cfgPath = filepath.Join(dir, "config.toml")
	body := "[history]\npath = \"" + dbPath + "\"\n\n[player]\nuser_agent = \"TestAgent/1.0\"\n" + extra
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath, dbPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestProbe(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")

	out, err := run(t, "probe", "--config", cfgPath, "--json", "-H", "Referer=https://example.com", "https://cdn.example.com/live/index.m3u8")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "hls", got["type"])
	assert.Equal(t, "TestAgent/1.0", got["userAgent"])
	assert.Equal(t, map[string]any{"Referer": "https://example.com"}, got["headers"])

	out, err = run(t, "probe", "--config", cfgPath, "--hint", "dash", "https://example.com/video")
	require.NoError(t, err)
	assert.Contains(t, out, "type:       dash")
}

func TestProbeErrors(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")

	_, err := run(t, "probe", "--config", cfgPath, "rtsp://camera/1")
	assert.Error(t, err)

	_, err = run(t, "probe", "--config", cfgPath, "-H", "novalue", "https://example.com/a.mp4")
	assert.ErrorContains(t, err, "not key=value")

	_, err = run(t, "probe", "--config", filepath.Join(t.TempDir(), "missing.toml"), "https://example.com/a.mp4")
	assert.Error(t, err)
}

func TestHistory(t *testing.T) {
	cfgPath, dbPath := writeConfig(t, "")

	store, err := history.Open(dbPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, player.Summary{ID: 1, URI: "https://example.com/a.mp4", PositionMs: 1500, DurationMs: 60000}))
	require.NoError(t, store.Record(ctx, player.Summary{ID: 2, URI: "https://example.com/b.mp4", PositionMs: 9000, DurationMs: 9000, Completed: true}))
	require.NoError(t, store.Close())

	out, err := run(t, "history", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "https://example.com/a.mp4")
	assert.Contains(t, out, "https://example.com/b.mp4")

	out, err = run(t, "history", "--config", cfgPath, "https://example.com/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "resume at 1.5s\n", out)

	out, err = run(t, "history", "--config", cfgPath, "https://example.com/b.mp4")
	require.NoError(t, err)
	assert.Equal(t, "no resume point\n", out)
}

func TestHistoryDisabled(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("history:\n  enabled: false\n"), 0o600))

	_, err := run(t, "history", "--config", cfgPath)
	assert.ErrorContains(t, err, "disabled")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "videoplayerd "+Version)
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	cfgPath, _ := writeConfig(t, "\n[server]\naddr = \"127.0.0.1:9000\"\n")
	serve, _, err := newRootCmd().Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, serve.ParseFlags([]string{"--config", cfgPath, "--log-level", "debug", "--addr", ":8080"}))

	cfg, err := loadConfig(serve)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "mpv", cfg.MPV.Path)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	logger.Info("dropped")
	logger.Warn("kept")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])

	_, err = newLogger(config.LogConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
	_, err = newLogger(config.LogConfig{Level: "info", Format: "xml"}, &buf)
	assert.Error(t, err)
}
