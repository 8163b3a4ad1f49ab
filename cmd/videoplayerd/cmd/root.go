// Package cmd implements the videoplayerd commands.
//
// serve runs the player daemon; probe, history and version are local
// helpers that never start a player.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/go-drift/videoplayer/internal/config"
)

// Version information set at build time.
var (
	Version   = "0.1.0-dev"
	BuildTime = "unknown"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "videoplayerd",
		Short: "Video player daemon driving mpv over HTTP and WebSocket",
		Long: `videoplayerd hosts video players backed by mpv. Clients create players
and send playback commands over HTTP, and receive each player's events
on a WebSocket.

Use "videoplayerd <command> --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (toml or yaml)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "log format (text or json)")

	root.AddCommand(newServeCmd(), newProbeCmd(), newHistoryCmd(), newVersionCmd())
	return root
}

// Execute runs the CLI with os.Args.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// loadConfig reads the config files and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := lo.Must(cmd.Flags().GetString("config"))
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level := lo.Must(cmd.Flags().GetString("log-level")); level != "" {
		cfg.Log.Level = level
	}
	if format := lo.Must(cmd.Flags().GetString("log-format")); format != "" {
		cfg.Log.Format = format
	}
	if cmd.Flags().Lookup("addr") != nil && cmd.Flags().Changed("addr") {
		cfg.Server.Addr = lo.Must(cmd.Flags().GetString("addr"))
	}
	if cmd.Flags().Lookup("mpv") != nil && cmd.Flags().Changed("mpv") {
		cfg.MPV.Path = lo.Must(cmd.Flags().GetString("mpv"))
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("log format must be text or json, got %q", cfg.Format)
	}
	return logger, nil
}
