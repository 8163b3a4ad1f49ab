package cmd

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-drift/videoplayer/internal/config"
	"github.com/go-drift/videoplayer/internal/history"
	"github.com/go-drift/videoplayer/internal/metrics"
	"github.com/go-drift/videoplayer/internal/server"
	"github.com/go-drift/videoplayer/internal/telemetry"
	"github.com/go-drift/videoplayer/pkg/engine/mpv"
	"github.com/go-drift/videoplayer/pkg/errors"
	"github.com/go-drift/videoplayer/pkg/player"
	"github.com/go-drift/videoplayer/pkg/platform"
	"github.com/go-drift/videoplayer/pkg/source"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the player daemon",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().String("mpv", "", "mpv executable (overrides mpv.path)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	errors.SetHandler(metrics.ErrorCounter{Next: &errors.LogHandler{
		Logger:  logger.WithField("component", "report"),
		Verbose: logger.IsLevelEnabled(logrus.DebugLevel),
	}})
	defer errors.SetHandler(nil)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Options{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.Endpoint,
		SampleRate:  cfg.Telemetry.SampleRate,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.WithError(err).Warn("trace flush failed")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(reg)

	var store *history.Store
	var onSessionEnd func(player.Summary)
	if cfg.HistoryEnabled() {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		onSessionEnd = store.Recorder(logger.WithField("component", "history"))
	}

	launcher := &mpv.Launcher{
		Path:       cfg.MPV.Path,
		SocketDir:  cfg.MPV.SocketDir,
		Args:       cfg.MPV.Args,
		MinVersion: cfg.MPV.MinVersion,
		AssetRoot:  cfg.Player.AssetRoot,
		Logger:     logger.WithField("component", "mpv"),
	}
	plugin := platform.NewPlugin(platform.Options{
		Factory:       launcher.Factory(),
		Resolver:      source.Resolver{UserAgent: cfg.Player.UserAgent},
		MixWithOthers: cfg.Player.MixWithOthers,
		Logger:        logger.WithField("component", "platform"),
		Metrics:       metrics.Recorder{},
		OnSessionEnd:  onSessionEnd,
	})

	srv := server.New(plugin, serverOptions(cfg, logger, reg, store)...)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.Server.Addr).Info("videoplayerd listening")
		if err := httpServer.ListenAndServe(); !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		srv.Close()
		plugin.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func serverOptions(cfg *config.Config, logger logrus.FieldLogger, reg *prometheus.Registry, store *history.Store) []server.ServerOption {
	opts := []server.ServerOption{
		server.WithLogger(logger.WithField("component", "http")),
		server.WithGatherer(reg),
		server.WithRateLimit(cfg.Server.RateLimit, cfg.Server.Burst),
	}
	if store != nil {
		opts = append(opts, server.WithHistory(store, cfg.History.Limit))
	}
	return opts
}
