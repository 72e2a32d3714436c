// Package main provides the CLI entry point for the heartbeat listener.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/skypro1111/heartbeat-listener/internal/client"
	"github.com/skypro1111/heartbeat-listener/internal/config"
	"github.com/skypro1111/heartbeat-listener/internal/logging"
	"github.com/skypro1111/heartbeat-listener/internal/metrics"
	"github.com/skypro1111/heartbeat-listener/internal/server"
)

const (
	serviceName    = "heartbeat-listener"
	serviceVersion = "1.0.0"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "UDP heartbeat listener",
		Long: `Listens for heartbeat pulses on UDP port 12000, prints one line per
pulse and quits after 10 seconds without a pulse.`,
		Version:       serviceVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to optional YAML configuration file")

	cmd.AddCommand(serveCmd(&configPath))
	cmd.AddCommand(pulseCmd(&configPath))

	return cmd
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the heartbeat listener (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func pulseCmd(configPath *string) *cobra.Command {
	var (
		addr     string
		count    uint64
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "pulse",
		Short: "Send numbered heartbeat pulses to a listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if addr != "" {
				cfg.Sender.Address = addr
			}
			if interval > 0 {
				cfg.Sender.Interval = interval.Seconds()
			}

			logger, closer, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sender, err := client.NewSender(&cfg.Sender, logger)
			if err != nil {
				return err
			}
			defer sender.Close()

			return sender.Run(ctx, count)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listener address (default from config, 127.0.0.1:12000)")
	cmd.Flags().Uint64VarP(&count, "count", "n", 0, "Number of pulses to send, 0 sends until interrupted")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "Interval between pulses (default from config, 5s)")

	return cmd
}

// serve runs the listener until the silence timeout, a signal or a fatal error
func serve(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.Default()

	listener := server.NewListener(&cfg.Listener, logger, appMetrics, os.Stdout)
	if err := listener.Listen(); err != nil {
		logger.Error("Failed to start heartbeat listener", slog.String(logging.KeyError, err.Error()))
		return err
	}
	defer listener.Close()

	if cfg.HTTP.Enabled {
		httpServer := server.NewHTTPServer(cfg, logger, listener, appMetrics, prometheus.DefaultGatherer)
		if err := httpServer.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping HTTP server", slog.String(logging.KeyError, err.Error()))
			}
		}()
	}

	runErr := listener.Run(ctx)

	stats := listener.GetStatistics()
	logger.Info("Final listener statistics",
		slog.Uint64("pulses_received", stats.PulsesReceived),
		slog.String("bytes_received", humanize.Bytes(stats.BytesReceived)),
		slog.Uint64("decode_errors", stats.DecodeErrors),
		slog.Uint64("receive_errors", stats.ReceiveErrors),
		slog.String("uptime", time.Since(stats.StartTime).Round(time.Millisecond).String()),
	)

	if runErr != nil {
		logger.Error("Heartbeat listener failed", slog.String(logging.KeyError, runErr.Error()))
		return runErr
	}

	logger.Info("Service stopped")
	return nil
}

