package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taillogs/internal/api"
	"taillogs/internal/api/handlers"
	"taillogs/internal/banner"
	"taillogs/internal/logging"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port int
	var quiet bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the polling HTTP API and watch the stream configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			if !quiet {
				banner.Print()
			}

			logger := logging.New(cfg.LogLevel)
			logger.Info("Initializing taillogs...")
			logger.Debug("Configuration loaded", logger.Args(
				"config", cfg.Streams.DocumentPath(),
				"cursor_backend", cfg.State.Backend,
				"server_port", cfg.Server.Port,
				"max_load_bytes", cfg.Tail.MaxLoadBytes,
			))

			a, err := openApp(cfg, logger)
			if err != nil {
				logger.WithCaller().Error("Failed to start", logger.Args("error", err))
				return err
			}
			defer a.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// A fresh viewer starts at the end of every file
			if cfg.Tail.ResetOnStart {
				if err := a.aggregator.ResetToEnd(runCtx); err != nil {
					logger.Warn("Initial reset to end failed", logger.Args("error", err))
				}
			}

			watchDone := make(chan struct{})
			go func() {
				defer close(watchDone)
				if err := a.registry.Watch(runCtx); err != nil {
					logger.Warn("Configuration watcher stopped", logger.Args("error", err))
				}
			}()

			server := api.NewServer(&api.Config{
				Host:           cfg.Server.Host,
				Port:           cfg.Server.Port,
				Production:     cfg.Server.Production,
				UpdateInterval: cfg.Tail.UpdateInterval,
				NodeName:       a.registry.NodeName,
			},
				handlers.NewTailHandler(a.aggregator, a.filters, logger),
				handlers.NewStatsHandler(a.stats),
				logger,
			)

			serverErr := make(chan error, 1)
			go func() {
				serverErr <- server.Run()
			}()

			logger.Info("taillogs is running", logger.Args(
				"url", pterm.Sprintf("http://localhost:%d", cfg.Server.Port),
				"node", a.registry.NodeName(),
				"update_interval", cfg.Tail.UpdateInterval.String(),
			))

			select {
			case <-runCtx.Done():
				logger.Info("Shutdown signal received, stopping services...")
			case err := <-serverErr:
				if err != nil {
					stop()
					<-watchDone
					return err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.WithCaller().Error("Web server shutdown error", logger.Args("error", err))
			} else {
				logger.Info("Web server stopped successfully")
			}

			stop()
			<-watchDone
			logger.Info("taillogs stopped gracefully")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides SERVER_PORT)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Skip the startup banner")

	return cmd
}
