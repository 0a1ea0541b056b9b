package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/calendai/calendai/internal/calendar"
	"github.com/calendai/calendai/internal/config"
	"github.com/calendai/calendai/internal/google"
	"github.com/calendai/calendai/internal/handshake"
	"github.com/calendai/calendai/internal/instrumentation"
	"github.com/calendai/calendai/internal/llm"
	"github.com/calendai/calendai/internal/logging"
	"github.com/calendai/calendai/internal/orchestrator"
	"github.com/calendai/calendai/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		listenAddr string
		cacheFile  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant HTTP service",
		Long: `Serve runs the HTTP service: the Google OAuth handshake endpoints,
the chat endpoint driving the conversation loop, health probes, and the
optional Prometheus metrics endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			if cacheFile != "" {
				cfg.CacheFile = cacheFile
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides CALENDAI_LISTEN_ADDR)")
	cmd.Flags().StringVar(&cacheFile, "cache-file", "", "handshake cache path (overrides CALENDAI_CACHE_FILE)")

	return cmd
}

func runServe(cfg *config.Config) error {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instrCfg := instrumentation.DefaultConfig()
	instrCfg.ServiceVersion = version
	instrCfg.Enabled = cfg.PrometheusEnabled
	provider, err := instrumentation.NewProvider(ctx, instrCfg)
	if err != nil {
		return fmt.Errorf("initializing instrumentation: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	store := handshake.NewStore(cfg.CacheFile, logger)
	metrics := provider.Metrics()

	primary := llm.NewProvider(cfg.Primary, metrics, logger)
	fallback := llm.NewProvider(cfg.Fallback, metrics, logger)
	chain := llm.NewChain(logger, primary, fallback)
	logger.Info("completion providers configured",
		slog.String("chain", strings.Join(chain.Providers(), ",")),
	)

	orch := orchestrator.New(chain, logger)

	newClient := func(ctx context.Context, bundle *handshake.CredentialBundle) (*calendar.Client, error) {
		return calendar.NewClient(ctx, bundle, cfg, metrics, logger)
	}

	srv := server.New(cfg, store, google.OAuthConfig(cfg), orch, metrics, newClient, logger)

	logger.Info("starting calendai",
		slog.String("version", version),
		slog.String("addr", cfg.ListenAddr),
		slog.String("timezone", cfg.Timezone),
	)
	return srv.Run(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
