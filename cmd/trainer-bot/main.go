package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trainer-bot/internal/brain"
	"trainer-bot/internal/config"
	"trainer-bot/internal/imaging"
	"trainer-bot/internal/logging"
	"trainer-bot/internal/orchestrator"
	"trainer-bot/internal/schedule"
	"trainer-bot/internal/server"
	"trainer-bot/internal/sites/bluesky"
	"trainer-bot/internal/storage"
	"trainer-bot/internal/ui/telegram"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "trainer-bot",
	Short: "Bluesky exercise trainer bot",
	Long: `trainer-bot watches Bluesky for #青空筋トレ部 check-ins from one account,
replies with a streak-aware evaluation, answers mentions and sends a reminder
after a few quiet days.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Development)
		if err != nil {
			return err
		}
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single pass and exit (for cron)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		orch, closer, err := buildOrchestrator(ctx)
		if err != nil {
			return err
		}
		defer closer.Close()

		report := orch.Run(ctx)
		if report.Aborted != "" {
			return fmt.Errorf("run aborted: %s", report.Aborted)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve HTTP triggers and run on an interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		orch, closer, err := buildOrchestrator(ctx)
		if err != nil {
			return err
		}
		defer closer.Close()

		guard := &server.Guard{Runner: orch}
		srv := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      server.NewRouter(guard, logger),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("http server starting", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		loopDone := make(chan struct{})
		go func() {
			defer close(loopDone)
			guard.Loop(ctx, cfg.RunEvery(), logger)
		}()

		var serveErr error
		select {
		case err := <-errCh:
			serveErr = fmt.Errorf("http server: %w", err)
			cancel()
		case <-ctx.Done():
			logger.Info("shutting down")
		}
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
			serveErr = err
		}
		<-loopDone
		return serveErr
	},
}

// buildOrchestrator wires storage, the Bluesky client, the model and the
// optional Telegram notifier from cfg.
func buildOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, io.Closer, error) {
	store, closer, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	logger.Info("storage ready", zap.String("driver", cfg.Storage.Driver))

	social := bluesky.NewClient(store, cfg.Bluesky.Identifier, cfg.Bluesky.AppPassword, logger.Named("bluesky"))
	social.BaseURL = cfg.Bluesky.ServiceURL

	gen, err := brain.NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.FallbackModels, logger.Named("gemini"))
	if err != nil {
		closer.Close()
		return nil, nil, fmt.Errorf("gemini client: %w", err)
	}
	composer := brain.NewComposer(gen, imaging.NewPreprocessor(), social, logger.Named("composer"))

	reminder := &schedule.Scheduler{
		Social:       social,
		Composer:     composer,
		State:        schedule.NewStateStore(store),
		Logger:       logger.Named("reminder"),
		MonitoredDID: cfg.Bluesky.MonitoredDID,
		Initial:      cfg.ReminderInitial(),
		Repeat:       cfg.ReminderInterval(),
	}

	orch := orchestrator.New(social, composer, store, reminder, orchestrator.Options{
		MonitoredDID:     cfg.Bluesky.MonitoredDID,
		Hashtag:          cfg.Bluesky.Hashtag,
		PruneProbability: orchestrator.DefaultPruneProbability,
	}, logger.Named("orchestrator"))

	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		n, err := telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger.Named("telegram"))
		if err != nil {
			logger.Warn("telegram disabled", zap.Error(err))
		} else {
			orch.Notifier = n
		}
	}
	return orch, closer, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "optional YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(runCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
