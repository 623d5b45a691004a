package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/internal/config"
	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/internal/logger"
	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/pkg/gateway"
	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/pkg/session"
	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the voice chat session server",
	Long: `Start the gateway server together with the session store and the
background cleanup sweeper. Runs until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()
	log := lg.GetLogger()

	// Open the session store
	st, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	// Build the session manager
	manager := session.NewManager(st, session.Options{
		MaxSessionsPerUser: cfg.Session.MaxPerUser,
		SessionTTL:         time.Duration(cfg.Session.ExpireHours) * time.Hour,
		Logger:             log,
	})
	defer manager.Close()

	// Start the cleanup sweeper
	sweeper, err := session.NewSweeper(manager, session.SweeperOptions{
		Interval: time.Duration(cfg.Cleanup.IntervalMinutes) * time.Minute,
		Schedule: cfg.Cleanup.Schedule,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("failed to create sweeper: %w", err)
	}
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}
	defer func() {
		if err := sweeper.Stop(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop sweeper")
		}
	}()

	// Start the gateway
	server, err := gateway.NewServer(gateway.Config{
		Host:    cfg.Gateway.Host,
		Port:    cfg.Gateway.Port,
		Manager: manager,
		Store:   st,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	log.Info().
		Int("port", cfg.Gateway.Port).
		Int("max_sessions_per_user", cfg.Session.MaxPerUser).
		Int("expire_hours", cfg.Session.ExpireHours).
		Msg("Voice chat server started")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Info().Str("signal", sig.String()).Msg("Shutting down")
	return server.Stop()
}
