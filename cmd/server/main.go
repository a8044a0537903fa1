package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/FlashTrack/internal/api"
	"github.com/soaringjerry/FlashTrack/internal/config"
	"github.com/soaringjerry/FlashTrack/internal/db"
	"github.com/soaringjerry/FlashTrack/internal/middleware"
	"github.com/soaringjerry/FlashTrack/internal/services"
	"github.com/soaringjerry/FlashTrack/internal/utils"
)

// defaultAccessCode is the study access code used when none is configured.
const defaultAccessCode = "2345"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "flashtrack-server",
		Short:        "FlashTrack check-in API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(config.EnvConfigFile), "path to the YAML config file")

	var ttl time.Duration
	keygen := &cobra.Command{
		Use:   "keygen",
		Short: "Print a project API key for participant clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(configPath)
			if err != nil {
				return err
			}
			key, err := middleware.SignAPIKey([]byte(cfg.APISecret), middleware.RoleAnon, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	keygen.Flags().DurationVar(&ttl, "ttl", 0, "key lifetime, 0 for no expiry")

	hash := &cobra.Command{
		Use:   "hash-access-code <code>",
		Short: "Print the bcrypt hash to put in access_code_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := services.HashAccessCode(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(h))
			return nil
		},
	}

	root.AddCommand(keygen, hash)
	return root
}

func openStore(cfg *config.ServerConfig, logger *slog.Logger) (api.Store, func() error, error) {
	if cfg.SQLitePath == "" {
		logger.Warn("no sqlite_path configured, data is kept in memory only")
		return api.NewMemoryStore(), func() error { return nil }, nil
	}
	s, err := db.Open(cfg.SQLitePath, cfg.MigrationsDir, logger)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func accessCodeHash(cfg *config.ServerConfig, logger *slog.Logger) ([]byte, error) {
	if cfg.AccessCodeHash != "" {
		return []byte(cfg.AccessCodeHash), nil
	}
	logger.Warn("access_code_hash not configured, using the default study access code")
	return services.HashAccessCode(defaultAccessCode)
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.LoadServer(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		return err
	}
	logger := utils.InitLogger(cfg.Logging, os.Stdout,
		slog.String("service", "flashtrack-server"),
		slog.String("commit", cfg.Commit),
	)

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open store", slog.String("error", err.Error()))
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("failed to close store", slog.String("error", err.Error()))
		}
	}()
	if err := SeedIfEmpty(store, cfg.Seed, logger); err != nil {
		logger.Error("failed to seed catalog", slog.String("error", err.Error()))
		return err
	}
	hash, err := accessCodeHash(cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(cfg, store, hash, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("FlashTrack server listening", slog.String("addr", cfg.Addr), slog.Int("study_days", cfg.StudyDays))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.String("error", err.Error()))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
