package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/FlashTrack/internal/agent"
	"github.com/soaringjerry/FlashTrack/internal/client"
	"github.com/soaringjerry/FlashTrack/internal/config"
	"github.com/soaringjerry/FlashTrack/internal/device"
	"github.com/soaringjerry/FlashTrack/internal/reminders"
	"github.com/soaringjerry/FlashTrack/internal/utils"
)

// app is everything a subcommand needs, built once per invocation.
type app struct {
	logger *slog.Logger
	store  *device.Store
	agent  *agent.Agent
	poll   time.Duration
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

type appFactory func(cmd *cobra.Command) (*app, error)

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "flashtrack",
		Short:        "Daily check-ins and reminders for FlashTrack study participants",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(config.EnvConfigFile), "path to the YAML config file")

	build := func(cmd *cobra.Command) (*app, error) {
		return buildApp(configPath, cmd)
	}
	root.AddCommand(
		newOnboardCmd(build),
		newStatusCmd(build),
		newSubmitCmd(build),
		newFinishCmd(build),
		newScheduleCmd(build),
		newRunCmd(build),
		newDeleteCmd(build),
		newCodeCmd(build),
	)
	return root
}

func buildApp(configPath string, cmd *cobra.Command) (*app, error) {
	cfg, err := config.LoadAgent(configPath)
	if err != nil {
		return nil, err
	}
	logger := utils.InitLogger(cfg.Logging, cmd.ErrOrStderr(), slog.String("component", "flashtrack"))

	perm, err := reminders.ParsePermission(cfg.NotificationPermission)
	if err != nil {
		return nil, err
	}
	store, err := device.Open(cfg.StatePath, device.Options{PermissionAnswer: perm, Logger: logger})
	if err != nil {
		return nil, err
	}
	timeout, _ := cfg.RequestTimeout()
	poll, _ := cfg.Poll()
	remote, err := client.New(client.Config{
		BaseURL: cfg.ServerURL,
		APIKey:  cfg.APIKey,
		Timeout: timeout,
		Retries: cfg.Retries,
		Logger:  logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched := reminders.NewScheduler(store, cfg.Locale, logger)
	return &app{
		logger: logger,
		store:  store,
		agent: agent.New(remote, store, sched, agent.Options{
			TotalDays: cfg.StudyDays,
			Location:  time.Local,
			Locale:    cfg.Locale,
			Logger:    logger,
		}),
		poll: poll,
	}, nil
}

// withApp builds the app, runs fn and closes the device store.
func withApp(build appFactory, fn func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := build(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				a.logger.Warn("failed to close device store", slog.String("error", err.Error()))
			}
		}()
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return fn(ctx, cmd, args, a)
	}
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
