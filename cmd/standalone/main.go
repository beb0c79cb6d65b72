package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectd/core"
	"connectd/logger"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	configPath := getEnv("CONFIG_PATH", "config.yaml")

	root := &cobra.Command{
		Use:           "connectd",
		Short:         "Social account connection service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", configPath, "path to the YAML config (env CONFIG_PATH)")

	root.AddCommand(serveCmd(&configPath), syncCmd(&configPath), tokenCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setup(ctx context.Context, configPath string) (*app, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(config.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return newApp(ctx, config, log)
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service and the background reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync()

			go func() {
				if err := a.reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Error("reconciler stopped", zap.Error(err))
				}
			}()

			srv := &http.Server{
				Addr:              ":" + a.config.Port,
				Handler:           a.server.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("starting connectd",
					zap.String("port", a.config.Port),
					zap.Any("providers", a.connector.Providers()),
					zap.Duration("sync_interval", a.config.Core.Sync.Interval),
				)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("failed to start server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func syncCmd(configPath *string) *cobra.Command {
	var userFlag string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass, for one user or for every connected user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync()

			if userFlag == "" {
				passes := a.reconciler.RunOnce(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "passes=%d\n", passes)
				return nil
			}

			userID, err := uuid.Parse(userFlag)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			report, err := a.trigger.Refresh(ctx, userID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&userFlag, "user", "", "user id (UUID); empty syncs every connected user")
	return cmd
}

func tokenCmd(configPath *string) *cobra.Command {
	var userFlag string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user (development)",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			userID := uuid.New()
			if userFlag != "" {
				if userID, err = uuid.Parse(userFlag); err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
			}

			token, err := core.GenerateAccessToken(userID, &config.Core)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user_id=%s\ntoken=%s\n", userID, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userFlag, "user", "", "user id (UUID); a random one when empty")
	return cmd
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
