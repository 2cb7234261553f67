package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gaslessgamefi/relay/internal/logging"
	"github.com/gaslessgamefi/relay/internal/migrate"
	"github.com/gaslessgamefi/relay/internal/service"
	"github.com/gaslessgamefi/relay/internal/version"
)

var (
	cfgFile  string
	logLevel string
	envFile  string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gasless-relay",
		Short: "Gas-sponsoring meta-transaction relay for games",
		Long: `gasless-relay accepts pre-signed game transactions, wraps them in a
forwarder meta-transaction and submits them on the player's behalf on
the configured networks, keeping usage statistics per network and game.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.PersistentFlags().StringVar(
		&cfgFile, "config", "",
		"path to config file (optional; environment variables are always read)",
	)
	cmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)
	cmd.PersistentFlags().StringVar(
		&envFile, "env-file", "",
		"load environment variables from this file (default .env if present)",
	)

	cmd.AddCommand(versionCmd(), migrateCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

// loadEnv reads the env file without overriding variables already set.
func loadEnv() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("loading env file %s: %w", envFile, err)
		}

		return nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("loading .env: %w", err)
		}
	}

	return nil
}

func setup() (*service.Config, *logging.Logger, error) {
	if err := loadEnv(); err != nil {
		return nil, nil, err
	}

	cfg, err := service.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	// CLI flag overrides config file and environment.
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}

	return cfg, log, nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	svc, err := service.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	log.WithField("version", version.Full()).Info("Starting gasless relay")

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}

	<-ctx.Done()

	log.Info("Shutting down gasless relay")

	if err := svc.Stop(); err != nil {
		log.WithError(err).Error("Error during shutdown")
		return fmt.Errorf("stopping service: %w", err)
	}

	log.Info("Shutdown complete")

	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ClickHouse outcome archive schema",
	}

	withMigrator := func(fn func(ctx context.Context, log logrus.FieldLogger, m migrate.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Close()

			ch := cfg.Exporters.Archive.ClickHouse
			if err := ch.Validate(); err != nil {
				return fmt.Errorf("exporters.archive: %w", err)
			}

			return fn(cmd.Context(), log, migrate.New(log, ch.DSN()))
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(ctx context.Context, _ logrus.FieldLogger, m migrate.Migrator) error {
				return m.Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: withMigrator(func(ctx context.Context, _ logrus.FieldLogger, m migrate.Migrator) error {
				return m.Down(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			RunE: withMigrator(func(ctx context.Context, log logrus.FieldLogger, m migrate.Migrator) error {
				v, dirty, err := m.Status(ctx)
				if err != nil {
					return err
				}

				pending, err := migrate.Pending(v)
				if err != nil {
					return err
				}

				log.WithFields(logrus.Fields{
					"version": v,
					"dirty":   dirty,
					"pending": pending,
				}).Info("Archive schema status")

				return nil
			}),
		},
	)

	return cmd
}
