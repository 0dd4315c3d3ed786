package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "herald/cmd/producer-service/docs"
	"herald/internal/config"
	"herald/internal/constants"
	"herald/internal/logger"
	"herald/internal/subscription"
	"herald/pkg/bootstrap"
	"herald/pkg/logging"
	"herald/pkg/migrations"
)

var (
	configFile string
)

// @title           Herald Producer API
// @version         1.0
// @description     Transactional outbox: enqueue messages for registered consumer groups and receive their acknowledgments

// @host      localhost:8080
// @BasePath  /api/v1

// @schemes   http https

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.ServiceNameProducer,
		Short: "Herald producer service",
		Long:  "Accepts messages into the outbox, publishes them to Kafka and drives acknowledgments and retries",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(registerGroupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog(constants.ServiceNameProducer)

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Warn("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, nil, fmt.Errorf("config file is required")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Warn("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging.Level, constants.ServiceNameProducer)
	if err != nil {
		earlyLog.Warn("Failed to init logger: %v", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the producer service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting producer service",
				"service_id", cfg.Service.ServiceID,
				"instance_id", cfg.Service.InstanceID,
			)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}

			runErr := app.Run(ctx)
			if err := app.Shutdown(context.Background()); err != nil {
				log.ErrorwCtx(ctx, "Shutdown incomplete", "error", err)
			}
			if runErr != nil && runErr != context.Canceled {
				log.ErrorwCtx(ctx, "Service stopped with error", "error", runErr)
				return runErr
			}
			log.InfowCtx(ctx, "Service shutdown complete")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	var (
		down    int
		version bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			cfg.Database.RunMigrations = false
			dc := bootstrap.NewDatabaseConnector(cfg, log)
			db, err := dc.InitPostgreSQL(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			switch {
			case version:
				v, dirty, err := migrations.Version(ctx, db)
				if err != nil {
					return err
				}
				log.InfowCtx(ctx, "Schema version", "version", v, "dirty", dirty)
				return nil
			case down > 0:
				if err := migrations.Down(ctx, db, down); err != nil {
					return err
				}
				log.InfowCtx(ctx, "Migrations rolled back", "steps", down)
				return nil
			default:
				if err := migrations.Up(ctx, db); err != nil {
					return err
				}
				log.InfowCtx(ctx, "Migrations applied")
				return nil
			}
		},
	}

	cmd.Flags().IntVar(&down, "down", 0, "Roll back this many migrations instead of applying")
	cmd.Flags().BoolVar(&version, "version", false, "Print the current schema version")
	return cmd
}

func registerGroupCmd() *cobra.Command {
	var reg subscription.Registration
	var inactive bool

	cmd := &cobra.Command{
		Use:   "register-group",
		Short: "Register a consumer group on a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg.Inactive = inactive
			if err := reg.Validate(); err != nil {
				return err
			}

			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			dc := bootstrap.NewDatabaseConnector(cfg, log)
			db, err := dc.InitPostgreSQL(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			group, err := subscription.NewRepository(db).Register(ctx, reg)
			if err != nil {
				return err
			}
			log.InfowCtx(ctx, "Consumer group registered",
				"registration_id", group.ID,
				"topic", group.Topic,
				"group", group.GroupName,
				"requires_acknowledgment", group.RequiresAcknowledgment,
				"max_retries", group.MaxRetries,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&reg.Topic, "topic", "", "Topic name")
	cmd.Flags().StringVar(&reg.GroupName, "group", "", "Consumer group name")
	cmd.Flags().BoolVar(&reg.RequiresAcknowledgment, "requires-ack", true, "Wait for consumer acknowledgments")
	cmd.Flags().IntVar(&reg.AcknowledgmentTimeoutMinutes, "ack-timeout-minutes", 5, "Minutes before an unacknowledged send is failed")
	cmd.Flags().IntVar(&reg.MaxRetries, "max-retries", 3, "Retries before a message expires, -1 for unlimited")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Register the group as inactive")
	return cmd
}
