// Package main runs the todo-tracker API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"todo-tracker/internal/config"
	"todo-tracker/internal/database"
	"todo-tracker/internal/logging"
	"todo-tracker/internal/server"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "todo-tracker",
	Short:         "Personal todo backend with realtime updates",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var configFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and websocket server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "TOML config file (overrides CONFIG_FILE)")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
			return nil, err
		}
	}
	return config.LoadConfig()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("shutdown finished with errors", "err", err)
		}
	}()

	return app.Run(ctx)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log)

	pool, err := database.NewDatabasePool(database.PoolConfigFromConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("database schema is up to date", "driver", cfg.Database.Driver)
	return nil
}
