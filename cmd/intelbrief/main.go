package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/intelbrief/intelbrief/config"
	"github.com/intelbrief/intelbrief/internal/server"
)

func main() {
	root := &cobra.Command{
		Use:   "intelbrief",
		Short: "Content intelligence pipeline: collect, deduplicate, analyze",
	}

	var cfgPath string
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (toml/yaml)")

	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server with the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}
			app, err := buildApp(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer app.Close()

			app.Scheduler.Start()
			defer app.Scheduler.Stop()

			errCh := make(chan error, 1)
			go func() { errCh <- app.Server.Run() }()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case s := <-sig:
				log.Printf("received %s, shutting down", s)
				return nil
			}
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")

	var migDir, direction string
	var steps int
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			return server.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var collectSource string
	collect := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			app, err := buildApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer app.Close()
			if collectSource != "" {
				report, err := app.Collector.CollectSource(cmd.Context(), collectSource)
				if err != nil {
					return err
				}
				fmt.Printf("source %s: %d new items (%d duplicates, %d too old, %d invalid)\n",
					report.SourceID, report.NewItems, report.Duplicates, report.TooOld, report.Invalid)
				return nil
			}
			for _, report := range app.Collector.CollectAll(cmd.Context()) {
				fmt.Printf("source %s: %d new items (%d duplicates, %d too old, %d invalid)\n",
					report.SourceID, report.NewItems, report.Duplicates, report.TooOld, report.Invalid)
			}
			return nil
		},
	}
	collect.Flags().StringVar(&collectSource, "source", "", "collect a single source by ID")

	process := &cobra.Command{
		Use:   "process",
		Short: "Run one processing cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			app, err := buildApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer app.Close()
			report, err := app.Orchestrator.RunCycle(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("processed %d items (%d fallback analyses, %d alerts) in %s\n",
				report.Processed(), report.FallbackCount, report.AlertsEmitted, report.Duration)
			app.Ledger.Report()
			return nil
		},
	}

	root.AddCommand(serve, migrateCmd, collect, process)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("redis unavailable at %s, continuing without cache: %v", cfg.Addr, err)
		rdb.Close()
		return nil
	}
	return rdb
}
