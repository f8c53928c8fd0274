package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/gaplocker/internal/app"
	"github.com/sawpanic/gaplocker/internal/config"
)

const (
	appName = "gaplocker"
	version = "v1.0.6"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	// Optional .env for local runs; missing file is fine.
	_ = godotenv.Load()

	var configPath string
	var listen string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Session-gap detection and lock-order pipeline",
		Version: version,
		Long: `gaplocker watches the live tick stream for overnight session gaps and
opens offsetting positions against open client exposure when a gap
exceeds the configured point threshold.`,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the gap locker service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, listen)
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to YAML config")
	runCmd.Flags().StringVar(&listen, "listen", "", "ops HTTP listen address (overrides config)")

	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func run(configPath, listen string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	if cfg.DebugLogs {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Str("version", version).Msg("Starting gap locker")

	a, err := app.New(cfg, configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-reload:
				log.Info().Msg("SIGHUP received, reloading settings")
				a.Reload()
			case sig := <-stop:
				log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
				cancel()
				return
			}
		}
	}()

	a.Run(ctx)
	return nil
}
