package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grovehq/grove/pkg/api"
	"github.com/grovehq/grove/pkg/config"
	"github.com/grovehq/grove/pkg/engine"
	"github.com/grovehq/grove/pkg/log"
	"github.com/grovehq/grove/pkg/metrics"
	"github.com/grovehq/grove/pkg/profile"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "grove",
	Short: "Grove - Clustering engine for homogeneous node groups",
	Long: `Grove manages clusters of homogeneous nodes through profiles,
policies and a durable action queue. One binary runs one engine
instance; engines sharing a store cooperate as peers.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Grove version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.AddCommand(engineCmd)
}

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Run one engine instance",
	Long: `Run the REST API, dispatcher, worker pool and health manager of
one engine instance against the configured data directory.`,
	RunE: runEngine,
}

func init() {
	engineCmd.Flags().String("config", "", "Path to YAML configuration file")
	engineCmd.Flags().String("api-addr", "", "REST API listen address (overrides config)")
	engineCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
}

func runEngine(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("api-addr"); v != "" {
		cfg.APIAddr = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	metrics.SetVersion(Version)

	eng, err := engine.New(cfg, engine.Options{
		// The in-memory fake backs development deployments; production
		// builds register real driver types here.
		ProfileTypes: []*profile.Type{profile.FakeType()},
	})
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	if err := eng.Start(); err != nil {
		return err
	}

	apiServer := api.NewServer(eng.Service(), cfg)
	opsServer := api.NewOpsServer(cfg.MetricsAddr)
	errCh := make(chan error, 2)
	go func() { errCh <- apiServer.Start() }()
	go func() { errCh <- opsServer.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger := log.WithComponent("main")
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("API shutdown failed")
	}
	if err := opsServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Ops shutdown failed")
	}
	eng.Stop()
	return nil
}
