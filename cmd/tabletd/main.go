package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nautical-db/tablet/api"
	"github.com/nautical-db/tablet/pkg/config"
	"github.com/nautical-db/tablet/pkg/events"
	"github.com/nautical-db/tablet/pkg/lob"
	"github.com/nautical-db/tablet/pkg/log"
	"github.com/nautical-db/tablet/pkg/memtable"
	"github.com/nautical-db/tablet/pkg/metrics"
	"github.com/nautical-db/tablet/pkg/registry"
	tabletslog "github.com/nautical-db/tablet/pkg/slog"
	"github.com/nautical-db/tablet/pkg/tablet"
	"github.com/nautical-db/tablet/pkg/tabletservice"
	"github.com/nautical-db/tablet/pkg/types"
)

var (
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
	Use:     "tabletd",
	Short:   "tabletd serves one log stream's tablets over gRPC",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"tabletd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tablet service and its gRPC/HTTP surfaces",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to a tabletd config YAML file")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	metrics.SetVersion(Version)

	svc, cleanup, err := buildService(cfg)
	if err != nil {
		metrics.RegisterComponent("registry", false, err.Error())
		return fmt.Errorf("building tablet service: %w", err)
	}
	defer cleanup()
	metrics.RegisterComponent("registry", true, "")
	metrics.RegisterComponent("slog", true, "")

	collector := metrics.NewCollector(svc)
	collector.Start()
	defer collector.Stop()

	apiSrv := api.NewServer(svc)
	healthSrv := api.NewHealthServer(svc)

	errCh := make(chan error, 2)
	go func() {
		log.Logger.Info().Str("addr", cfg.APIAddr).Msg("starting gRPC server")
		metrics.RegisterComponent("api", true, "")
		errCh <- apiSrv.Start(cfg.APIAddr)
	}()
	go func() {
		log.Logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting health/metrics server")
		errCh <- healthSrv.Start(cfg.MetricsAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
		apiSrv.Stop()
		return nil
	}
}

// buildService wires components A through E together the way spec.md's
// startup path does: open the durable registry index, rebuild the
// in-memory registry from it, open the SLOG writer, then hand both to a
// Service. cleanup closes the SLOG writer and durable index in reverse
// order.
func buildService(cfg config.Config) (*tabletservice.Service, func(), error) {
	durable, err := registry.OpenDurable(cfg.RegistryDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening durable registry index: %w", err)
	}

	reg := registry.New(durable)
	recovered, err := durable.LoadAll(func(types.TabletKey) tablet.MemtableManager {
		return memtable.NewManager()
	})
	if err != nil {
		durable.Close()
		return nil, nil, fmt.Errorf("rebuilding registry from durable index: %w", err)
	}
	if len(recovered) > 0 {
		if err := reg.CreateBatch(recovered); err != nil {
			durable.Close()
			return nil, nil, fmt.Errorf("publishing recovered tablets: %w", err)
		}
		log.Logger.Info().Int("count", len(recovered)).Msg("recovered tablets from durable index")
	}

	w, err := tabletslog.Open(filepath.Join(cfg.SlogDir, "slog.db"))
	if err != nil {
		durable.Close()
		return nil, nil, fmt.Errorf("opening SLOG writer: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	svc := tabletservice.New(types.LogStreamID(cfg.LogStreamID), reg, w, lob.NewManager(), broker)
	svc.DefensiveChecks = cfg.EnableDefensiveCheck

	cleanup := func() {
		broker.Stop()
		w.Close()
		durable.Close()
	}
	return svc, cleanup, nil
}
