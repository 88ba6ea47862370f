package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	bolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"

	"github.com/ics-guard/icsguard/internal/config"
	"github.com/ics-guard/icsguard/internal/controllerclient"
	"github.com/ics-guard/icsguard/internal/core"
	"github.com/ics-guard/icsguard/internal/eventbus"
	"github.com/ics-guard/icsguard/internal/flowstore"
	"github.com/ics-guard/icsguard/internal/httpapi"
	"github.com/ics-guard/icsguard/internal/inference"
	"github.com/ics-guard/icsguard/internal/logs"
	"github.com/ics-guard/icsguard/internal/observability"
	"github.com/ics-guard/icsguard/internal/policyengine"
)

var (
	configFile string
	listen     string
	logLevel   string
	logToFile  bool
	logDir     string

	version = "v0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "icsguardd",
		Short:   "ICS-Guard edge agent: flow detection and policy auto-response for industrial control networks",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path (not read; configuration comes from environment variables and flags)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Enable logging to file")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Log directory (overrides config)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ICS-Guard agent",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVarP(&listen, "listen", "l", "", "HTTP listen address (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = runServe

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-to-file") {
		cfg.Log.ToFile = logToFile
	}
	if logDir != "" {
		cfg.Log.Dir = logDir
	}

	logger, err := logs.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting icsguardd",
		zap.String("version", version),
		zap.String("controller_base_url", cfg.Controller.BaseURL),
		zap.Bool("controller_ws_enabled", cfg.Controller.EnableWS))

	store, err := flowstore.Open(cfg.Storage.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("failed to open flow store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && !errors.Is(cerr, bolterrors.ErrDatabaseNotOpen) {
			logger.Warn("error closing flow store", zap.Error(cerr))
		}
	}()

	artifacts, err := inference.LoadArtifacts(cfg.Model.Dir, cfg.Model.ModelFile, cfg.Model.FeaturesFile, cfg.Model.ThresholdsFile)
	if err != nil {
		logger.Warn("classifier artifacts not loaded, falling back to heuristics only", zap.Error(err))
		artifacts = &inference.Artifacts{Thresholds: inference.DefaultThresholds()}
	}
	applyConfiguredThresholds(artifacts, cfg.Thresholds)
	inferenceSvc := inference.NewService(artifacts, logger)

	policies := policyengine.New()
	controller := controllerclient.New(cfg.Controller.BaseURL, cfg.Controller.ClientID, cfg.Controller.ClientSecret, logger)

	cache := eventbus.NewCache(cfg.EventCacheSize)
	uiStream := eventbus.NewUIStream(logger)
	bus := eventbus.NewClient(cfg.Controller.WSBaseURL, logger)

	app := core.New(store, inferenceSvc, policies, controller, cache, uiStream, bus, logger)
	bus.RegisterHandler(eventbus.EventNetworkStatusUpdate, app.IngestControllerEvent)
	bus.RegisterHandler(eventbus.EventNodeMetricsUpdate, app.IngestControllerEvent)
	bus.RegisterHandler(eventbus.EventTrafficAnomaly, app.IngestControllerEvent)
	bus.RegisterHandler(eventbus.EventHoneypotInteraction, app.IngestControllerEvent)
	bus.RegisterHandler(eventbus.EventTopologyChange, app.IngestControllerEvent)
	bus.RegisterHandler(eventbus.EventFlowUpdate, app.IngestControllerEvent)

	metrics := observability.NewMetricsManager(logger.Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.Pipeline.Start(ctx)
	defer app.Pipeline.Stop()

	if cfg.Controller.EnableWS {
		if err := bus.Start(ctx); err != nil {
			return fmt.Errorf("failed to start event bus client: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			_ = bus.Stop(stopCtx)
		}()
	}

	mux := http.NewServeMux()
	apiServer := httpapi.NewServer(app, uiStream, logger)
	mux.Handle("/", apiServer)
	mux.Handle("/metrics", metrics.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.UI.Host, cfg.UI.Port)
	if listen != "" {
		addr = listen
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server exited unexpectedly", zap.Error(err))
			return err
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error during http server shutdown", zap.Error(err))
	}

	return nil
}

// applyConfiguredThresholds uses the configured thresholds (defaults plus
// any THRESHOLD_* environment variables) when no thresholds file was
// loaded. When one was loaded, only the THRESHOLD_* variables that are set
// override its values, so an operator can tune decision bands without
// shipping a new thresholds.json.
func applyConfiguredThresholds(a *inference.Artifacts, t *config.ThresholdsConfig) {
	if t == nil {
		return
	}
	if a.Thresholds == (inference.Thresholds{}) {
		a.Thresholds = inference.Thresholds{
			Alert:    t.Alert,
			Throttle: t.Throttle,
			Block:    t.Block,
			Redirect: t.Redirect,
		}
		return
	}
	if os.Getenv("THRESHOLD_ALERT") != "" {
		a.Thresholds.Alert = t.Alert
	}
	if os.Getenv("THRESHOLD_THROTTLE") != "" {
		a.Thresholds.Throttle = t.Throttle
	}
	if os.Getenv("THRESHOLD_BLOCK") != "" {
		a.Thresholds.Block = t.Block
	}
	if os.Getenv("THRESHOLD_REDIRECT") != "" {
		a.Thresholds.Redirect = t.Redirect
	}
}
