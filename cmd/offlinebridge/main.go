package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/toolbridge-offline/internal/config"
	"github.com/erauner12/toolbridge-offline/internal/connectivity"
	"github.com/erauner12/toolbridge-offline/internal/pipeline"
	"github.com/erauner12/toolbridge-offline/internal/statusapi"
	"github.com/erauner12/toolbridge-offline/internal/store"
	"github.com/erauner12/toolbridge-offline/internal/syncer"
)

const version = "0.1.0"

var (
	configPath  = flag.String("config", "", "Path to configuration file (JSON)")
	showVersion = flag.Bool("version", false, "Show version information")
	apiBaseURL  = flag.String("api-base-url", "", "Remote REST API base URL (overrides config)")
	listenAddr  = flag.String("listen", "", "Local status API listen address (overrides config)")
	dataDir     = flag.String("data-dir", "", "Durable store directory (overrides config)")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	debug       = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("offlinebridge version %s\n", version)
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Str("apiBaseUrl", cfg.APIBaseURL).
		Str("listen", cfg.ListenAddr).
		Str("dataDir", cfg.DataDir).
		Msg("starting offline sync bridge")

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("offline sync bridge failed")
		os.Exit(1)
	}

	log.Info().Msg("offline sync bridge stopped")
}

// loadConfig loads the configuration from file and environment, then
// applies CLI flag overrides before validating
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	if *apiBaseURL != "" {
		cfg.APIBaseURL = *apiBaseURL
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *debug {
		cfg.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setupLogging configures zerolog from config
func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Str("service", "offlinebridge").Logger()

	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
}

// run wires the components and blocks until shutdown
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.DataDir, log.With().Str("component", "store").Logger())
	if err != nil {
		return err
	}
	defer st.Close()

	monitor := connectivity.NewMonitor(
		cfg.APIBaseURL+cfg.ProbePath,
		log.With().Str("component", "connectivity").Logger(),
		connectivity.WithProbeTimeout(cfg.ProbeTimeout()),
		connectivity.WithInterval(cfg.ProbeInterval()),
	)

	// No external background execution context is attached in the
	// standalone daemon; the orchestrator drains inline.
	registrar := syncer.ManualRegistrar{}

	var orch *syncer.Orchestrator

	client, err := pipeline.NewClient(ctx, cfg.APIBaseURL, st, monitor,
		log.With().Str("component", "pipeline").Logger(),
		pipeline.WithToken(cfg.AuthToken),
		pipeline.WithReadTimeout(cfg.ReadTimeout()),
		pipeline.WithWriteTimeout(cfg.WriteTimeout()),
		pipeline.WithSyncNotifier(func() {
			if orch != nil {
				orch.Kick()
			}
		}),
	)
	if err != nil {
		return err
	}

	orch = syncer.New(st, client, monitor, registrar,
		log.With().Str("component", "syncer").Logger())

	// Reconnecting is the primary drain trigger
	monitor.OnOnline(orch.Kick)

	go monitor.Run(ctx)
	go orch.Run(ctx)

	srv := &statusapi.Server{Monitor: monitor, Orchestrator: orch}
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("starting status API")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("status API failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status API shutdown error")
	}

	return nil
}
