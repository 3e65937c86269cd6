package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beacon/config"
	"beacon/internal/api"
	"beacon/internal/blink"
	"beacon/internal/ewelink"
	"beacon/internal/logging"
	"beacon/internal/storage/sqlite"
)

const (
	shutdownTimeout   = 10 * time.Second
	defaultConfigPath = "config.json"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	useEnv := flag.Bool("env", false, "Load configuration from environment variables")
	logFormat := flag.String("log-format", "json", "Log format: json or text")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	// Load configuration
	var cfg *config.Config
	var err error

	if *useEnv {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load(*configPath)
	}

	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(logging.LoggerConfig{
		Format: *logFormat,
		Level:  logging.ParseLevel(*logLevel),
	})

	// Initialize the credential store
	logger.Info("Opening credential store", "path", cfg.Database.Path)
	db, err := sqlite.New(cfg.Database.Path, cfg.EWeLink.AppID)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Wire the eWeLink client stack
	identity := ewelink.AppIdentity{
		AppID:     cfg.EWeLink.AppID,
		AppSecret: cfg.EWeLink.AppSecret,
	}
	resolver := ewelink.NewResolver(regionOverrides(cfg))
	exchanger := ewelink.NewExchanger(identity, resolver, db)
	client := ewelink.NewClient(identity, resolver, db, exchanger, ewelink.Region(cfg.EWeLink.Region))

	dispatcher := logging.NewDispatcherLogger(client, logger)
	sequencer := blink.NewSequencer(dispatcher, nil,
		time.Duration(cfg.Blink.StepDelayMS)*time.Millisecond, logger)

	// Initialize REST API
	router := api.NewRouter(api.RouterConfig{
		Dispatcher:    dispatcher,
		Sequencer:     sequencer,
		Exchanger:     exchanger,
		TokenStorage:  db,
		AlertDeviceID: cfg.Blink.AlertDeviceID,
		RedirectURL:   cfg.EWeLink.RedirectURL,
		APIKey:        cfg.Security.APIKey,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // a blink sequence runs within a request
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Starting graceful shutdown", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		logger.Info("Graceful shutdown complete")
	}

	return nil
}

// regionOverrides converts the config's base URL overrides to resolver form.
func regionOverrides(cfg *config.Config) map[ewelink.Region]string {
	if len(cfg.EWeLink.BaseURLs) == 0 {
		return nil
	}
	overrides := make(map[ewelink.Region]string, len(cfg.EWeLink.BaseURLs))
	for region, url := range cfg.EWeLink.BaseURLs {
		overrides[ewelink.Region(region)] = url
	}
	return overrides
}
