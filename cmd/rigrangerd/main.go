package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rigranger/rigrangerd/pkg/config"
	"github.com/rigranger/rigrangerd/pkg/logging"
)

var (
	configPath = flag.String("config", "config.yaml", "Configuration file path")
	watch      = flag.Bool("watch", false, "Reload when the configuration file changes")
	version    = flag.Bool("version", false, "Show version information")
)

const (
	Version = "0.1.0-dev"
	Build   = "development"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("rigrangerd version %s (%s)\n", Version, Build)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logging system
	if err := logging.InitGlobal(cfg.LoggingOptions()); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseGlobal()

	logging.Info("main", fmt.Sprintf("rigrangerd version %s starting...", Version))
	logging.Info("main", fmt.Sprintf("Radio: model %d on %s (rigctld port %d)",
		cfg.Radio.Model, cfg.Radio.Device, cfg.Radio.Port))

	daemon, err := NewRigRangerDaemon(cfg, *configPath, *watch)
	if err != nil {
		logging.Error("main", fmt.Sprintf("Failed to create daemon: %v", err))
		os.Exit(1)
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := daemon.Start(); err != nil {
		logging.Error("main", fmt.Sprintf("Failed to start daemon: %v", err))
		os.Exit(1)
	}

	logging.Info("main", "rigrangerd started successfully")

	// Wait for shutdown signal
	<-sigChan
	logging.Info("main", "Shutting down...")

	if err := daemon.Stop(); err != nil {
		logging.Error("main", fmt.Sprintf("Error during shutdown: %v", err))
	}

	logging.Info("main", "rigrangerd stopped")
}
