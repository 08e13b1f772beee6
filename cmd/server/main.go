package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termbroker/internal/infrastructure/config"
	"github.com/GriffinCanCode/termbroker/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termbroker/internal/infrastructure/server"
)

func main() {
	configPath := flag.String("config", "", "Config file (YAML or TOML); defaults to $CONFIG_FILE")
	port := flag.String("port", "", "Server port (overrides config)")
	host := flag.String("host", "", "Listen host (overrides config)")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	srv, err := server.NewServer(cfg, server.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := *configPath
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		apply := func(next *config.Config) {
			if *dev {
				next.Logging.Level = "debug"
			}
			srv.ApplyConfig(next)
		}
		go func() {
			if err := config.Watch(ctx, path, logger.Logger, apply); err != nil {
				logger.Warn("Config watch stopped", zap.Error(err))
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully...")
		if err := srv.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		srv.Close()
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}
}
