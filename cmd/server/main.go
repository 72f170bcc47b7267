package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/nodebox/internal/infrastructure/config"
	"github.com/GriffinCanCode/nodebox/internal/infrastructure/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags override environment
	flag.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "Server port")
	flag.BoolVar(&cfg.Logging.Development, "dev", cfg.Logging.Development, "Development logging")
	flag.StringVar(&cfg.Guest.Mode, "mode", cfg.Guest.Mode, "Guest entry mode (direct|bootstrap)")
	flag.StringVar(&cfg.Remote.BaseURL, "remote", cfg.Remote.BaseURL, "Base URL for VFS fallback fetches")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case <-sigChan:
		log.Println("Shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}
}
