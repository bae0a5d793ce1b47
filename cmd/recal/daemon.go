package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aveline-ai/recal/internal/api"
	"github.com/aveline-ai/recal/internal/audit"
	"github.com/aveline-ai/recal/internal/chain"
	"github.com/aveline-ai/recal/internal/config"
	"github.com/aveline-ai/recal/internal/generator"
	"github.com/aveline-ai/recal/internal/generator/mock"
	"github.com/aveline-ai/recal/internal/monitor"
	"github.com/aveline-ai/recal/internal/progress"
	"github.com/aveline-ai/recal/internal/rebalance"
	"github.com/aveline-ai/recal/internal/store"
)

var (
	listenAddr string
	dbPath     string
	noMonitor  bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the recal daemon",
	Long:  `Starts the recal daemon which provides the HTTP API and runs the background drift monitor.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
	daemonCmd.Flags().BoolVar(&noMonitor, "no-monitor", false, "Disable the background drift monitor")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Println("Starting recal daemon...")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Addr = listenAddr
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if noMonitor {
		cfg.Monitor.Enabled = false
	}

	// Initialize store
	s, err := store.New(cfg.Store.Path)
	if err != nil {
		return err
	}

	// Initialize components
	recorder := audit.NewRecorder(s)
	versionChain := chain.New(s, recorder)
	aggregator := progress.New(s)

	gen, err := buildGenerator(cfg.Generator)
	if err != nil {
		s.Close()
		return err
	}
	log.Printf("Generator: %s", gen.Name())

	orch := rebalance.New(s, versionChain, aggregator, gen, recorder, cfg.Generator.Timeout, cfg.Monitor.LockTTL)

	// Create service and server
	service := api.NewService(s, versionChain, aggregator, orch, recorder, cfg.Rules)
	server := api.NewServer(service, cfg.Server.Addr)

	// Create and start the drift monitor
	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		mon = monitor.New(s, versionChain, aggregator, orch, cfg.Rules, cfg.Monitor.Interval)
		mon.Start()
		defer mon.Stop()
	} else {
		log.Println("Drift monitor disabled")
	}

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			s.Close()
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Closing database connection...")
	if err := s.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}

// buildGenerator constructs the configured generation client.
func buildGenerator(cfg config.GeneratorConfig) (generator.Generator, error) {
	switch cfg.Provider {
	case "anthropic":
		apiKey := os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("generator: %s is not set", cfg.APIKeyEnv)
		}
		return generator.NewAnthropicGenerator(generator.AnthropicConfig{
			APIKey:  apiKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		}), nil
	case "mock":
		// Scripted generator for local development without an API key.
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("generator: unknown provider %q", cfg.Provider)
	}
}
