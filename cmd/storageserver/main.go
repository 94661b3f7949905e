package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"

	"github.com/winton/unstorage/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	if *configPath == "" {
		return fmt.Errorf("configuration file is required")
	}

	// Load configuration
	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %v", err)
	}

	level := hclog.Info
	if cfg.LogLevel != "" {
		level = hclog.LevelFromString(cfg.LogLevel)
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "storageserver",
		Level:  level,
		Output: os.Stderr,
	})
	if level > hclog.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// Set up metrics
	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	metricsConf := metrics.DefaultConfig("unstorage")
	metricsConf.EnableHostname = false
	if _, err := metrics.NewGlobal(metricsConf, inm); err != nil {
		return fmt.Errorf("failed to set up metrics: %w", err)
	}

	s, err := server.NewServer(context.Background(), cfg, logger, inm)
	if err != nil {
		return fmt.Errorf("failed to create server: %v", err)
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %v", cfg.Addr, err)
	}

	// Start HTTP server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(lis)
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve: %v", err)
		}
	}

	// Graceful shutdown
	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to gracefully shutdown server: %v", err)
	}
	return nil
}
