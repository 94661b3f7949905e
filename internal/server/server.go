package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"

	"github.com/winton/unstorage/internal/store"
)

// Server exposes a single storage driver over HTTP
type Server struct {
	storage *store.Storage
	server  *http.Server
	logger  hclog.Logger
}

// NewServer opens the configured driver and builds the HTTP server around
// it. sink may be nil, in which case /metrics is not served.
func NewServer(ctx context.Context, cfg Config, logger hclog.Logger, sink *metrics.InmemSink) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	driverName, _ := cfg.Store.DriverName()
	logger.Info("starting storage server", "addr", cfg.Addr, "driver", driverName, "base", cfg.Store.Base)

	driver, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s driver: %w", driverName, err)
	}
	storage, err := store.NewStorage(driver, store.WithLogger(logger.Named("storage")))
	if err != nil {
		driver.Close()
		return nil, err
	}

	handler := NewHandler(storage, HandlerOptions{
		Token:    cfg.Token,
		ReadOnly: cfg.ReadOnly,
		Sink:     sink,
		Logger:   logger.Named("http"),
	})

	return &Server{
		storage: storage,
		server: &http.Server{
			Addr:     cfg.Addr,
			Handler:  handler,
			ErrorLog: logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
		},
		logger: logger,
	}, nil
}

// Serve accepts connections on lis until Shutdown is called
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("listening", "addr", lis.Addr().String())
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// the driver
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %v", err)
	}
	if err := s.storage.Close(); err != nil {
		return fmt.Errorf("failed to close driver: %v", err)
	}
	return nil
}
