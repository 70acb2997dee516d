// Package app provides the application lifecycle of the catalog service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	grpcapi "github.com/arkilian/catalog/internal/api/grpc"
	httpapi "github.com/arkilian/catalog/internal/api/http"
	"github.com/arkilian/catalog/internal/catalog"
	"github.com/arkilian/catalog/internal/config"
	"github.com/arkilian/catalog/internal/engine"
	"github.com/arkilian/catalog/internal/kv"
	"github.com/arkilian/catalog/internal/metrics"
	"github.com/arkilian/catalog/internal/server"
)

// App manages the lifecycle of one catalog node.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics
	shutdown *server.ShutdownManager

	// Shared resources
	backend kv.Backend
	engine  engine.TableEngine
	manager *catalog.Manager

	systemTables []catalog.RegisterSystemTableRequest

	// API servers
	grpcServer   *grpc.Server
	grpcListener net.Listener
	httpServer   *http.Server
	httpListener net.Listener

	// Lifecycle
	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// Option configures an App.
type Option func(*App)

// WithSystemTables queues system tables to materialize during bootstrap.
func WithSystemTables(reqs ...catalog.RegisterSystemTableRequest) Option {
	return func(a *App) {
		a.systemTables = append(a.systemTables, reqs...)
	}
}

// New creates a new App with the given configuration.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("node_id", cfg.NodeID))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics.New(registry, cfg.NodeID),
		shutdown: server.NewShutdownManager(server.DefaultShutdownConfig(), logger),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Manager returns the catalog manager. It is nil before Bootstrap.
func (a *App) Manager() *catalog.Manager { return a.manager }

// Registry returns the app's Prometheus registry.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Bootstrap opens the backend and engine and starts the catalog manager,
// without serving any API.
func (a *App) Bootstrap(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("app is already running")
	}

	if err := a.initSharedResources(ctx); err != nil {
		a.shutdown.Shutdown(context.Background(), "bootstrap failed")
		return err
	}
	a.started = true
	return nil
}

// Start bootstraps the catalog and starts the configured API servers.
func (a *App) Start(ctx context.Context) error {
	if err := a.Bootstrap(ctx); err != nil {
		return err
	}

	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			a.Stop(context.Background())
			return fmt.Errorf("failed to start gRPC server: %w", err)
		}
	}
	if a.cfg.HTTP.Enabled {
		if err := a.startHTTP(); err != nil {
			a.Stop(context.Background())
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	a.logger.Info("catalogd started",
		zap.String("backend", a.cfg.Backend.Type),
		zap.String("engine", a.cfg.Engine.Type))
	return nil
}

// initSharedResources opens the backend and engine and runs the catalog bootstrap.
func (a *App) initSharedResources(ctx context.Context) error {
	backend, err := a.openBackend(ctx)
	if err != nil {
		return fmt.Errorf("failed to open %s backend: %w", a.cfg.Backend.Type, err)
	}
	a.shutdown.RegisterCloser("backend", backend)
	a.backend = kv.Instrument(backend, a.cfg.Backend.Type, a.metrics)

	switch a.cfg.Engine.Type {
	case config.EngineMemory:
		a.engine = engine.NewMemoryEngine()
	case config.EngineSQLite:
		a.engine, err = engine.NewSQLiteEngine(a.cfg.Engine.Path, a.logger.Named("engine"))
		if err != nil {
			return fmt.Errorf("failed to open sqlite engine: %w", err)
		}
	default:
		return fmt.Errorf("unsupported engine type: %s", a.cfg.Engine.Type)
	}
	a.shutdown.RegisterCloser("engine", a.engine)

	opts := []catalog.Option{
		catalog.WithLogger(a.logger.Named("catalog")),
		catalog.WithMetrics(a.metrics),
	}
	if a.cfg.Backend.ConditionalWrites {
		opts = append(opts, catalog.WithConditionalWrites())
	}
	a.manager, err = catalog.NewManager(a.engine, a.cfg.NodeID, a.backend, opts...)
	if err != nil {
		return err
	}

	for _, req := range a.systemTables {
		if err := a.manager.RegisterSystemTable(ctx, req); err != nil {
			return err
		}
	}
	if err := a.manager.Start(ctx); err != nil {
		return fmt.Errorf("catalog bootstrap failed: %w", err)
	}
	return nil
}

// openBackend builds the configured KV backend.
func (a *App) openBackend(ctx context.Context) (kv.Backend, error) {
	switch a.cfg.Backend.Type {
	case config.BackendMemory:
		return kv.NewMemoryBackend(), nil
	case config.BackendSQLite:
		return kv.NewSQLiteBackend(a.cfg.Backend.Path)
	case config.BackendPebble:
		opts := kv.DefaultPebbleOptions()
		if a.cfg.Backend.Pebble.CacheSizeMB > 0 {
			opts.CacheSizeMB = a.cfg.Backend.Pebble.CacheSizeMB
		}
		opts.Sync = a.cfg.Backend.Pebble.Sync
		opts.Logger = a.logger
		return kv.NewPebbleBackend(a.cfg.Backend.Path, opts)
	case config.BackendS3:
		s3Cfg := kv.DefaultS3Config()
		s3Cfg.Bucket = a.cfg.Backend.S3.Bucket
		if a.cfg.Backend.S3.Prefix != "" {
			s3Cfg.Prefix = a.cfg.Backend.S3.Prefix
		}
		if a.cfg.Backend.S3.Region != "" {
			s3Cfg.Region = a.cfg.Backend.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Backend.S3.Endpoint
		s3Cfg.UsePathStyle = a.cfg.Backend.S3.UsePathStyle
		return kv.NewS3Backend(ctx, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", a.cfg.Backend.Type)
	}
}

func (a *App) startGRPC() error {
	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return err
	}
	a.grpcListener = lis

	a.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(
		server.ShutdownUnaryInterceptor(a.shutdown),
		grpcapi.UnaryLoggingInterceptor(a.logger.Named("grpc")),
	))
	grpcapi.RegisterCatalogServiceServer(a.grpcServer, grpcapi.NewCatalogServer(a.manager, a.logger.Named("grpc")))
	a.shutdown.RegisterCloser("grpc", server.GRPCServerCloser{Server: a.grpcServer})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := a.grpcServer.Serve(lis); err != nil {
			a.logger.Error("gRPC server error", zap.Error(err))
		}
	}()
	return nil
}

func (a *App) startHTTP() error {
	lis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return err
	}
	a.httpListener = lis

	handler := httpapi.NewRouter(httpapi.NewCatalogHandler(a.manager, a.logger.Named("http")), a.registry)
	a.httpServer = &http.Server{
		Handler:      server.ShutdownMiddleware(a.shutdown)(handler),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.shutdown.RegisterCloser("http", server.HTTPServerCloser{Server: a.httpServer})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("HTTP server listening", zap.String("addr", lis.Addr().String()))
		if err := a.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// GRPCAddr returns the bound gRPC address, or "" if gRPC is not serving.
func (a *App) GRPCAddr() string {
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}

// HTTPAddr returns the bound HTTP address, or "" if HTTP is not serving.
func (a *App) HTTPAddr() string {
	if a.httpListener == nil {
		return ""
	}
	return a.httpListener.Addr().String()
}

// Stop gracefully stops all services and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	a.mu.Unlock()

	err := a.shutdown.Shutdown(ctx, "stop requested")
	a.wg.Wait()
	a.logger.Info("catalogd stopped")
	return err
}

// WaitForShutdown blocks until a shutdown signal is received or ctx ends.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	a.wg.Wait()
	return err
}
