package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/predict-dispatch/internal/api/handler"
	"github.com/cuongbtq/predict-dispatch/internal/api/router"
	"github.com/cuongbtq/predict-dispatch/internal/bootstrap"
	"github.com/cuongbtq/predict-dispatch/internal/config"
	"github.com/cuongbtq/predict-dispatch/internal/dispatcher"
	"github.com/cuongbtq/predict-dispatch/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	backends, err := bootstrap.Open(cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	d, err := bootstrap.NewDispatcher(cfg, backends, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, d, backends)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		slog.Duration("dispatch_deadline", cfg.Dispatch.Deadline),
	)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	if cfg.Worker.Embedded {
		if err := startEmbeddedWorkers(gctx, g, cfg, backends, appLogger.Logger); err != nil {
			return err
		}
	}

	g.Go(func() error {
		backends.RunSweeper(gctx, &cfg.Results)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown",
				slog.Any("error", err),
			)
			return err
		}
		return nil
	})

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.Bool("embedded_workers", cfg.Worker.Embedded),
	)

	if err := g.Wait(); err != nil {
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// startEmbeddedWorkers runs workers in this process, required by the memory backends
func startEmbeddedWorkers(ctx context.Context, g *errgroup.Group, cfg *config.Config, backends *bootstrap.Backends, logger *slog.Logger) error {
	processor, err := bootstrap.NewProcessor(&cfg.Inference)
	if err != nil {
		return fmt.Errorf("failed to initialize model: %w", err)
	}

	w, err := bootstrap.NewWorker(cfg, backends, processor, logger)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	g.Go(func() error {
		return w.Start(ctx)
	})

	g.Go(func() error {
		w.RunHeartbeat(ctx, cfg.Worker.HeartbeatInterval, nil)
		return nil
	})

	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, d *dispatcher.Dispatcher, backends *bootstrap.Backends) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	checks := make([]handler.HealthCheck, 0, len(backends.Checks))
	for _, c := range backends.Checks {
		checks = append(checks, handler.HealthCheck{Name: c.Name, Check: c.Fn})
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:       logger,
		Dispatcher:   d,
		HealthChecks: checks,
		ServiceName:  cfg.App.Name,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
