package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/propnest/propnest-backend/internal/api"
	"github.com/propnest/propnest-backend/internal/backend"
	"github.com/propnest/propnest-backend/internal/service"
	"github.com/propnest/propnest-backend/pkg/config"
	"github.com/propnest/propnest-backend/pkg/logging"
	"github.com/propnest/propnest-backend/pkg/middleware"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging, "propnest-backend", cfg.Server.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting PropNest Backend Server",
		zap.String("version", version),
		zap.String("build_time", buildTime),
	)

	if cfg.Sentry.Enabled {
		if err := initSentry(cfg); err != nil {
			logger.Fatal("Failed to initialize Sentry", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	if len(cfg.JWT.Secret) < service.MinSigningSecretLength {
		// Not fatal: the OTP flows work without it, logins answer 500.
		logger.Error("JWT signing secret missing or too short; token issuance is disabled")
	}

	// Initialize storage backend
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := backend.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize storage backend", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	logger.Info("Storage backend initialized",
		zap.String("type", cfg.Storage.Type),
		zap.String("verification_store", cfg.EffectiveVerificationStore()),
	)

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Ping(ctx); err != nil {
		cancel()
		logger.Fatal("Failed to ping storage", zap.Error(err))
	}
	cancel()

	services := service.NewServices(store, cfg, logger)
	services.Start()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      api.NewRouter(cfg, services, store, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Public server listening", zap.String("address", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start public server", zap.Error(err))
		}
	}()

	// Start admin server on separate port (if configured)
	var adminSrv *http.Server
	if cfg.Server.AdminPort > 0 {
		adminToken := cfg.Server.AdminToken
		if adminToken == "" {
			adminToken, err = middleware.GenerateAdminToken()
			if err != nil {
				logger.Fatal("Failed to generate admin token", zap.Error(err))
			}
			logger.Info("Generated admin API token (set PROPNEST_SERVER_ADMIN_TOKEN to use a fixed token)",
				zap.String("token", adminToken))
		}

		adminSrv = &http.Server{
			Addr:         cfg.Server.AdminAddress(),
			Handler:      api.NewAdminRouter(services, store, adminToken, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info("Admin server listening", zap.String("address", cfg.Server.AdminAddress()))
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("Failed to start admin server", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Public server forced to shutdown", zap.Error(err))
	}
	if adminSrv != nil {
		if err := adminSrv.Shutdown(ctx); err != nil {
			logger.Error("Admin server forced to shutdown", zap.Error(err))
		}
	}

	// Queued code deliveries get the rest of the shutdown window.
	services.Stop(ctx)

	logger.Info("Server exited")
}

func initSentry(cfg *config.Config) error {
	environment := cfg.Sentry.Environment
	if environment == "" {
		environment = cfg.Server.Environment
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		Environment:      environment,
		Release:          "propnest-backend@" + version,
		EnableTracing:    cfg.Sentry.TracesSampleRate > 0,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		AttachStacktrace: true,
	})
}
