package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/IANDYI/progress-service/internal/adapters/handler"
	"github.com/IANDYI/progress-service/internal/adapters/middleware"
	"github.com/IANDYI/progress-service/internal/adapters/repository"
	"github.com/IANDYI/progress-service/internal/config"
	"github.com/IANDYI/progress-service/internal/core/domain"
	"github.com/IANDYI/progress-service/internal/core/ports"
	"github.com/IANDYI/progress-service/internal/core/services"
	"github.com/IANDYI/progress-service/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat, "progress-service")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	// Connect to database with retry logic
	db, err := config.ConnectDatabase(cfg.DatabaseURL, 5, 2*time.Second, zlog)
	if err != nil {
		zlog.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	registry := domain.DefaultRegistry()

	if cfg.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := config.MigrateSchema(migrateCtx, db, registry, zlog)
		cancel()
		if err != nil {
			zlog.Fatal("failed to migrate schema", zap.Error(err))
		}
	}

	// Initialize repositories
	sqlRepo := repository.NewSQLRepository(db, registry, zlog, repository.BreakerSettings{
		MaxRequests:   cfg.CircuitBreakerMaxRequests,
		Interval:      cfg.CircuitBreakerInterval,
		Timeout:       cfg.CircuitBreakerTimeout,
		OnStateChange: middleware.ObserveCircuitState,
	})

	// Refuse to serve against a schema that no longer matches the registry
	verifyCtx, verifyCancel := context.WithTimeout(context.Background(), 15*time.Second)
	err = sqlRepo.VerifySchema(verifyCtx)
	verifyCancel()
	if err != nil {
		zlog.Fatal("entry schema verification failed", zap.Error(err))
	}

	// Optional dashboard stats cache
	var statsCache ports.StatsCache
	var cachePinger handler.Pinger
	if cfg.RedisAddr != "" {
		redisCache := repository.NewRedisStatsCache(
			repository.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB),
			cfg.StatsCacheTTL,
		)
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisCache.Ping(pingCtx); err != nil {
			zlog.Warn("stats cache unreachable at startup, continuing", zap.Error(err))
		}
		pingCancel()
		statsCache = redisCache
		cachePinger = handler.PingFunc(redisCache.Ping)
	} else {
		zlog.Info("REDIS_ADDR not set, dashboard stats cache disabled")
	}

	// Optional alert publisher
	var alerts ports.AlertPublisher
	if cfg.RabbitMQURL != "" {
		publisher, err := repository.NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.AlertsQueueName, zlog)
		if err != nil {
			zlog.Fatal("failed to initialize RabbitMQ publisher", zap.Error(err))
		}
		defer publisher.Close()
		alerts = publisher
	} else {
		zlog.Info("RABBITMQ_URL not set, urgency alerts disabled")
	}

	// Initialize services
	validator := services.NewEntryValidator(registry, time.Now)
	backoff := services.DefaultBackoff()
	submissionService := services.NewSubmissionService(validator, sqlRepo, alerts, statsCache, zlog, services.SubmissionConfig{
		Timeout: cfg.SubmissionTimeout,
		Backoff: backoff,
	})
	queryService := services.NewQueryService(registry, sqlRepo, statsCache, zlog)

	// Queued submissions are consumed by every replica; RabbitMQ distributes
	// deliveries round-robin
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()
	if cfg.RabbitMQURL != "" {
		consumer, err := repository.NewEntryConsumer(cfg.RabbitMQURL, cfg.SubmissionsQueueName, submissionService, zlog)
		if err != nil {
			zlog.Fatal("failed to initialize RabbitMQ entry consumer", zap.Error(err))
		}
		defer consumer.Close()
		consumer.SetObserver(middleware.ObserveDelivery)
		consumer.SetSubmissionRecorder(middleware.RecordSubmission, middleware.RecordSubmissionFailure)
		if err := consumer.StartConsuming(consumerCtx); err != nil {
			zlog.Error("entry consumer failed to start", zap.Error(err))
		}
	}

	// Initialize handlers
	entryHandler := handler.NewEntryHandler(registry, submissionService, queryService, zlog)
	healthHandler := handler.NewHealthHandler(db, cachePinger, zlog)

	// Initialize JWT middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTPublicKey, zlog)
	defer authMiddleware.Stop()
	clinical := []string{middleware.RoleClinician, middleware.RoleAdmin}

	// Setup HTTP router
	mux := http.NewServeMux()

	// Health endpoints (OpenShift compatible, no auth required)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.HandleFunc("GET /health/ready", healthHandler.Ready)
	mux.HandleFunc("GET /health/live", healthHandler.Live)

	// Submissions - any authenticated user
	mux.HandleFunc("POST /progress/entries", authMiddleware.RequireAuth(entryHandler.CreateEntry))
	mux.HandleFunc("POST /progress/entries/{condition}", authMiddleware.RequireAuth(entryHandler.CreateConditionEntry))
	mux.HandleFunc("GET /progress/conditions", authMiddleware.RequireAuth(entryHandler.Conditions))
	mux.HandleFunc("GET /progress/entries/{condition}/check/{patient_id}/{date}", authMiddleware.RequireAuth(entryHandler.CheckEntry))

	// Clinical views - CLINICIAN and ADMIN
	mux.HandleFunc("GET /progress/entries", authMiddleware.RequireAnyRole(clinical, entryHandler.ListEntries))
	mux.HandleFunc("GET /progress/entries/{condition}/latest", authMiddleware.RequireAnyRole(clinical, entryHandler.LatestPerPatient))
	mux.HandleFunc("GET /progress/entries/{condition}/{id}", authMiddleware.RequireAnyRole(clinical, entryHandler.GetEntry))
	mux.HandleFunc("GET /progress/patients/{patient_id}/history", authMiddleware.RequireAnyRole(clinical, entryHandler.PatientHistory))
	mux.HandleFunc("GET /progress/dashboard-stats", authMiddleware.RequireAnyRole(clinical, entryHandler.DashboardStats))

	// Wrap mux with metrics middleware to track all HTTP requests
	router := middleware.MetricsMiddleware(mux)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		zlog.Info("starting progress service", zap.String("port", cfg.Port), zap.Strings("conditions", conditionNames(registry)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed to start", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down server")

	// Cancel consumer context first to stop processing new messages
	consumerCancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server forced to shutdown", zap.Error(err))
	}

	// Let in-flight alert publications finish before the publisher closes
	submissionService.Wait()

	zlog.Info("server exited")
}

func conditionNames(registry *domain.Registry) []string {
	var names []string
	for _, ct := range registry.Conditions() {
		names = append(names, string(ct))
	}
	return names
}
