package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"catalog-import-service/internal/clients"
	"catalog-import-service/internal/config"
	"catalog-import-service/internal/events"
	"catalog-import-service/internal/handlers"
	"catalog-import-service/internal/jobs"
	"catalog-import-service/internal/metrics"
	"catalog-import-service/internal/middleware"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/realtime"
	"catalog-import-service/internal/repository"
	"catalog-import-service/internal/services"
)

// @title Catalog Import API
// @version 1.0.0
// @description Bulk product import with field-mapping resolution for Tesseract Hub
// @host localhost:8095
// @BasePath /api/v1

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using system environment variables")
	}

	cfg := config.Load()

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	if cfg.Environment == "production" {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}

	// Initialize Redis client (optional - mapping cache and events stay local without it)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warnf("Failed to parse Redis URL: %v. Continuing without Redis.", err)
		} else {
			redisClient = redis.NewClient(opt)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := redisClient.Ping(ctx).Err(); err != nil {
				logger.Warnf("Failed to connect to Redis: %v. Continuing without Redis.", err)
				redisClient.Close()
				redisClient = nil
			} else {
				logger.Info("Connected to Redis")
			}
			cancel()
		}
	} else {
		logger.Info("REDIS_URL not configured, mapping cache reads go to the database")
	}

	// Initialize NATS (optional - lifecycle events and approval decisions over HTTP only without it)
	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = events.Connect(cfg.NATSURL, "catalog-import-service")
		if err != nil {
			logger.Warnf("Failed to connect to NATS: %v. Events will not be published.", err)
			natsConn = nil
		} else {
			logger.Info("Connected to NATS")
		}
	} else {
		logger.Info("NATS_URL not configured, event publishing disabled")
	}

	// Initialize repositories
	sessionRepo := repository.NewSessionRepository(db)
	importRepo := repository.NewImportRepository(db)
	mappingCacheRepo := repository.NewMappingCacheRepository(db, redisClient)

	// Realtime progress
	hub := realtime.NewHub(logger)
	var bus realtime.Bus
	if redisClient != nil {
		bus, err = realtime.NewRedisBus(redisClient, realtime.DefaultBusChannel, logger)
		if err != nil {
			logger.Warnf("Failed to create event bus: %v. Events stay on this replica.", err)
			bus = nil
		}
	}
	broadcaster := realtime.NewBroadcaster(hub, bus, logger)
	busCtx, busCancel := context.WithCancel(context.Background())
	if err := broadcaster.Start(busCtx); err != nil {
		logger.Warnf("Failed to start event bus forwarder: %v", err)
	}

	// Resolver
	schema := models.ProductTargetSchema()
	var extraRules []services.SemanticRule
	if cfg.ResolverRulesFile != "" {
		extraRules, err = services.LoadSemanticRules(cfg.ResolverRulesFile, schema)
		if err != nil {
			logger.Fatalf("Failed to load resolver rules: %v", err)
		}
		logger.Infof("Loaded %d resolver rules from %s", len(extraRules), cfg.ResolverRulesFile)
	}

	var inference services.InferenceClient
	if cfg.MLServiceURL != "" {
		inference = clients.NewInferenceClient(cfg.MLServiceURL)
	} else {
		logger.Info("ML_SERVICE_URL not configured, mapping inference disabled")
	}

	mappingCache := services.NewMappingCache(mappingCacheRepo, logger)
	resolver := services.NewResolver(mappingCache, inference, services.ResolverConfig{
		AcceptConfidence: cfg.ResolverAcceptConfidence,
		ExtraRules:       extraRules,
	}, logger)

	// Importer and session lifecycle
	validator := services.NewValidationEngine(schema, services.NewRuleRegistry())
	importer := services.NewImporter(sessionRepo, importRepo, clients.NewCatalogClient(cfg.CatalogServiceURL), broadcaster,
		services.ImporterConfig{
			BatchSize:  cfg.ImportBatchSize,
			MaxRetries: cfg.ImportMaxRetries,
			Workers:    cfg.ImportWorkers,
		}, logger)

	var lifecycle services.LifecyclePublisher
	if natsConn != nil {
		lifecycle = events.NewPublisher(natsConn, logger)
	}

	sessionService := services.NewSessionService(services.SessionDependencies{
		Sessions:  sessionRepo,
		Imports:   importRepo,
		Resolver:  resolver,
		Validator: validator,
		Importer:  importer,
		Publisher: broadcaster,
		Approvals: clients.NewApprovalClient(cfg.ApprovalServiceURL),
		Recorder:  mappingCache,
		Lifecycle: lifecycle,
	}, services.SessionServiceConfig{
		ApprovalConfidenceThreshold: cfg.ApprovalConfidenceThreshold,
		ApprovalRecordThreshold:     cfg.ApprovalRecordThreshold,
		FailureTolerance:            cfg.ImportFailureTolerance,
	}, logger)

	// Approval decisions over NATS
	var approvalSubscriber *events.ApprovalSubscriber
	if natsConn != nil {
		approvalSubscriber = events.NewApprovalSubscriber(natsConn, sessionService, logger)
		if err := approvalSubscriber.Start(); err != nil {
			logger.Warnf("Failed to start approval subscriber: %v", err)
			approvalSubscriber = nil
		}
	}

	// Start stale session job
	staleJob := jobs.NewStaleSessionJob(sessionRepo, sessionService, jobs.StaleSessionJobConfig{
		StaleAfter:       time.Duration(cfg.StaleSessionHours) * time.Hour,
		ApprovalTimeout:  time.Duration(cfg.ApprovalTimeoutHours) * time.Hour,
		ImportStallAfter: time.Duration(cfg.ImportStallMinutes) * time.Minute,
	}, logger)
	jobCtx, jobCancel := context.WithCancel(context.Background())
	go staleJob.Start(jobCtx)

	// Initialize handlers
	sessionHandler := handlers.NewSessionHandler(sessionService, hub, handlers.SessionHandlerConfig{
		MaxUploadBytes:  int64(cfg.MaxUploadSizeMB) << 20,
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
	}, logger)

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health check endpoints (no auth required)
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck(db))
	router.GET("/metrics", metrics.Handler())

	api := router.Group("/api/v1")
	api.Use(middleware.TenantMiddleware())
	sessionHandler.RegisterRoutes(api)

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Infof("Catalog import service starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	jobCancel()
	staleJob.Stop()

	// Open event streams would keep Shutdown waiting for its whole budget
	srv.RegisterOnShutdown(hub.CloseAll)

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// Imports get their own budget to record their outcome before the connections close
	importCtx, importCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ImportShutdownSeconds)*time.Second)
	defer importCancel()
	if err := sessionService.Shutdown(importCtx); err != nil {
		logger.Errorf("Imports still running at shutdown: %v", err)
	}

	if approvalSubscriber != nil {
		approvalSubscriber.Stop()
	}
	busCancel()
	if bus != nil {
		bus.Close()
	}
	if natsConn != nil {
		natsConn.Drain()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("Server shutdown complete")
}
