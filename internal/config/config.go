package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"catalog-import-service/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisURL string

	// NATS
	NATSURL string

	// Server
	Port               string
	Environment        string
	CORSAllowedOrigins []string

	// Services
	ApprovalServiceURL string
	MLServiceURL       string
	CatalogServiceURL  string

	// Pagination
	DefaultPageSize int
	MaxPageSize     int

	// Import settings
	ImportBatchSize        int
	ImportMaxRetries       int
	ImportWorkers          int
	ImportFailureTolerance float64
	MaxUploadSizeMB        int
	// ImportShutdownSeconds bounds how long shutdown waits for running imports
	ImportShutdownSeconds int

	// Resolver settings
	ResolverAcceptConfidence int
	ResolverRulesFile        string

	// Approval gate
	ApprovalConfidenceThreshold int
	ApprovalRecordThreshold     int
	ApprovalTimeoutHours        int

	// Jobs
	StaleSessionHours  int
	ImportStallMinutes int
}

func Load() *Config {
	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	defaultPageSize, _ := strconv.Atoi(getEnv("DEFAULT_PAGE_SIZE", "20"))
	maxPageSize, _ := strconv.Atoi(getEnv("MAX_PAGE_SIZE", "100"))
	batchSize, _ := strconv.Atoi(getEnv("IMPORT_BATCH_SIZE", "10"))
	maxRetries, _ := strconv.Atoi(getEnv("IMPORT_MAX_RETRIES", "2"))
	workers, _ := strconv.Atoi(getEnv("IMPORT_WORKERS", "2"))
	tolerance, err := strconv.ParseFloat(getEnv("IMPORT_FAILURE_TOLERANCE", "1.0"), 64)
	if err != nil {
		tolerance = 1.0
	}
	maxUploadMB, _ := strconv.Atoi(getEnv("MAX_UPLOAD_SIZE_MB", "10"))
	acceptConfidence, _ := strconv.Atoi(getEnv("RESOLVER_ACCEPT_CONFIDENCE", "80"))
	approvalConfidence, _ := strconv.Atoi(getEnv("APPROVAL_CONFIDENCE_THRESHOLD", "70"))
	approvalRecords, _ := strconv.Atoi(getEnv("APPROVAL_RECORD_THRESHOLD", "5000"))
	approvalTimeout, _ := strconv.Atoi(getEnv("APPROVAL_TIMEOUT_HOURS", "72"))
	staleHours, _ := strconv.Atoi(getEnv("STALE_SESSION_HOURS", "24"))
	stallMinutes, _ := strconv.Atoi(getEnv("IMPORT_STALL_MINUTES", "60"))
	shutdownSeconds, _ := strconv.Atoi(getEnv("IMPORT_SHUTDOWN_TIMEOUT_SECONDS", "60"))

	return &Config{
		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "catalog_import_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// Redis - optional, used for mapping cache reads and cross-replica events
		RedisURL: getEnv("REDIS_URL", ""),

		// NATS - optional, used for lifecycle events and approval decisions
		NATSURL: getEnv("NATS_URL", ""),

		// Server
		Port:               getEnv("PORT", "8095"),
		Environment:        getEnv("ENVIRONMENT", "development"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),

		// Services
		ApprovalServiceURL: getEnv("APPROVAL_SERVICE_URL", "http://approval-service:8099"),
		MLServiceURL:       getEnv("ML_SERVICE_URL", ""),
		CatalogServiceURL:  getEnv("CATALOG_SERVICE_URL", "http://products-service:8087"),

		// Pagination
		DefaultPageSize: defaultPageSize,
		MaxPageSize:     maxPageSize,

		// Import settings
		ImportBatchSize:        batchSize,
		ImportMaxRetries:       maxRetries,
		ImportWorkers:          workers,
		ImportFailureTolerance: tolerance,
		MaxUploadSizeMB:        maxUploadMB,
		ImportShutdownSeconds:  shutdownSeconds,

		// Resolver settings
		ResolverAcceptConfidence: acceptConfidence,
		ResolverRulesFile:        getEnv("RESOLVER_RULES_FILE", ""),

		// Approval gate
		ApprovalConfidenceThreshold: approvalConfidence,
		ApprovalRecordThreshold:     approvalRecords,
		ApprovalTimeoutHours:        approvalTimeout,

		// Jobs
		StaleSessionHours:  staleHours,
		ImportStallMinutes: stallMinutes,
	}
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Running auto-migrations...")
	if err := db.AutoMigrate(
		&models.UploadSession{},
		&models.SessionRecord{},
		&models.ImportBatch{},
		&models.ImportHistory{},
		&models.MappingCacheEntry{},
	); err != nil {
		// Constraint renames on existing schemas are harmless
		errStr := err.Error()
		if strings.Contains(errStr, "does not exist") && strings.Contains(errStr, "constraint") {
			log.Printf("Note: Migration constraint warning (safe to ignore): %v", err)
		} else {
			return nil, fmt.Errorf("failed to run auto-migrations: %w", err)
		}
	}
	log.Println("Auto-migrations completed successfully")

	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
