// Package main provides the entry point for the policy authorization server
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/secretshub/policy-core/internal/api/rest"
	"github.com/secretshub/policy-core/internal/audit"
	"github.com/secretshub/policy-core/internal/cel"
	"github.com/secretshub/policy-core/internal/db"
	"github.com/secretshub/policy-core/internal/engine"
	"github.com/secretshub/policy-core/internal/metrics"
	"github.com/secretshub/policy-core/internal/policy"
	"github.com/secretshub/policy-core/internal/rbac"
	"github.com/secretshub/policy-core/internal/versioning"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		httpPort        = flag.Int("http-port", 8080, "HTTP server port")
		cacheEnabled    = flag.Bool("cache", true, "Enable decision cache")
		cacheSize       = flag.Int("cache-size", 100000, "Maximum cache entries")
		cacheTTL        = flag.Duration("cache-ttl", 5*time.Minute, "Cache TTL")
		workers         = flag.Int("workers", 16, "Number of parallel evaluation workers")
		logLevel        = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logFormat       = flag.String("log-format", "json", "Log format (json, console)")
		showVersion     = flag.Bool("version", false, "Show version information")
		policyDir       = flag.String("policy-dir", "", "Directory to load policies from")
		watchPolicies   = flag.Bool("watch-policies", false, "Hot-reload policies when files change")
		databaseURL     = flag.String("database-url", "", "PostgreSQL URL for the version store (in-memory when empty)")
		auditType       = flag.String("audit", "stdout", "Audit output (stdout, file, off)")
		auditFile       = flag.String("audit-file", "audit/policy-audit.log", "Audit log file path for file output")
		gracefulTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("policy-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	logger, err := initLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting policy server",
		zap.String("version", Version),
		zap.Int("http_port", *httpPort),
	)

	// Condition engine and validator
	conditions, err := cel.NewEngine()
	if err != nil {
		logger.Fatal("failed to create condition engine", zap.Error(err))
	}
	validator := policy.NewValidator(conditions)

	// Version store: PostgreSQL when configured, in-memory otherwise
	var versionStore versioning.Store
	if *databaseURL != "" {
		sqlDB, err := sql.Open("postgres", *databaseURL)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		defer sqlDB.Close()

		runner, err := db.NewMigrationRunner(sqlDB, logger)
		if err != nil {
			logger.Fatal("failed to create migration runner", zap.Error(err))
		}
		if err := runner.Up(); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}

		versionStore = versioning.NewPostgresStore(sqlDB)
		logger.Info("using postgres version store")
	} else {
		versionStore = versioning.NewMemoryStore()
		logger.Info("using in-memory version store")
	}

	// Policy store and evaluator
	store := policy.NewMemoryStore()
	met := metrics.New("policy_core")

	engConfig := engine.DefaultConfig()
	engConfig.CacheEnabled = *cacheEnabled
	engConfig.CacheSize = *cacheSize
	engConfig.CacheTTL = *cacheTTL
	engConfig.ParallelWorkers = *workers
	engConfig.Metrics = met

	evaluator, err := engine.New(engConfig, store, logger)
	if err != nil {
		logger.Fatal("failed to create evaluator", zap.Error(err))
	}
	defer evaluator.Shutdown()

	logger.Info("evaluator initialized",
		zap.Bool("cache_enabled", *cacheEnabled),
		zap.Int("cache_size", *cacheSize),
		zap.Int("workers", *workers),
	)

	// Audit logging
	auditCfg := audit.DefaultConfig()
	switch *auditType {
	case "off":
		auditCfg.Enabled = false
	case "file":
		auditCfg.Type = "file"
		auditCfg.FilePath = *auditFile
	default:
		auditCfg.Type = "stdout"
	}
	auditor, err := audit.NewLogger(&auditCfg)
	if err != nil {
		logger.Fatal("failed to create audit logger", zap.Error(err))
	}
	defer auditor.Close()

	// Lifecycle manager ties store mutations to the version chain
	manager, err := policy.NewManager(store, versionStore, validator, logger,
		policy.WithCacheInvalidator(evaluator),
		policy.WithMetrics(met),
		policy.WithAuditor(auditor),
	)
	if err != nil {
		logger.Fatal("failed to create policy manager", zap.Error(err))
	}

	// Load policies from directory if specified
	loader := policy.NewLoader(validator, logger)
	if *policyDir != "" {
		policies, err := loader.LoadFromDirectory(*policyDir)
		if err != nil {
			logger.Fatal("failed to load policies", zap.Error(err))
		}
		for _, p := range policies {
			if err := store.Put(p); err != nil {
				logger.Fatal("failed to store policy",
					zap.String("policy", p.Name),
					zap.Error(err),
				)
			}
		}
		logger.Info("policies loaded", zap.Int("count", len(policies)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hot reload
	if *watchPolicies && *policyDir != "" {
		watcher, err := policy.NewFileWatcher(*policyDir, store, loader, evaluator, logger)
		if err != nil {
			logger.Fatal("failed to create policy watcher", zap.Error(err))
		}
		if err := watcher.Watch(ctx); err != nil {
			logger.Fatal("failed to start policy watcher", zap.Error(err))
		}
		defer watcher.Stop()
	}

	// Simulator and role directory
	simulator, err := engine.NewSimulator(met, logger)
	if err != nil {
		logger.Fatal("failed to create simulator", zap.Error(err))
	}
	directory := rbac.NewDirectory(logger)

	// REST server
	restCfg := rest.DefaultConfig()
	restCfg.Port = *httpPort
	restCfg.Version = Version

	srv, err := rest.New(restCfg, evaluator, simulator, manager, directory, met, logger)
	if err != nil {
		logger.Fatal("failed to create REST server", zap.Error(err))
	}

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *gracefulTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down REST server", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// initLogger initializes the zap logger
func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var config zap.Config
	if format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build()
}
