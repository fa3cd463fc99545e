// Package main provides the entry point for the authorization server
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

	"github.com/authguard/go-core/internal/api/rest"
	"github.com/authguard/go-core/internal/cache"
	"github.com/authguard/go-core/internal/db"
	"github.com/authguard/go-core/internal/engine"
	"github.com/authguard/go-core/internal/metrics"
	"github.com/authguard/go-core/internal/policy"
	"github.com/authguard/go-core/internal/rbac"
	"github.com/authguard/go-core/internal/store"
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
		cacheBackend    = flag.String("cache", "memory", "Cache backend (memory, redis, none)")
		cacheSize       = flag.Int("cache-size", 100000, "Maximum in-memory cache entries")
		permTTL         = flag.Duration("perm-ttl", 15*time.Minute, "Permission set cache TTL")
		memoize         = flag.Bool("memoize-decisions", false, "Memoize full decisions by request fingerprint")
		memoizeTTL      = flag.Duration("memoize-ttl", time.Minute, "Memoized decision TTL")
		storeBackend    = flag.String("store", "memory", "Authoritative store backend (memory, postgres)")
		migrateUp       = flag.Bool("migrate", true, "Apply schema migrations at startup (postgres only)")
		policyDir       = flag.String("policy-dir", "", "Directory to load policy YAML files from")
		watchPolicies   = flag.Bool("watch-policies", true, "Hot-reload the policy directory on change")
		logLevel        = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logFormat       = flag.String("log-format", "json", "Log format (json, console)")
		showVersion     = flag.Bool("version", false, "Show version information")
		gracefulTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("authguard-server %s\n", Version)
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

	env, err := loadEnv()
	if err != nil {
		logger.Fatal("Failed to load environment configuration", zap.Error(err))
	}

	logger.Info("Starting authorization server",
		zap.String("version", Version),
		zap.Int("http_port", *httpPort),
		zap.String("cache", *cacheBackend),
		zap.String("store", *storeBackend),
	)

	// Shared decision cache
	var c cache.Cache
	switch *cacheBackend {
	case "redis":
		redisCfg := cache.DefaultRedisConfig()
		redisCfg.Host = env.RedisHost
		redisCfg.Port = env.RedisPort
		redisCfg.Password = env.RedisPassword
		redisCfg.DB = env.RedisDB
		c, err = cache.NewRedis(redisCfg)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
	case "memory":
		c = cache.NewLRU(*cacheSize)
	case "none":
		c = nil
	default:
		logger.Fatal("Unknown cache backend", zap.String("cache", *cacheBackend))
	}
	if c != nil {
		defer c.Close()
	}

	invalidator := engine.NewCacheInvalidator(c, logger)

	// Authoritative store
	var (
		source interface {
			rbac.Source
			policy.Source
		}
		admin store.Admin
	)
	switch *storeBackend {
	case "postgres":
		sqlDB, err := sql.Open("postgres", env.PostgresDSN)
		if err != nil {
			logger.Fatal("Failed to open postgres", zap.Error(err))
		}
		defer sqlDB.Close()
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)

		if *migrateUp {
			runner, err := db.NewMigrationRunner(sqlDB, logger)
			if err != nil {
				logger.Fatal("Failed to create migration runner", zap.Error(err))
			}
			if err := runner.Up(); err != nil {
				logger.Fatal("Failed to apply migrations", zap.Error(err))
			}
		}

		pg := store.NewPostgres(sqlDB, invalidator)
		source, admin = pg, pg

		if *policyDir != "" {
			if err := seedPolicies(pg, *policyDir, logger); err != nil {
				logger.Fatal("Failed to seed policies", zap.Error(err))
			}
			if *watchPolicies {
				logger.Warn("Policy hot reload requires the memory store, watching disabled")
			}
		}
	case "memory":
		mem := store.NewMemory(invalidator)
		source, admin = mem, mem

		if *policyDir != "" {
			loader := policy.NewLoader(logger)
			policies, err := loader.LoadFromDirectory(*policyDir)
			if err != nil {
				logger.Fatal("Failed to load policies", zap.Error(err))
			}
			if err := mem.ReplacePolicies(context.Background(), policies); err != nil {
				logger.Fatal("Failed to install policies", zap.Error(err))
			}
			logger.Info("Loaded policies", zap.Int("count", len(policies)), zap.String("dir", *policyDir))

			if *watchPolicies {
				watcher, err := policy.NewWatcher(*policyDir, mem, loader, logger)
				if err != nil {
					logger.Fatal("Failed to create policy watcher", zap.Error(err))
				}
				if err := watcher.Start(); err != nil {
					logger.Fatal("Failed to start policy watcher", zap.Error(err))
				}
				defer watcher.Stop()
			}
		}
	default:
		logger.Fatal("Unknown store backend", zap.String("store", *storeBackend))
	}

	m := metrics.NewPrometheusMetrics("authguard")

	index := rbac.NewIndex(source, c, rbac.Config{TTL: *permTTL}, logger)
	resolver := policy.NewResolver(source)
	eng := engine.New(engine.Config{
		MemoizeDecisions: *memoize,
		MemoizeTTL:       *memoizeTTL,
	}, index, resolver, c, m, logger)

	restCfg := rest.DefaultConfig()
	restCfg.Port = *httpPort
	restCfg.Version = Version

	srv, err := rest.New(restCfg, eng, admin, m, logger)
	if err != nil {
		logger.Fatal("Failed to create REST server", zap.Error(err))
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
			logger.Fatal("Server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), *gracefulTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Shutdown error", zap.Error(err))
		}
	}

	logger.Info("Server stopped successfully")
}

// seedPolicies upserts file policies once; used with stores that do not
// support atomic replacement
func seedPolicies(admin store.Admin, dir string, logger *zap.Logger) error {
	loader := policy.NewLoader(logger)
	policies, err := loader.LoadFromDirectory(dir)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i := range policies {
		if err := admin.UpsertPolicy(ctx, &policies[i]); err != nil {
			return fmt.Errorf("policy %q: %w", policies[i].Name, err)
		}
	}
	logger.Info("Seeded policies", zap.Int("count", len(policies)), zap.String("dir", dir))
	return nil
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
