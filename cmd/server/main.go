// Command server starts the Keepsake API HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"keepsake-api/internal/api"
	"keepsake-api/internal/auth"
	"keepsake-api/internal/observability/logging"
	"keepsake-api/internal/observability/metrics"
	"keepsake-api/internal/server"
	"keepsake-api/internal/serverutil"
	"keepsake-api/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	sessionStoreDriver := flag.String("session-store", "", "session store driver (memory, postgres, or redis)")
	sessionPostgresDSN := flag.String("session-postgres-dsn", "", "Postgres DSN for the session store")
	sessionRedisURL := flag.String("session-redis-url", "", "Redis URL for the session store")
	sessionTTL := flag.Duration("session-ttl", 0, "session lifetime before re-authentication is required")
	sessionPurgeInterval := flag.Duration("session-purge-interval", 0, "interval between expired session sweeps")
	blobDriver := flag.String("blob-driver", "", "media blob driver (local or s3)")
	blobDir := flag.String("blob-dir", "", "directory for locally stored media blobs")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint (e.g. http://127.0.0.1:9000)")
	objectRegion := flag.String("object-region", "", "object storage region")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket name")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	objectPrefix := flag.String("object-prefix", "", "object storage key prefix for media blobs")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	rateRedisURL := flag.String("rate-redis-url", "", "Redis URL for distributed login throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for rate limiter Redis operations")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed to call the API")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("KEEPSAKE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("KEEPSAKE_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("KEEPSAKE_ADDR"), ":8080")

	resolvedPostgresDSN := firstNonEmpty(*postgresDSN, os.Getenv("KEEPSAKE_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("KEEPSAKE_STORAGE_DRIVER"), resolvedPostgresDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := firstNonEmpty(*dataPath, os.Getenv("KEEPSAKE_DATA"), "data/store.json")
		store, err = storage.NewStore(dataFile)
	case "postgres":
		if resolvedPostgresDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.PostgresOption
		maxConns := resolveInt(*postgresMaxConns, "KEEPSAKE_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "KEEPSAKE_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "KEEPSAKE_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "KEEPSAKE_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "KEEPSAKE_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "KEEPSAKE_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("KEEPSAKE_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(resolvedPostgresDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	sessionStore, sessionCloser, err := configureSessionStore(
		firstNonEmpty(*sessionStoreDriver, os.Getenv("KEEPSAKE_SESSION_STORE")),
		firstNonEmpty(*sessionPostgresDSN, os.Getenv("KEEPSAKE_SESSION_POSTGRES_DSN"), resolvedPostgresDSN),
		firstNonEmpty(*sessionRedisURL, os.Getenv("KEEPSAKE_SESSION_REDIS_URL")),
		driver,
	)
	if err != nil {
		logger.Error("failed to configure session store", "error", err)
		os.Exit(1)
	}

	ttl := resolveDuration(*sessionTTL, "KEEPSAKE_SESSION_TTL", 7*24*time.Hour)
	sessions := auth.NewSessionManager(ttl, auth.WithStore(sessionStore))

	blobs, err := configureBlobStore(
		firstNonEmpty(*blobDriver, os.Getenv("KEEPSAKE_BLOB_DRIVER")),
		firstNonEmpty(*blobDir, os.Getenv("KEEPSAKE_BLOB_DIR")),
		storage.ObjectStorageConfig{
			Endpoint:  firstNonEmpty(*objectEndpoint, os.Getenv("KEEPSAKE_OBJECT_ENDPOINT")),
			Region:    firstNonEmpty(*objectRegion, os.Getenv("KEEPSAKE_OBJECT_REGION")),
			AccessKey: firstNonEmpty(*objectAccessKey, os.Getenv("KEEPSAKE_OBJECT_ACCESS_KEY")),
			SecretKey: firstNonEmpty(*objectSecretKey, os.Getenv("KEEPSAKE_OBJECT_SECRET_KEY")),
			Bucket:    firstNonEmpty(*objectBucket, os.Getenv("KEEPSAKE_OBJECT_BUCKET")),
			Prefix:    firstNonEmpty(*objectPrefix, os.Getenv("KEEPSAKE_OBJECT_PREFIX")),
			UseSSL:    resolveBool(*objectUseSSL, "KEEPSAKE_OBJECT_USE_SSL"),
		},
	)
	if err != nil {
		logger.Error("failed to configure blob store", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store, sessions)
	handler.Blobs = blobs

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("KEEPSAKE_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("KEEPSAKE_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:    resolveFloat(*globalRPS, "KEEPSAKE_RATE_GLOBAL_RPS"),
			GlobalBurst:  resolveInt(*globalBurst, "KEEPSAKE_RATE_GLOBAL_BURST"),
			LoginLimit:   resolveInt(*loginLimit, "KEEPSAKE_RATE_LOGIN_LIMIT"),
			LoginWindow:  resolveDuration(*loginWindow, "KEEPSAKE_RATE_LOGIN_WINDOW", time.Minute),
			RedisURL:     firstNonEmpty(*rateRedisURL, os.Getenv("KEEPSAKE_RATE_REDIS_URL")),
			RedisTimeout: resolveDuration(*rateRedisTimeout, "KEEPSAKE_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("KEEPSAKE_CORS_ORIGINS"))),
		},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	purgeInterval := resolveDuration(*sessionPurgeInterval, "KEEPSAKE_SESSION_PURGE_INTERVAL", 15*time.Minute)
	purger := serverutil.Periodic("session-purger", purgeInterval, func(context.Context) error {
		if err := sessions.PurgeExpired(); err != nil {
			logging.WithComponent(logger, "session-purger").Warn("purge failed", "error", err)
		}
		return nil
	})

	logger.Info("Keepsake API listening", "addr", listenAddr, "storage_driver", driver)
	logger.Info("metrics endpoint available", "path", "/metrics")
	if err := srv.Run(ctx, purger); err != nil {
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(shutdownCtx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	if sessionCloser != nil {
		if err := sessionCloser(shutdownCtx); err != nil {
			logger.Warn("failed to close session store", "error", err)
		}
	}

	logger.Info("server stopped")
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func configureSessionStore(driver, postgresDSN, redisURL, storageDriver string) (auth.SessionStore, func(context.Context) error, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		switch {
		case redisURL != "":
			driver = "redis"
		case storageDriver == "postgres":
			driver = "postgres"
		default:
			driver = "memory"
		}
	}
	switch driver {
	case "memory":
		return auth.NewMemorySessionStore(), nil, nil
	case "postgres":
		if postgresDSN == "" {
			return nil, nil, fmt.Errorf("postgres session store selected without DSN")
		}
		pgStore, err := auth.NewPostgresSessionStore(postgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return pgStore, pgStore.Close, nil
	case "redis":
		if redisURL == "" {
			return nil, nil, fmt.Errorf("redis session store selected without URL")
		}
		redisStore, err := auth.NewRedisSessionStore(redisURL)
		if err != nil {
			return nil, nil, err
		}
		return redisStore, redisStore.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store driver %q", driver)
	}
}

func configureBlobStore(driver, localDir string, objectCfg storage.ObjectStorageConfig) (storage.BlobStore, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		if objectCfg.Endpoint != "" || objectCfg.Bucket != "" {
			driver = "s3"
		} else {
			driver = "local"
		}
	}
	switch driver {
	case "local":
		return storage.NewLocalBlobStore(localDir), nil
	case "s3":
		return storage.NewS3BlobStore(objectCfg)
	default:
		return nil, fmt.Errorf("unsupported blob driver %q", driver)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
