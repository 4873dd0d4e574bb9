// Command server starts the LANStream HTTP service: catalog API, upload
// intake, background transcoding, and the HLS stream file server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"lanstream/internal/api"
	"lanstream/internal/auth"
	"lanstream/internal/ingest"
	"lanstream/internal/observability/logging"
	"lanstream/internal/observability/metrics"
	"lanstream/internal/server"
	"lanstream/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	sessionStoreDriver := flag.String("session-store", "", "session store driver (memory or postgres)")
	sessionPostgresDSN := flag.String("session-postgres-dsn", "", "Postgres DSN for the session store")
	sessionTTL := flag.Duration("session-ttl", 0, "absolute session lifetime")
	sessionIdleTimeout := flag.Duration("session-idle-timeout", 0, "sliding idle timeout for sessions")
	uploadDir := flag.String("upload-dir", "", "directory for staged upload sources")
	streamDir := flag.String("stream-dir", "", "directory for transcoded HLS output")
	encoderBinary := flag.String("encoder", "", "path to the ffmpeg binary")
	transcodeWorkers := flag.Int("transcode-workers", 0, "number of transcode queue workers")
	transcodeConcurrency := flag.Int("transcode-concurrency", 0, "maximum concurrent encoder processes")
	transcodeTimeout := flag.Duration("transcode-timeout", 0, "per-job transcode timeout (0 means none)")
	queueDriver := flag.String("job-queue-driver", "", "transcode queue driver (memory or redis)")
	queueRedisAddr := flag.String("job-queue-redis-addr", "", "Redis address for the transcode queue")
	queueRedisAddrs := flag.String("job-queue-redis-addrs", "", "comma separated Redis addresses for the transcode queue")
	queueRedisUsername := flag.String("job-queue-redis-username", "", "Redis username for the transcode queue")
	queueRedisPassword := flag.String("job-queue-redis-password", "", "Redis password for the transcode queue")
	queueRedisStream := flag.String("job-queue-redis-stream", "", "Redis stream key for transcode jobs")
	queueRedisGroup := flag.String("job-queue-redis-group", "", "Redis consumer group for transcode jobs")
	queueRedisMaster := flag.String("job-queue-redis-sentinel-master", "", "Redis sentinel master name for the transcode queue")
	queueRedisPoolSize := flag.Int("job-queue-redis-pool-size", 0, "maximum Redis connections for the transcode queue")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	rateRedisUsername := flag.String("rate-redis-username", "", "Redis username for distributed login throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for rate limiter Redis operations")
	corsOrigins := flag.String("cors-allowed-origins", "", "comma separated origins allowed to call the API")
	adminUsername := flag.String("admin-username", "", "bootstrap admin username (created when no accounts exist)")
	adminPassword := flag.String("admin-password", "", "bootstrap admin password")
	adminName := flag.String("admin-name", "", "bootstrap admin display name")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("LANSTREAM_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("LANSTREAM_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("LANSTREAM_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("LANSTREAM_ADDR"))

	postgresDefaultDSN := firstNonEmpty(*postgresDSN, os.Getenv("LANSTREAM_POSTGRES_DSN"))
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("LANSTREAM_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("LANSTREAM_DATA"))
		store, err = storage.NewJSONRepository(dataFile)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		store, err = storage.NewPostgresRepository(postgresDefaultDSN)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	if err := bootstrapAdmin(store, logger,
		firstNonEmpty(*adminUsername, os.Getenv("LANSTREAM_ADMIN_USERNAME")),
		firstNonEmpty(*adminPassword, os.Getenv("LANSTREAM_ADMIN_PASSWORD")),
		firstNonEmpty(*adminName, os.Getenv("LANSTREAM_ADMIN_NAME")),
	); err != nil {
		logger.Error("failed to bootstrap admin account", "error", err)
		os.Exit(1)
	}

	sessionConfig, err := resolveSessionStoreConfig(
		*sessionStoreDriver,
		os.Getenv("LANSTREAM_SESSION_STORE"),
		driver,
		postgresDefaultDSN,
		*sessionPostgresDSN,
		os.Getenv("LANSTREAM_SESSION_POSTGRES_DSN"),
	)
	if err != nil {
		logger.Error("failed to resolve session store", "error", err)
		os.Exit(1)
	}

	var (
		sessionStore  auth.SessionStore
		sessionCloser func(context.Context) error
	)
	switch sessionConfig.Driver {
	case "memory":
		sessionStore = auth.NewMemorySessionStore()
	case "postgres":
		bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
		pgStore, err := auth.NewPostgresSessionStore(bootCtx, sessionConfig.DSN)
		bootCancel()
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		sessionStore = pgStore
		sessionCloser = pgStore.Close
	default:
		logger.Error("unsupported session store driver", "driver", sessionConfig.Driver)
		os.Exit(1)
	}

	sessionOpts := []auth.ManagerOption{auth.WithStore(sessionStore)}
	if idle := resolveDuration(*sessionIdleTimeout, "LANSTREAM_SESSION_IDLE_TIMEOUT", 0); idle > 0 {
		sessionOpts = append(sessionOpts, auth.WithIdleTimeout(idle))
	}
	sessions := auth.NewManager(resolveDuration(*sessionTTL, "LANSTREAM_SESSION_TTL", 0), sessionOpts...)

	uploads := resolvePath(*uploadDir, "LANSTREAM_UPLOAD_DIR", filepath.Join("data", "uploads"))
	streams := resolvePath(*streamDir, "LANSTREAM_STREAM_DIR", filepath.Join("data", "streams"))

	queueCfg := ingest.RedisQueueConfig{
		Addr:       firstNonEmpty(*queueRedisAddr, os.Getenv("LANSTREAM_JOB_QUEUE_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*queueRedisAddrs, os.Getenv("LANSTREAM_JOB_QUEUE_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*queueRedisUsername, os.Getenv("LANSTREAM_JOB_QUEUE_REDIS_USERNAME")),
		Password:   firstNonEmpty(*queueRedisPassword, os.Getenv("LANSTREAM_JOB_QUEUE_REDIS_PASSWORD")),
		Stream:     firstNonEmpty(*queueRedisStream, os.Getenv("LANSTREAM_JOB_QUEUE_REDIS_STREAM")),
		Group:      firstNonEmpty(*queueRedisGroup, os.Getenv("LANSTREAM_JOB_QUEUE_REDIS_GROUP")),
		MasterName: firstNonEmpty(*queueRedisMaster, os.Getenv("LANSTREAM_JOB_QUEUE_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*queueRedisPoolSize, "LANSTREAM_JOB_QUEUE_REDIS_POOL_SIZE"),
		Logger:     logging.WithComponent(logger, "job-queue"),
	}
	queue, err := configureJobQueue(*queueDriver, queueCfg)
	if err != nil {
		logger.Error("failed to configure transcode queue", "error", err)
		os.Exit(1)
	}

	intake, err := ingest.NewIntake(ingest.IntakeConfig{
		Store:     store,
		Queue:     queue,
		UploadDir: uploads,
		StreamDir: streams,
		Logger:    logging.WithComponent(logger, "intake"),
	})
	if err != nil {
		logger.Error("failed to initialise upload intake", "error", err)
		os.Exit(1)
	}

	var runnerOpts []ingest.RunnerOption
	if encoder := firstNonEmpty(*encoderBinary, os.Getenv("LANSTREAM_ENCODER")); encoder != "" {
		runnerOpts = append(runnerOpts, ingest.WithEncoderBinary(encoder))
	}
	runner := ingest.NewRunner(logging.WithComponent(logger, "transcoder"), runnerOpts...)

	processor := ingest.NewProcessor(ingest.ProcessorConfig{
		Queue:       queue,
		Runner:      runner,
		Workers:     resolveInt(*transcodeWorkers, "LANSTREAM_TRANSCODE_WORKERS"),
		Concurrency: int64(resolveInt(*transcodeConcurrency, "LANSTREAM_TRANSCODE_CONCURRENCY")),
		Timeout:     resolveDuration(*transcodeTimeout, "LANSTREAM_TRANSCODE_TIMEOUT", 0),
		Logger:      logging.WithComponent(logger, "transcode-worker"),
		Metrics:     recorder,
	})
	processor.Start()

	handler := &api.Handler{
		Store:      store,
		Sessions:   sessions,
		Intake:     intake,
		Reconciler: ingest.NewReconciler(store, intake.StreamDir(), logging.WithComponent(logger, "reconciler")),
		Metrics:    recorder,
		Logger:     logger,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	sessionPurgeStop := startSessionPurgeWorker(workerCtx, logging.WithComponent(logger, "session-purger"), sessions, 15*time.Minute)
	defer sessionPurgeStop()

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("LANSTREAM_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("LANSTREAM_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "LANSTREAM_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "LANSTREAM_RATE_GLOBAL_BURST"),
			LoginLimit:    resolveInt(*loginLimit, "LANSTREAM_RATE_LOGIN_LIMIT"),
			LoginWindow:   resolveDuration(*loginWindow, "LANSTREAM_RATE_LOGIN_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("LANSTREAM_RATE_REDIS_ADDR")),
			RedisUsername: firstNonEmpty(*rateRedisUsername, os.Getenv("LANSTREAM_RATE_REDIS_USERNAME")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("LANSTREAM_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*rateRedisTimeout, "LANSTREAM_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("LANSTREAM_CORS_ALLOWED_ORIGINS"))),
		},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
		StreamDir:   intake.StreamDir(),
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("LANStream listening", "addr", listenAddr, "mode", serverMode, "storage", driver)
	logger.Info("metrics endpoint available", "path", "/metrics")
	if err := srv.Run(runCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	workerCancel()
	sessionPurgeStop()

	if err := processor.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to stop transcode workers", "error", err)
	}
	if err := queue.Close(); err != nil {
		logger.Warn("failed to close transcode queue", "error", err)
	}
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

// bootstrapAdmin creates the first admin account when the datastore has
// no users, so a fresh deployment can log in without manual seeding.
func bootstrapAdmin(store storage.Repository, logger interface {
	Info(msg string, args ...any)
}, username, password, name string) error {
	if username == "" || password == "" {
		return nil
	}
	existing, err := store.ListUsers()
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	if name == "" {
		name = username
	}
	user, err := store.CreateUser(storage.CreateUserParams{
		Name:     name,
		Username: username,
		Password: password,
		Role:     "admin",
	})
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	logger.Info("bootstrap admin account created", "user_id", user.ID, "username", user.Username)
	return nil
}

func configureJobQueue(driver string, cfg ingest.RedisQueueConfig) (ingest.Queue, error) {
	driver = strings.ToLower(strings.TrimSpace(firstNonEmpty(driver, os.Getenv("LANSTREAM_JOB_QUEUE_DRIVER"))))
	switch driver {
	case "redis":
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for the transcode queue")
		}
		return ingest.NewRedisQueue(cfg)
	case "", "memory":
		return ingest.NewMemoryQueue(64), nil
	default:
		return nil, fmt.Errorf("unsupported transcode queue driver %q", driver)
	}
}

func resolveStorageDriver(flagValue, envValue, dsn string) (string, error) {
	driver := strings.ToLower(strings.TrimSpace(flagValue))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envValue))
	}
	if driver == "" {
		if strings.TrimSpace(dsn) != "" {
			return "postgres", nil
		}
		return "json", nil
	}
	switch driver {
	case "json", "postgres":
		return driver, nil
	default:
		return "", fmt.Errorf("unsupported storage driver %q", driver)
	}
}

type sessionStoreConfig struct {
	Driver string
	DSN    string
}

func resolveSessionStoreConfig(flagDriver, envDriver, storageDriver, storageDSN, flagDSN, envDSN string) (sessionStoreConfig, error) {
	driver := strings.ToLower(strings.TrimSpace(flagDriver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envDriver))
	}

	sessionDSN := strings.TrimSpace(firstNonEmpty(flagDSN, envDSN))
	if driver == "" {
		switch {
		case sessionDSN != "":
			driver = "postgres"
		case storageDriver == "postgres":
			driver = "postgres"
		default:
			driver = "memory"
		}
	}

	switch driver {
	case "", "memory":
		return sessionStoreConfig{Driver: "memory"}, nil
	case "postgres":
		if sessionDSN == "" {
			sessionDSN = strings.TrimSpace(storageDSN)
		}
		if sessionDSN == "" {
			return sessionStoreConfig{}, fmt.Errorf("postgres session store selected without DSN")
		}
		return sessionStoreConfig{Driver: "postgres", DSN: sessionDSN}, nil
	default:
		return sessionStoreConfig{}, fmt.Errorf("unsupported session store driver %q", driver)
	}
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		if mode == "production" {
			return ":80"
		}
		return ":8080"
	}
	return listenAddr
}

func resolveDataPath(flagValue, envValue string) string {
	path := strings.TrimSpace(firstNonEmpty(flagValue, envValue))
	if path == "" {
		path = filepath.Join("data", "lanstream.json")
	}
	return path
}

func resolvePath(flagValue, envName, fallback string) string {
	path := strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv(envName)))
	if path == "" {
		return fallback
	}
	return path
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func splitAndTrim(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func resolveInt(flagValue int, envName string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envName)); env != "" {
		if value, err := strconv.Atoi(env); err == nil {
			return value
		}
	}
	return flagValue
}

func resolveFloat(flagValue float64, envName string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envName)); env != "" {
		if value, err := strconv.ParseFloat(env, 64); err == nil {
			return value
		}
	}
	return flagValue
}

func resolveDuration(flagValue time.Duration, envName string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envName)); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}
