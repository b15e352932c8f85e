package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/freeslots/libs/config"
	"github.com/md-rashed-zaman/freeslots/libs/db"
	"github.com/md-rashed-zaman/freeslots/libs/httpx"
	"github.com/md-rashed-zaman/freeslots/libs/kafkax"
	otelx "github.com/md-rashed-zaman/freeslots/libs/otel"
	"github.com/md-rashed-zaman/freeslots/libs/runtime"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/events"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/handlers"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/storage"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "availability-service")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	ctx, stop := runtime.SignalContext(context.Background())
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	persister, checks, closeStorage, err := openPersister(ctx, logger)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		panic(err)
	}
	defer closeStorage()

	brokers := config.String("KAFKA_BROKERS", "")
	eventBuffer, err := config.Int("EVENT_BUFFER", 256)
	if err != nil {
		panic(err)
	}
	publisher := events.NewPublisher(logger, events.PublisherConfig{
		Brokers: brokers,
		Topic:   config.String("KAFKA_CHANGES_TOPIC", "availability.changes.v1"),
		Buffer:  eventBuffer,
	})
	// Not tied to ctx: stopped only after in-flight requests drain.
	eventsCtx, stopEvents := context.WithCancel(context.Background())
	defer stopEvents()
	var (
		notifier   store.Notifier
		eventsDone <-chan struct{}
	)
	if publisher != nil {
		notifier = publisher
		eventsDone = publisher.Done()
		go publisher.Run(eventsCtx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	st := store.New(persister, notifier, logger)
	if err := st.Load(ctx); err != nil {
		logger.Error("availability load failed", "err", err)
		panic(err)
	}

	rateLimitMW, rateLimitCheck, closeLimiter := rateLimiter(logger)
	defer closeLimiter()
	if rateLimitCheck != nil {
		checks = append(checks, *rateLimitCheck)
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.New(st, logger).Register(mux)

	bodyLimit, err := config.Int("BODY_LIMIT_BYTES", 1<<20)
	if err != nil {
		panic(err)
	}
	requestTimeout, err := config.Duration("REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		panic(err)
	}

	middlewares := []httpx.Middleware{
		httpx.WithCORS(httpx.CORSFromOrigins(config.List("CORS_ALLOWED_ORIGINS", "*"))),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(int64(bodyLimit)),
		httpx.WithTimeout(requestTimeout),
	}
	if rateLimitMW != nil {
		middlewares = append(middlewares, rateLimitMW)
	}
	handler := httpx.Chain(mux, middlewares...)
	handler = otelhttp.NewHandler(handler, "availability")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdown(shutdownCtx, srv, stopEvents, eventsDone, logger)
}

// shutdown drains in-flight requests first, then stops the event publisher
// and waits for it to flush. eventsDone may be nil when events are off.
func shutdown(ctx context.Context, srv *http.Server, stopEvents context.CancelFunc, eventsDone <-chan struct{}, logger *slog.Logger) {
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")

	stopEvents()
	if eventsDone == nil {
		return
	}
	select {
	case <-eventsDone:
	case <-ctx.Done():
		logger.Warn("change publisher did not drain before shutdown")
	}
}

// openPersister picks the snapshot backend from STORAGE_BACKEND and returns
// it with its readiness checks and a close func.
func openPersister(ctx context.Context, logger *slog.Logger) (store.Persister, []runtime.ReadyCheck, func(), error) {
	switch backend := strings.ToLower(config.String("STORAGE_BACKEND", "file")); backend {
	case "file":
		files := storage.NewFileSnapshots(config.String("SCHEDULE_DATA_FILE", "students_busy.json"))
		logger.Info("storage backend", "backend", backend, "path", files.Path())
		checks := []runtime.ReadyCheck{{Name: "storage", Check: files.ReadyCheck()}}
		return files, checks, func() {}, nil
	case "postgres":
		dbURL, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return nil, nil, nil, err
		}
		maxConns, err := config.Int("DB_MAX_CONNS", 4)
		if err != nil {
			return nil, nil, nil, err
		}
		pool, err := db.Open(ctx, dbURL, db.PoolConfig{MaxConns: int32(maxConns)})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("db connection: %w", err)
		}
		snapshots := storage.NewPostgresSnapshots(pool)
		if err := snapshots.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		logger.Info("storage backend", "backend", backend)
		checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
		return snapshots, checks, pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown STORAGE_BACKEND %q (want file or postgres)", backend)
	}
}

// rateLimiter uses Redis when REDIS_ADDR is set and an in-process limiter
// otherwise. A limit of zero or less turns rate limiting off.
func rateLimiter(logger *slog.Logger) (httpx.Middleware, *runtime.ReadyCheck, func()) {
	limitPerMinute, err := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		logger.Warn("invalid RATE_LIMIT_PER_MINUTE; using default", "err", err)
		limitPerMinute = 120
	}
	if limitPerMinute <= 0 {
		logger.Info("rate limiting disabled")
		return nil, nil, func() {}
	}

	trustProxy := config.Bool("RATE_LIMIT_TRUST_FORWARDED_FOR", false)
	addr := strings.TrimSpace(config.String("REDIS_ADDR", ""))
	if addr == "" {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rl.TrustForwardedFor = trustProxy
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute, "trust_forwarded_for", trustProxy)
		return rl.Middleware(), nil, func() {}
	}

	redisDB, err := config.Int("REDIS_DB", 0)
	if err != nil || redisDB < 0 {
		redisDB = 0
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       redisDB,
	})
	rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", ""))
	rl.TrustForwardedFor = trustProxy
	logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr, "trust_forwarded_for", trustProxy)
	check := runtime.ReadyCheck{Name: "redis", Check: rl.ReadyCheck()}
	return rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)), &check, func() { _ = rdb.Close() }
}
