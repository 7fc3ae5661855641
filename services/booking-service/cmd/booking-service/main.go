package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"
	_ "time/tzdata"

	"github.com/agendaly/agendaly/libs/auth"
	"github.com/agendaly/agendaly/libs/db"
	"github.com/agendaly/agendaly/libs/httpx"
	"github.com/agendaly/agendaly/libs/kafkax"
	otelx "github.com/agendaly/agendaly/libs/otel"
	"github.com/agendaly/agendaly/libs/runtime"
	"github.com/agendaly/agendaly/services/booking-service/internal/booking"
	"github.com/agendaly/agendaly/services/booking-service/internal/grpcserver"
	"github.com/agendaly/agendaly/services/booking-service/internal/handlers"
	"github.com/agendaly/agendaly/services/booking-service/internal/outbox"
	"github.com/agendaly/agendaly/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.Service)

	ctx, stop := runtime.SignalContext(context.Background(), logger)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL, storage.Migrations, "migrations", logger); err != nil {
			logger.Error("migrations failed", "err", err)
			panic(err)
		}
	}

	pool, err := db.Open(ctx, db.Config{URL: cfg.DatabaseURL, MaxConns: int32(cfg.DBMaxConns)})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	repo := storage.NewRepository(pool, outboxRepo)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: cfg.OutboxPoll,
		BatchSize: cfg.OutboxBatch,
	})
	go outboxPublisher.Run(ctx)

	verifier, err := newVerifier(cfg)
	if err != nil {
		logger.Error("auth setup failed", "err", err)
		panic(err)
	}

	svc := booking.NewService(booking.NewPostgresStore(repo), logger, booking.Options{
		AggregateConcurrency:   cfg.AggregateConcurrency,
		ReminderOffsetsMinutes: cfg.ReminderOffsets,
	})

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if brokers := kafkax.SplitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	limiter, redisCheck := newLimiter(cfg, logger)
	if redisCheck != nil && !cfg.RateLimitFailOpen {
		checks = append(checks, *redisCheck)
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.New(svc, logger).Register(mux,
		httpx.RateLimit(limiter, httpx.ClientIP, logger, cfg.RateLimitFailOpen),
		auth.Middleware(verifier),
	)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", httpx.RequestIDHeader, "Idempotency-Key"},
			ExposedHeaders: []string{httpx.RequestIDHeader, handlers.ReplayedHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(cfg.BodyLimit),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpcserver.New(logger, 10*time.Second, checks...)
	go func() {
		if err := grpcSrv.Run(ctx, ":"+cfg.GRPCPort); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func newVerifier(cfg appConfig) (*auth.Verifier, error) {
	vc := auth.VerifierConfig{
		HMACSecret: cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
	}
	if cfg.JWKSURL != "" {
		vc.JWKS = auth.NewJWKSClient(cfg.JWKSURL, 10*time.Minute)
	}
	return auth.NewVerifier(vc)
}

// newLimiter uses Redis when REDIS_ADDR is set so every instance shares one
// budget, and an in-process limiter otherwise.
func newLimiter(cfg appConfig, logger *slog.Logger) (httpx.Limiter, *runtime.ReadyCheck) {
	if cfg.RedisAddr == "" {
		logger.Info("rate limiting enabled (memory)", "per_minute", cfg.RateLimitPerMin)
		return httpx.NewMemoryLimiter(cfg.RateLimitPerMin, time.Minute), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	logger.Info("rate limiting enabled (redis)", "per_minute", cfg.RateLimitPerMin, "redis_addr", cfg.RedisAddr)
	check := runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}}
	return httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMin, time.Minute, "booking:rl"), &check
}
