package main

import (
	"time"

	"github.com/agendaly/agendaly/libs/config"
)

type appConfig struct {
	Service  string
	Port     string
	GRPCPort string

	DatabaseURL    string
	DBMaxConns     int
	MigrateOnStart bool

	KafkaBrokers string
	OutboxPoll   time.Duration
	OutboxBatch  int

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RateLimitPerMin   int
	RateLimitFailOpen bool

	JWTSecret   string
	JWKSURL     string
	JWTIssuer   string
	JWTAudience string

	ReminderOffsets      []int
	AggregateConcurrency int

	CORSOrigins    []string
	BodyLimit      int64
	RequestTimeout time.Duration
}

func loadConfig() (appConfig, error) {
	var (
		cfg appConfig
		err error
	)
	cfg.Service = config.String("SERVICE_NAME", "booking-service")
	if cfg.Port, err = config.Port("PORT", "8083"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9093"); err != nil {
		return cfg, err
	}
	if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return cfg, err
	}
	if cfg.DBMaxConns, err = config.Int("DB_MAX_CONNS", 10); err != nil {
		return cfg, err
	}
	if cfg.MigrateOnStart, err = config.Bool("MIGRATE_ON_START", true); err != nil {
		return cfg, err
	}

	cfg.KafkaBrokers = config.String("KAFKA_BROKERS", "")
	if cfg.OutboxPoll, err = config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.OutboxBatch, err = config.Int("OUTBOX_BATCH_SIZE", 50); err != nil {
		return cfg, err
	}

	cfg.RedisAddr = config.String("REDIS_ADDR", "")
	cfg.RedisPassword = config.String("REDIS_PASSWORD", "")
	if cfg.RedisDB, err = config.Int("REDIS_DB", 0); err != nil {
		return cfg, err
	}
	if cfg.RateLimitPerMin, err = config.Int("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return cfg, err
	}
	if cfg.RateLimitFailOpen, err = config.Bool("RATE_LIMIT_FAIL_OPEN", true); err != nil {
		return cfg, err
	}

	cfg.JWTSecret = config.String("JWT_SECRET", "")
	cfg.JWKSURL = config.String("JWKS_URL", "")
	cfg.JWTIssuer = config.String("JWT_ISSUER", "")
	cfg.JWTAudience = config.String("JWT_AUDIENCE", "")

	if cfg.ReminderOffsets, err = config.IntList("REMINDER_OFFSETS_MINUTES", []int{1440, 60}); err != nil {
		return cfg, err
	}
	if cfg.AggregateConcurrency, err = config.Int("AGGREGATE_CONCURRENCY", 8); err != nil {
		return cfg, err
	}

	cfg.CORSOrigins = config.List("CORS_ALLOWED_ORIGINS")
	bodyLimit, err := config.Int("HTTP_BODY_LIMIT_BYTES", 1<<20)
	if err != nil {
		return cfg, err
	}
	cfg.BodyLimit = int64(bodyLimit)
	if cfg.RequestTimeout, err = config.Duration("HTTP_REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}
