package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/api"
	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/directory"
	"github.com/hackgods/telehealth-scheduling/internal/events"
	"github.com/hackgods/telehealth-scheduling/internal/logging"
	"github.com/hackgods/telehealth-scheduling/internal/meeting"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
)

var version = "dev"

func main() {
	bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, "api-server")
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo   appointment.Repository
		people directory.Directory
		checks []api.Check
	)

	switch cfg.StoreDriver {
	case config.StorePostgres:
		pgPool := connectPostgres(rootCtx, cfg, logger)
		defer pgPool.Close()

		repo = appointment.NewPgRepository(pgPool)
		people = directory.NewPgDirectory(pgPool)
		checks = append(checks, api.Check{Name: "postgres", Required: true, Ping: pgPool.Ping})
	default:
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		repo = appointment.NewMemoryRepository()
		people = directory.NewStaticDirectory()
	}

	cachedPeople, err := directory.NewCached(people, cfg.DirectoryCacheSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("directory cache error")
	}

	// Connect Redis
	var (
		locker    redisclient.Locker
		linkCache meeting.LinkCache = meeting.NewMemoryLinkCache()
	)
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.Connect(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

		locker = redisclient.NewSlotLocker(rdb, cfg.LockTTL)
		linkCache = redisclient.NewLinkCache(rdb, cfg.MeetingLinkTTL)
		checks = append(checks, api.Check{Name: "redis", Ping: pingRedis(rdb)})
	}

	var publisher events.Publisher
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("amqp connection error")
		}
		defer func() {
			if err := amqpPublisher.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing amqp")
			}
		}()
		publisher = amqpPublisher
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("publishing events to RabbitMQ")
	}

	issuer, err := buildIssuer(cfg, linkCache, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("meeting issuer error")
	}

	registry := appointment.NewRegistry(repo, repo, publisher, locker, logger)
	coordinator := appointment.NewCoordinator(registry, repo, issuer, publisher, appointment.RetryPolicyFromConfig(cfg), logger)
	queries := appointment.NewQueryService(repo, cachedPeople, logger)

	router := api.NewRouter(api.RouterConfig{
		Registry:         registry,
		Coordinator:      coordinator,
		Queries:          queries,
		Directory:        cachedPeople,
		Checks:           checks,
		Logger:           logger,
		Env:              cfg.Env,
		Version:          version,
		BookingRateLimit: cfg.BookingRateLimit,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()

	logger.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func connectPostgres(ctx context.Context, cfg config.Config, logger zerolog.Logger) *pgxpool.Pool {
	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	defer cancelPg()

	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, poolOptions(cfg, logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	logger.Info().Msg("connected to Postgres")

	applied, err := db.Migrate(pgCtx, pgPool)
	if err != nil {
		pgPool.Close()
		logger.Fatal().Err(err).Msg("postgres migration error")
	}
	logger.Info().Int("applied", applied).Msg("schema up to date")

	return pgPool
}

func poolOptions(cfg config.Config, logger zerolog.Logger) db.PoolOptions {
	opts := db.PoolOptions{MaxConns: int32(cfg.PgMaxConns), MinConns: 1}
	if cfg.LogQueries {
		opts.Logger = &logger
	}
	return opts
}

func buildIssuer(cfg config.Config, cache meeting.LinkCache, logger zerolog.Logger) (meeting.Issuer, error) {
	var upstream meeting.Issuer
	if cfg.MeetingServiceURL != "" {
		upstream = meeting.NewHTTPIssuer(cfg.MeetingServiceURL, cfg.IssueAttemptTimeout)
		logger.Info().Str("endpoint", cfg.MeetingServiceURL).Msg("issuing links through meeting service")
	} else {
		rooms, err := meeting.NewRoomIssuer(cfg.MeetingBaseURL)
		if err != nil {
			return nil, err
		}
		upstream = rooms
		logger.Info().Str("base_url", cfg.MeetingBaseURL).Msg("issuing room links")
	}
	return meeting.NewCachedIssuer(upstream, cache, logger), nil
}

func pingRedis(rdb *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
