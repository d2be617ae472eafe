package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/events"
	"github.com/hackgods/telehealth-scheduling/internal/logging"
	"github.com/hackgods/telehealth-scheduling/internal/meeting"
)

func main() {
	bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, "release-worker")
	if cfg.StoreDriver != config.StorePostgres {
		logger.Fatal().Str("store", cfg.StoreDriver).Msg("release worker needs the postgres store")
	}

	logger.Info().
		Dur("interval", cfg.WorkerInterval).
		Dur("reservation_ttl", cfg.ReservationTTL).
		Msg("release-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4, MinConns: 1})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	var publisher events.Publisher
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("amqp connection error")
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	repo := appointment.NewPgRepository(pgPool)
	registry := appointment.NewRegistry(repo, repo, publisher, nil, logger)

	// Recovery never issues links; the issuer is only there to satisfy the
	// coordinator.
	rooms, err := meeting.NewRoomIssuer(cfg.MeetingBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("meeting issuer error")
	}
	coordinator := appointment.NewCoordinator(registry, repo, rooms, publisher, appointment.RetryPolicyFromConfig(cfg), logger)

	// Run once at startup
	runOnce(rootCtx, coordinator, cfg.ReservationTTL, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping release worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, coordinator, cfg.ReservationTTL, logger)
		}
	}
}

func runOnce(ctx context.Context, coordinator *appointment.Coordinator, maxAge time.Duration, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	res, err := coordinator.RecoverStaleReservations(runCtx, maxAge)
	if err != nil {
		logger.Error().Err(err).Msg("release run error")
		return
	}
	logger.Info().
		Int("booked", res.Booked).
		Int("released", res.Released).
		Int("orphaned", res.Orphaned).
		Int("errors", res.Errors).
		Dur("took", time.Since(start)).
		Msg("release run complete")
}
