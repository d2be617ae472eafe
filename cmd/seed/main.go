package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/directory"
	"github.com/hackgods/telehealth-scheduling/internal/logging"
)

type seedConfig struct {
	Doctors     int
	Patients    int
	Days        int
	FirstHour   int
	LastHour    int
	SlotMinutes int
}

func main() {
	bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	if cfg.StoreDriver != config.StorePostgres {
		bootLog.Fatal().Msg("seed needs STORE_DRIVER=postgres")
	}

	logger := logging.New(cfg.Env, "seed")
	logger.Info().Msg("seed starting")

	sc := seedConfig{
		Doctors:     getInt("SEED_DOCTORS", 20),
		Patients:    getInt("SEED_PATIENTS", 500),
		Days:        getInt("SEED_DAYS", 7),
		FirstHour:   getInt("SEED_FIRST_HOUR", 9),
		LastHour:    getInt("SEED_LAST_HOUR", 17),
		SlotMinutes: getInt("SEED_SLOT_MINUTES", 30),
	}
	if sc.SlotMinutes <= 0 || sc.FirstHour >= sc.LastHour {
		logger.Fatal().Interface("seed", sc).Msg("invalid seed window")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: int32(cfg.PgMaxConns)})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	faker := gofakeit.New(0)

	doctors, err := seedPeople(ctx, pool, faker, directory.RoleDoctor, sc.Doctors)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	logger.Info().Int("count", len(doctors)).Msg("doctors seeded")

	patients, err := seedPeople(ctx, pool, faker, directory.RolePatient, sc.Patients)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}
	logger.Info().Int("count", len(patients)).Msg("patients seeded")

	repo := appointment.NewPgRepository(pool)
	registry := appointment.NewRegistry(repo, repo, nil, nil, zerolog.Nop())

	created, err := seedSlots(ctx, registry, doctors, sc)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed slots")
	}
	logger.Info().Int("count", created).Msg("slots seeded")

	logger.Info().Msg("seed complete")
}

// seedPeople inserts count users of one role. Doctors get short stable ids
// (doc1, doc2, ...) so they are easy to address by hand.
func seedPeople(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, role directory.Role, count int) ([]string, error) {
	const batchSize = 500

	ids := make([]string, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.NewString()
			name := faker.Name()
			if role == directory.RoleDoctor {
				id = fmt.Sprintf("doc%d", i+1)
				name = "Dr. " + name
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, full_name, role, email, created_at)
				VALUES ($1, $2, $3, $4, now())
				ON CONFLICT (id) DO NOTHING
			`, id, name, string(role), faker.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// seedSlots publishes every doctor's working hours for the coming days.
// Slots that already exist are skipped, so the seed can be re-run.
func seedSlots(ctx context.Context, registry *appointment.Registry, doctors []string, sc seedConfig) (int, error) {
	today := appointment.NormalizeDate(time.Now().UTC())
	created := 0

	for _, doctorID := range doctors {
		for d := 1; d <= sc.Days; d++ {
			date := today.AddDate(0, 0, d).Format(appointment.DateLayout)
			for m := sc.FirstHour * 60; m < sc.LastHour*60; m += sc.SlotMinutes {
				at := appointment.ClockTime{Hour: m / 60, Minute: m % 60}.String()

				_, err := registry.CreateSlot(ctx, doctorID, date, at)
				if errors.Is(err, appointment.ErrDuplicateSlot) {
					continue
				}
				if err != nil {
					return created, fmt.Errorf("slot %s %s %s: %w", doctorID, date, at, err)
				}
				created++
			}
		}
	}
	return created, nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
