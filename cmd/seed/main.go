package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/LambdaCodeStudio/Clinica-Backend/internal/db"
	"github.com/LambdaCodeStudio/Clinica-Backend/pkg/logging"
)

var specialties = []string{
	"Dermatology",
	"General Practice",
	"Physiotherapy",
	"Nutrition",
	"Aesthetic Medicine",
	"Odontology",
	"Kinesiology",
	"Psychology",
}

type treatmentSpec struct {
	name      string
	minutes   int
	specialty string // empty means any practitioner may perform it
}

var treatmentCatalog = []treatmentSpec{
	{"Initial consultation", 30, ""},
	{"Follow-up consultation", 20, ""},
	{"Botox application", 45, "Aesthetic Medicine"},
	{"Chemical peel", 60, "Dermatology"},
	{"Laser hair removal", 40, "Dermatology"},
	{"Dental cleaning", 45, "Odontology"},
	{"Physiotherapy session", 50, "Physiotherapy"},
	{"Sports rehab", 60, "Kinesiology"},
	{"Nutrition plan", 40, "Nutrition"},
	{"Therapy session", 50, "Psychology"},
}

func main() {
	practitioners := flag.Int("practitioners", 20, "number of practitioners to create")
	patients := flag.Int("patients", 2000, "number of patients to create")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	_ = godotenv.Load()
	logger := logging.Component(logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV")), "seed")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{MaxConns: 4, ApplicationName: "clinic-seed"})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(*seed)

	bySpecialty, err := seedPractitioners(context.Background(), pool, *practitioners, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed practitioners")
	}
	if err := seedTreatments(context.Background(), pool, bySpecialty, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed treatments")
	}
	if err := seedPatients(context.Background(), pool, *patients, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	logger.Info().Int64("seed", *seed).Msg("seed complete")
}

// seedPractitioners returns the created practitioner ids grouped by specialty.
func seedPractitioners(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) (map[string][]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding practitioners")

	bySpecialty := make(map[string][]uuid.UUID)
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			spec := specialties[i%len(specialties)]
			// roughly one in ten practitioners is on leave
			active := gofakeit.Number(1, 10) > 1

			_, err := tx.Exec(ctx, `
				INSERT INTO practitioners (id, name, specialty, active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, gofakeit.Name(), spec, active)
			if err != nil {
				return err
			}
			if active {
				bySpecialty[spec] = append(bySpecialty[spec], id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Msg("practitioners seeded")
	return bySpecialty, nil
}

func seedTreatments(ctx context.Context, pool *pgxpool.Pool, bySpecialty map[string][]uuid.UUID, logger zerolog.Logger) error {
	logger.Info().Int("count", len(treatmentCatalog)).Msg("seeding treatments")

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, t := range treatmentCatalog {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO treatments (id, name, active, duration_minutes, created_at, updated_at)
				VALUES ($1, $2, TRUE, $3, now(), now())
			`, id, t.name, t.minutes)
			if err != nil {
				return err
			}

			if t.specialty == "" {
				continue
			}
			for _, practitionerID := range bySpecialty[t.specialty] {
				_, err := tx.Exec(ctx, `
					INSERT INTO treatment_practitioners (treatment_id, practitioner_id)
					VALUES ($1, $2)
				`, id, practitionerID)
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			batch.Queue(`
				INSERT INTO patients (id, name, email, phone, notify_email, notify_sms, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email(), gofakeit.Phone(), gofakeit.Bool(), gofakeit.Bool())
		}

		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		logger.Info().Int("seeded", end).Int("total", count).Msg("patients progress")
	}

	logger.Info().Msg("patients seeded")
	return nil
}
