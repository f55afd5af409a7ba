package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/hackgods/doctalk-booking/internal/appointment"
	"github.com/hackgods/doctalk-booking/internal/db"
	"github.com/hackgods/doctalk-booking/internal/patient"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")
	_ = godotenv.Load()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	if err := seedDoctors(context.Background(), pool, faker, envInt("SEED_DOCTORS", 20)); err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, faker, envInt("SEED_PATIENTS", 2000)); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"Family Medicine",
		"Dermatology",
		"Cardiology",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	hours, err := appointment.EncodeWorkingHours(appointment.DefaultWorkingHours())
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		spec := specialties[faker.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, code, first_name, last_name, specialty, is_active, is_available, working_hours, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, true, true, $6, now(), now())
			ON CONFLICT (code) DO NOTHING
		`, uuid.New(), fmt.Sprintf("D%03d", i+1), faker.FirstName(), faker.LastName(), spec, hours)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			phone := faker.Phone()
			digits := patient.NormalizePhone(phone, patient.DefaultRegion)
			email := faker.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, code, first_name, last_name, phone, phone_digits, email, is_active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, true, now(), now())
				ON CONFLICT (code) DO NOTHING
			`, uuid.New(), fmt.Sprintf("P%05d", i+1), faker.FirstName(), faker.LastName(), phone, digits, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
