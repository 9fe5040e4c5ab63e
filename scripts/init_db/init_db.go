package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"driver-analytics/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found — using system environment variables")
	}
	cfg := config.Load()

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
	)

	ctx := context.Background()

	fmt.Println("Connecting to Postgres...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Postgres is running:\n  docker-compose up -d postgres", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1_drivers(ctx, conn)
	step2_trips(ctx, conn)
	step3_events(ctx, conn)
	step4_scores(ctx, conn)
	step5_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

func step1_drivers(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: drivers table ───────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS drivers (
			id          BIGSERIAL    PRIMARY KEY,
			external_id VARCHAR(128) NOT NULL UNIQUE,
			name        VARCHAR(255),
			created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);
	`, "drivers table created")
}

func step2_trips(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: trips table ─────────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS trips (
			id         BIGSERIAL    PRIMARY KEY,
			track_id   VARCHAR(128) NOT NULL UNIQUE,
			driver_id  BIGINT       REFERENCES drivers(id),
			start_time TIMESTAMPTZ,
			end_time   TIMESTAMPTZ,
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);
	`, "trips table created")
}

func step3_events(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: events table ────────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS events (
			id                 BIGSERIAL        PRIMARY KEY,
			trip_id            BIGINT           REFERENCES trips(id),
			driver_id          BIGINT           REFERENCES drivers(id),
			event_type         VARCHAR(64)      NOT NULL,
			timestamp          TIMESTAMPTZ      NOT NULL,
			lat                DOUBLE PRECISION NOT NULL,
			lon                DOUBLE PRECISION NOT NULL,
			speed_kph          DOUBLE PRECISION NOT NULL DEFAULT 0,
			acceleration_kph_s DOUBLE PRECISION NOT NULL DEFAULT 0,
			meta               JSONB            NOT NULL DEFAULT '{}',
			created_at         TIMESTAMPTZ      NOT NULL DEFAULT NOW()
		);
	`, "events table created")

	execOrFatal(ctx, conn,
		`CREATE INDEX IF NOT EXISTS idx_events_driver_ts ON events (driver_id, timestamp DESC);`,
		"events index created",
	)
}

func step4_scores(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: driver_scores table ─────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS driver_scores (
			id                BIGSERIAL        PRIMARY KEY,
			driver_id         BIGINT           REFERENCES drivers(id),
			date              DATE             NOT NULL,
			avg_speed         DOUBLE PRECISION NOT NULL DEFAULT 0,
			overspeed_count   INTEGER          NOT NULL DEFAULT 0,
			harsh_brake_count INTEGER          NOT NULL DEFAULT 0,
			idle_count        INTEGER          NOT NULL DEFAULT 0,
			risk_score        INTEGER          NOT NULL DEFAULT 100,
			created_at        TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
			UNIQUE (driver_id, date)
		);
	`, "driver_scores table created")
}

func step5_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 5: verify ──────────────────────────────")

	for _, table := range []string{"drivers", "trips", "events", "driver_scores"} {
		var count int
		err := conn.QueryRow(ctx,
			"SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1", table,
		).Scan(&count)
		if err != nil || count == 0 {
			log.Fatalf("table %s missing after init: %v", table, err)
		}
		fmt.Printf("✓ %s\n", table)
	}
}

func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	if _, err := conn.Exec(ctx, sql); err != nil {
		log.Fatalf("%s failed: %v", label, err)
	}
	fmt.Printf("✓ %s\n", label)
}
