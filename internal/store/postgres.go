package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"

	"driver-analytics/internal/config"
	"driver-analytics/internal/domain"
)

// PostgresStore is the durable write and query path for drivers, trips,
// events and score snapshots.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureDriver creates the driver row if needed and returns its id.
func (s *PostgresStore) EnsureDriver(ctx context.Context, externalID, name string) (int64, error) {
	query := `
		INSERT INTO drivers (external_id, name)
		VALUES ($1, $2)
		ON CONFLICT (external_id) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`
	var id int64
	if err := s.pool.QueryRow(ctx, query, externalID, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("ensure driver %s: %w", externalID, err)
	}
	return id, nil
}

// EnsureTrip creates the trip row for a track if needed and returns its id.
func (s *PostgresStore) EnsureTrip(ctx context.Context, trackID string, driverID int64, startTime time.Time) (int64, error) {
	query := `
		INSERT INTO trips (track_id, driver_id, start_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (track_id) DO UPDATE SET driver_id = EXCLUDED.driver_id
		RETURNING id
	`
	var id int64
	if err := s.pool.QueryRow(ctx, query, trackID, driverID, startTime).Scan(&id); err != nil {
		return 0, fmt.Errorf("ensure trip %s: %w", trackID, err)
	}
	return id, nil
}

// InsertEvent persists one detected event.
func (s *PostgresStore) InsertEvent(ctx context.Context, tripID, driverID int64, e domain.Event) error {
	meta, err := json.Marshal(e.Meta)
	if err != nil {
		return fmt.Errorf("marshal event meta: %w", err)
	}

	query := `
		INSERT INTO events
			(trip_id, driver_id, event_type, timestamp, lat, lon, speed_kph, acceleration_kph_s, meta)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.pool.Exec(ctx, query,
		tripID,
		driverID,
		string(e.Type),
		e.Timestamp,
		e.Latitude,
		e.Longitude,
		e.SpeedKph,
		e.AccelKphS,
		meta,
	)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", e.Type, err)
	}
	return nil
}

// UpsertDriverScore writes the per-day score snapshot, replacing any
// earlier snapshot for the same driver and date.
func (s *PostgresStore) UpsertDriverScore(
	ctx context.Context,
	driverID int64,
	date time.Time,
	avgSpeed float64,
	overspeedCount, harshBrakeCount, idleCount, riskScore int,
) error {
	query := `
		INSERT INTO driver_scores
			(driver_id, date, avg_speed, overspeed_count, harsh_brake_count, idle_count, risk_score)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (driver_id, date) DO UPDATE SET
			avg_speed         = EXCLUDED.avg_speed,
			overspeed_count   = EXCLUDED.overspeed_count,
			harsh_brake_count = EXCLUDED.harsh_brake_count,
			idle_count        = EXCLUDED.idle_count,
			risk_score        = EXCLUDED.risk_score
	`
	_, err := s.pool.Exec(ctx, query,
		driverID,
		date,
		avgSpeed,
		overspeedCount,
		harshBrakeCount,
		idleCount,
		riskScore,
	)
	if err != nil {
		return fmt.Errorf("upsert score for driver %d: %w", driverID, err)
	}
	return nil
}
