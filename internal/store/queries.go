package store

import (
	"context"
	"fmt"
	"time"
)

// Row shapes returned to the dashboard API.

type DriverRecord struct {
	ID           int64        `json:"id"`
	ExternalID   string       `json:"external_id"`
	Name         string       `json:"name"`
	CreatedAt    time.Time    `json:"created_at"`
	CurrentScore *ScoreRecord `json:"current_score"`
}

type ScoreRecord struct {
	ID              int64     `json:"id,omitempty"`
	DriverID        int64     `json:"driver_id,omitempty"`
	Date            time.Time `json:"date"`
	AvgSpeed        float64   `json:"avg_speed"`
	OverspeedCount  int       `json:"overspeed_count"`
	HarshBrakeCount int       `json:"harsh_brake_count"`
	IdleCount       int       `json:"idle_count"`
	RiskScore       int       `json:"risk_score"`
}

type EventRecord struct {
	ID        int64          `json:"id"`
	TripID    int64          `json:"trip_id"`
	DriverID  int64          `json:"driver_id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Latitude  float64        `json:"lat"`
	Longitude float64        `json:"lon"`
	SpeedKph  float64        `json:"speed_kph"`
	AccelKphS float64        `json:"acceleration_kph_s"`
	Meta      map[string]any `json:"meta"`
	CreatedAt time.Time      `json:"created_at"`
}

type TripRecord struct {
	ID        int64      `json:"id"`
	TrackID   string     `json:"track_id"`
	DriverID  int64      `json:"driver_id"`
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	CreatedAt time.Time  `json:"created_at"`
}

type EventStats struct {
	TotalEvents int            `json:"total_events"`
	ByType      map[string]int `json:"by_type"`
}

// demoDrivers is the fixed demo roster served by the dashboard: one driver
// per default replay track.
var demoDrivers = []string{"driver_1", "driver_2", "driver_3"}

// ListDrivers returns the demo roster with each driver's latest score
// snapshot, creating missing driver rows on first call.
func (s *PostgresStore) ListDrivers(ctx context.Context) ([]DriverRecord, error) {
	for i, externalID := range demoDrivers {
		if _, err := s.EnsureDriver(ctx, externalID, fmt.Sprintf("Driver %d", i+1)); err != nil {
			return nil, err
		}
	}

	query := `
		SELECT d.id, d.external_id, d.name, d.created_at,
		       sc.id, sc.driver_id, sc.date, sc.avg_speed,
		       sc.overspeed_count, sc.harsh_brake_count, sc.idle_count, sc.risk_score
		FROM drivers d
		LEFT JOIN LATERAL (
			SELECT * FROM driver_scores
			WHERE driver_id = d.id
			ORDER BY created_at DESC
			LIMIT 1
		) sc ON true
		WHERE d.external_id = ANY($1)
		ORDER BY d.external_id
	`
	rows, err := s.pool.Query(ctx, query, demoDrivers)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	defer rows.Close()

	var drivers []DriverRecord
	for rows.Next() {
		var d DriverRecord
		var sc ScoreRecord
		var scoreID, scoreDriverID *int64
		var scoreDate *time.Time
		var avgSpeed *float64
		var over, brake, idle, risk *int

		err := rows.Scan(
			&d.ID, &d.ExternalID, &d.Name, &d.CreatedAt,
			&scoreID, &scoreDriverID, &scoreDate, &avgSpeed,
			&over, &brake, &idle, &risk,
		)
		if err != nil {
			return nil, fmt.Errorf("scan driver row: %w", err)
		}

		if scoreID != nil {
			sc = ScoreRecord{
				ID:              *scoreID,
				DriverID:        *scoreDriverID,
				Date:            *scoreDate,
				AvgSpeed:        *avgSpeed,
				OverspeedCount:  *over,
				HarshBrakeCount: *brake,
				IdleCount:       *idle,
				RiskScore:       *risk,
			}
			d.CurrentScore = &sc
		}
		drivers = append(drivers, d)
	}
	return drivers, rows.Err()
}

// ListEvents returns recent events, newest first. driverID 0 means all
// drivers.
func (s *PostgresStore) ListEvents(ctx context.Context, driverID int64, limit, offset int) ([]EventRecord, error) {
	query := `
		SELECT id, trip_id, driver_id, event_type, timestamp,
		       lat, lon, speed_kph, acceleration_kph_s, meta, created_at
		FROM events
		WHERE ($1 = 0 OR driver_id = $1)
		ORDER BY timestamp DESC
		OFFSET $2 LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, driverID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		err := rows.Scan(
			&e.ID, &e.TripID, &e.DriverID, &e.EventType, &e.Timestamp,
			&e.Latitude, &e.Longitude, &e.SpeedKph, &e.AccelKphS, &e.Meta, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetEventStats returns totals of persisted events by type. driverID 0
// means all drivers.
func (s *PostgresStore) GetEventStats(ctx context.Context, driverID int64) (EventStats, error) {
	query := `
		SELECT event_type, COUNT(id)
		FROM events
		WHERE ($1 = 0 OR driver_id = $1)
		GROUP BY event_type
	`
	rows, err := s.pool.Query(ctx, query, driverID)
	if err != nil {
		return EventStats{}, fmt.Errorf("event stats: %w", err)
	}
	defer rows.Close()

	stats := EventStats{ByType: make(map[string]int)}
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return EventStats{}, fmt.Errorf("scan stats row: %w", err)
		}
		stats.ByType[eventType] = count
		stats.TotalEvents += count
	}
	return stats, rows.Err()
}

// GetDriverTrips returns a driver's trips, most recent first.
func (s *PostgresStore) GetDriverTrips(ctx context.Context, driverID int64, limit, offset int) ([]TripRecord, error) {
	query := `
		SELECT id, track_id, driver_id, start_time, end_time, created_at
		FROM trips
		WHERE driver_id = $1
		ORDER BY start_time DESC NULLS LAST
		OFFSET $2 LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, driverID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()

	var trips []TripRecord
	for rows.Next() {
		var t TripRecord
		if err := rows.Scan(&t.ID, &t.TrackID, &t.DriverID, &t.StartTime, &t.EndTime, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trip row: %w", err)
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// GetDriverScores returns a driver's daily score snapshots for the last
// `days` days, newest first.
func (s *PostgresStore) GetDriverScores(ctx context.Context, driverID int64, days int) ([]ScoreRecord, error) {
	query := `
		SELECT id, driver_id, date, avg_speed,
		       overspeed_count, harsh_brake_count, idle_count, risk_score
		FROM driver_scores
		WHERE driver_id = $1 AND date >= CURRENT_DATE - $2::int
		ORDER BY date DESC
	`
	rows, err := s.pool.Query(ctx, query, driverID, days)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	defer rows.Close()

	var scores []ScoreRecord
	for rows.Next() {
		var sc ScoreRecord
		err := rows.Scan(
			&sc.ID, &sc.DriverID, &sc.Date, &sc.AvgSpeed,
			&sc.OverspeedCount, &sc.HarshBrakeCount, &sc.IdleCount, &sc.RiskScore,
		)
		if err != nil {
			return nil, fmt.Errorf("scan score row: %w", err)
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}
