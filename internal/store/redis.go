package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"driver-analytics/internal/config"
	"driver-analytics/internal/domain"
)

// RedisStore mirrors the latest per-driver state for off-process consumers
// and backs API-key lookups. All pipeline writes through it are
// best-effort; a failure never reaches the replay loop.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// UpdateLiveState writes the driver's latest sample and score into a TTL'd
// hash, refreshes the geo index, and publishes the sample on the live
// telemetry channel.
func (r *RedisStore) UpdateLiveState(ctx context.Context, sample domain.TelemetrySample, riskScore int) error {
	stateData := map[string]interface{}{
		"driver_id":  sample.DriverID,
		"track_id":   sample.TrackID,
		"lat":        sample.Latitude,
		"lon":        sample.Longitude,
		"speed_kph":  sample.SpeedKph,
		"accel":      sample.AccelKphS,
		"risk_score": riskScore,
		"timestamp":  sample.Timestamp.Unix(),
	}

	pubPayload, err := json.Marshal(stateData)
	if err != nil {
		return fmt.Errorf("failed to marshal live state: %w", err)
	}

	stateKey := fmt.Sprintf("driver:%s:state", sample.DriverID)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, stateKey, stateData)
	pipe.Expire(ctx, stateKey, 60*time.Second)
	pipe.GeoAdd(ctx, "drivers:geo", &redis.GeoLocation{
		Name:      sample.DriverID,
		Longitude: sample.Longitude,
		Latitude:  sample.Latitude,
	})
	pipe.Publish(ctx, "telemetry:live", pubPayload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// PublishEvent pushes a detected event on the live events channel.
func (r *RedisStore) PublishEvent(ctx context.Context, e domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.client.Publish(ctx, "events:live", payload).Err()
}

// GetAPIKey resolves an API key to its owner, or "" when unknown.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	key := fmt.Sprintf("dashboard:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}
