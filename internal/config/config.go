package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	// HTTP
	HTTPPort string

	// Postgres
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Replay
	TracksCSV           string
	EmitIntervalSeconds float64
	DefaultTrackCount   int

	// Detection thresholds
	OverspeedKph         float64
	HarshBrakeKphS       float64
	SuddenAccelKphS      float64
	IdleSecondsThreshold float64

	// Scoring
	ScoreBase             int
	ScoreOverspeedWeight  int
	ScoreHarshBrakeWeight int
	ScoreIdleWeight       int

	// Persistence pipeline
	PersistChannelSize int

	// API
	APIDefaultLimit int
	APIMaxLimit     int

	// Auth
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string
}

func Load() *Config {
	return &Config{
		HTTPPort:              getEnv("HTTP_PORT", "8000"),
		DBHost:                getEnv("DB_HOST", "localhost"),
		DBPort:                getEnv("DB_PORT", "5432"),
		DBUser:                getEnv("DB_USER", "postgres"),
		DBPassword:            getEnv("DB_PASSWORD", "password"),
		DBName:                getEnv("DB_NAME", "driverdb"),
		DBMaxConns:            int32(getEnvInt("DB_MAX_CONNS", 10)),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		TracksCSV:             getEnv("TRACKSPOINTS_CSV", "GPS Trajectory/go_track_trackspoints.csv"),
		EmitIntervalSeconds:   getEnvFloat("EMIT_INTERVAL_SECONDS", 3.0),
		DefaultTrackCount:     getEnvInt("DEFAULT_TRACK_COUNT", 3),
		OverspeedKph:          getEnvFloat("OVERSPEED_KPH", 50),
		HarshBrakeKphS:        getEnvFloat("HARSH_BRAKE_KPH_S", -5),
		SuddenAccelKphS:       getEnvFloat("SUDDEN_ACCEL_KPH_S", 5),
		IdleSecondsThreshold:  getEnvFloat("IDLE_SECONDS_THRESHOLD", 30),
		ScoreBase:             getEnvInt("SCORE_BASE", 100),
		ScoreOverspeedWeight:  getEnvInt("SCORE_OVERSPEED_WEIGHT", 2),
		ScoreHarshBrakeWeight: getEnvInt("SCORE_HARSH_BRAKE_WEIGHT", 3),
		ScoreIdleWeight:       getEnvInt("SCORE_IDLE_WEIGHT", 1),
		PersistChannelSize:    getEnvInt("PERSIST_CHANNEL_SIZE", 1000),
		APIDefaultLimit:       getEnvInt("API_DEFAULT_LIMIT", 100),
		APIMaxLimit:           getEnvInt("API_MAX_LIMIT", 1000),
		AuthCacheTTLSeconds:   getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:          splitKeys(getEnv("VALID_API_KEYS", "")),
	}
}

func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
