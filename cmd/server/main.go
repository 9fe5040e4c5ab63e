package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"driver-analytics/internal/api"
	"driver-analytics/internal/auth"
	"driver-analytics/internal/config"
	"driver-analytics/internal/detect"
	"driver-analytics/internal/persist"
	"driver-analytics/internal/replay"
	"driver-analytics/internal/store"
	"driver-analytics/internal/ws"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, using system environment")
	}
	setupLogging()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage is best-effort: the streaming pipeline keeps working
	// without it, it just stops recording.
	var gateway persist.Gateway
	pg, err := store.NewPostgresStore(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("postgres unavailable, running without durable storage")
	} else {
		gateway = pg
		defer pg.Close()
	}

	var mirror persist.LiveMirror
	var keyLookup auth.KeyLookup
	rds, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, running without live state mirror")
	} else {
		mirror = rds
		keyLookup = rds
		defer rds.Close()
	}

	states := detect.NewStateStore()
	detector := detect.NewDetector(detect.ThresholdsFromConfig(cfg), states)
	scorer := detect.NewScorer(detect.WeightsFromConfig(cfg), states)

	hub := ws.NewHub()
	writer := persist.NewWriter(gateway, mirror, cfg.PersistChannelSize)

	replayer := replay.NewReplayer(
		&replay.CSVSource{Path: cfg.TracksCSV},
		detector,
		scorer,
		states,
		hub,
		writer,
		time.Duration(cfg.EmitIntervalSeconds*float64(time.Second)),
		cfg.DefaultTrackCount,
	)

	var authenticator *auth.Authenticator
	if len(cfg.ValidAPIKeys) > 0 || keyLookup != nil {
		authenticator = auth.NewAuthenticator(cfg, keyLookup)
	}

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewServer(cfg, replayer, hub, pg, authenticator).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		writer.Run(ctx)
		return nil
	})

	g.Go(func() error {
		log.Info().Str("port", cfg.HTTPPort).Msg("http server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		replayer.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

func setupLogging() {
	level, err := zerolog.ParseLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
