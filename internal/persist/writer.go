// Package persist decouples the replay loop from slow storage. Writes are
// enqueued without blocking and handled by a single worker; when a queue
// is full the write is dropped and counted, never awaited.
package persist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"driver-analytics/internal/domain"
	"driver-analytics/internal/metrics"
)

// Gateway is the durable write path for trips, events and score snapshots.
type Gateway interface {
	EnsureDriver(ctx context.Context, externalID, name string) (int64, error)
	EnsureTrip(ctx context.Context, trackID string, driverID int64, startTime time.Time) (int64, error)
	InsertEvent(ctx context.Context, tripID, driverID int64, e domain.Event) error
	UpsertDriverScore(ctx context.Context, driverID int64, date time.Time, avgSpeed float64,
		overspeedCount, harshBrakeCount, idleCount, riskScore int) error
}

// LiveMirror receives the latest sample per driver for real-time readers
// outside the process.
type LiveMirror interface {
	UpdateLiveState(ctx context.Context, sample domain.TelemetrySample, riskScore int) error
	PublishEvent(ctx context.Context, e domain.Event) error
}

// EventBatch records everything detected from one sample, persisted
// together with the score snapshot taken at that moment.
type EventBatch struct {
	Sample    domain.TelemetrySample
	Events    []domain.Event
	State     domain.DriverState
	RiskScore int
}

// StateUpdate mirrors one sample to the live store.
type StateUpdate struct {
	Sample    domain.TelemetrySample
	RiskScore int
}

// Writer consumes persistence work from buffered channels. Either the
// gateway or the mirror may be nil, in which case that path is skipped.
type Writer struct {
	eventCh chan EventBatch
	stateCh chan StateUpdate

	db     Gateway
	mirror LiveMirror

	driverIDs map[string]int64
	tripIDs   map[string]int64
}

func NewWriter(db Gateway, mirror LiveMirror, queueSize int) *Writer {
	return &Writer{
		eventCh:   make(chan EventBatch, queueSize),
		stateCh:   make(chan StateUpdate, queueSize),
		db:        db,
		mirror:    mirror,
		driverIDs: make(map[string]int64),
		tripIDs:   make(map[string]int64),
	}
}

// EnqueueEvents hands an event batch to the worker. Never blocks; a full
// queue drops the batch.
func (w *Writer) EnqueueEvents(b EventBatch) {
	select {
	case w.eventCh <- b:
	default:
		metrics.PersistDrops.Add(1)
	}
}

// EnqueueState hands a live-state update to the worker. Never blocks.
func (w *Writer) EnqueueState(u StateUpdate) {
	select {
	case w.stateCh <- u:
	default:
		metrics.PersistDrops.Add(1)
	}
}

// Run processes queued work until the context is canceled.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case b := <-w.eventCh:
			w.persistBatch(ctx, b)

		case u := <-w.stateCh:
			w.mirrorState(ctx, u)

		case <-ctx.Done():
			return
		}
	}
}

func (w *Writer) persistBatch(ctx context.Context, b EventBatch) {
	if w.db == nil {
		return
	}

	driverID, tripID, err := w.resolveIDs(ctx, b.Sample)
	if err != nil {
		metrics.PersistFailures.Add(1)
		log.Warn().Err(err).Str("driver", b.Sample.DriverID).Msg("persist: trip resolution failed")
		return
	}

	for _, e := range b.Events {
		if err := w.db.InsertEvent(ctx, tripID, driverID, e); err != nil {
			metrics.PersistFailures.Add(1)
			log.Warn().Err(err).Str("event_type", string(e.Type)).Msg("persist: event insert failed")
			continue
		}
		metrics.PersistSuccess.Add(1)
		if w.mirror != nil {
			if err := w.mirror.PublishEvent(ctx, e); err != nil {
				log.Warn().Err(err).Msg("persist: event publish failed")
			}
		}
	}

	date := b.Sample.Timestamp.Truncate(24 * time.Hour)
	err = w.db.UpsertDriverScore(ctx, driverID, date,
		b.State.LastSpeedKph,
		b.State.OverspeedCount,
		b.State.HarshBrakeCount,
		b.State.IdleCount,
		b.RiskScore,
	)
	if err != nil {
		metrics.PersistFailures.Add(1)
		log.Warn().Err(err).Str("driver", b.Sample.DriverID).Msg("persist: score upsert failed")
		return
	}
	metrics.PersistSuccess.Add(1)
}

func (w *Writer) mirrorState(ctx context.Context, u StateUpdate) {
	if w.mirror == nil {
		return
	}
	if err := w.mirror.UpdateLiveState(ctx, u.Sample, u.RiskScore); err != nil {
		log.Warn().Err(err).Str("driver", u.Sample.DriverID).Msg("persist: live state update failed")
	}
}

// resolveIDs maps the sample's external identifiers to database rows,
// creating and caching them as needed.
func (w *Writer) resolveIDs(ctx context.Context, s domain.TelemetrySample) (driverID, tripID int64, err error) {
	driverID, ok := w.driverIDs[s.DriverID]
	if !ok {
		driverID, err = w.db.EnsureDriver(ctx, s.DriverID, driverName(s.DriverID))
		if err != nil {
			return 0, 0, err
		}
		w.driverIDs[s.DriverID] = driverID
	}

	tripID, ok = w.tripIDs[s.TrackID]
	if !ok {
		tripID, err = w.db.EnsureTrip(ctx, s.TrackID, driverID, s.Timestamp)
		if err != nil {
			return 0, 0, err
		}
		w.tripIDs[s.TrackID] = tripID
	}
	return driverID, tripID, nil
}

// driverName renders "driver_7" as "Driver 7" for the roster.
func driverName(externalID string) string {
	if n, found := strings.CutPrefix(externalID, "driver_"); found {
		return fmt.Sprintf("Driver %s", n)
	}
	return externalID
}
