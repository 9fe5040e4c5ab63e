package replay

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"driver-analytics/internal/detect"
	"driver-analytics/internal/domain"
	"driver-analytics/internal/geo"
	"driver-analytics/internal/metrics"
	"driver-analytics/internal/persist"
)

// StartResult reports the outcome of a Start call.
type StartResult string

const (
	Started        StartResult = "started"
	AlreadyRunning StartResult = "already_running"
)

// Broadcaster fans wire messages out to live observers.
type Broadcaster interface {
	Publish(msg domain.WireMessage)
}

// Sink receives persistence work. Implemented by persist.Writer.
type Sink interface {
	EnqueueEvents(b persist.EventBatch)
	EnqueueState(u persist.StateUpdate)
}

// Replayer paces a stored trajectory set through the detection pipeline.
// One run loop at a time; Stop cancels it cooperatively at point and
// track granularity.
type Replayer struct {
	source   Source
	detector *detect.Detector
	scorer   *detect.Scorer
	states   *detect.StateStore
	hub      Broadcaster
	sink     Sink // may be nil

	pace          time.Duration
	defaultTracks int

	mu      sync.Mutex
	cancel  context.CancelFunc
	running atomic.Bool
	done    chan struct{}
}

func NewReplayer(
	source Source,
	detector *detect.Detector,
	scorer *detect.Scorer,
	states *detect.StateStore,
	hub Broadcaster,
	sink Sink,
	pace time.Duration,
	defaultTracks int,
) *Replayer {
	return &Replayer{
		source:        source,
		detector:      detector,
		scorer:        scorer,
		states:        states,
		hub:           hub,
		sink:          sink,
		pace:          pace,
		defaultTracks: defaultTracks,
	}
}

// Start launches the run loop in the background. A second Start while a
// loop is active is a no-op reporting AlreadyRunning.
func (r *Replayer) Start(driverFilter string) StartResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return AlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.running.Store(true)

	// The goroutine closes the channel captured at spawn time. A later
	// Start may have replaced r.done by the time the cleanup runs, so it
	// must never touch the struct field.
	go func() {
		defer func() {
			r.running.Store(false)
			cancel()
			close(done)
		}()
		r.run(ctx, driverFilter)
	}()

	return Started
}

// Stop requests cancellation of the active run. Idempotent; returns
// without waiting for the loop to unwind.
func (r *Replayer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// IsRunning reports whether a run loop is currently active.
func (r *Replayer) IsRunning() bool {
	return r.running.Load()
}

// Wait blocks until the current run loop exits. Returns immediately if no
// run was ever started.
func (r *Replayer) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (r *Replayer) run(ctx context.Context, driverFilter string) {
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Logger()

	points, err := r.source.Load(ctx)
	if err != nil {
		// Source read failure is fatal to this run only.
		logger.Error().Err(err).Msg("replay aborted: trajectory source unreadable")
		return
	}

	byTrack := make(map[int][]Point)
	for _, p := range points {
		byTrack[p.TrackID] = append(byTrack[p.TrackID], p)
	}

	tracks, ok := r.selectTracks(byTrack, driverFilter, logger)
	if !ok {
		return
	}
	logger.Info().Ints("tracks", tracks).Int("points", len(points)).Msg("replay started")

	for _, trackID := range tracks {
		if ctx.Err() != nil {
			logger.Info().Msg("replay stopped")
			return
		}
		r.replayTrack(ctx, trackID, byTrack[trackID], logger)
	}

	logger.Info().Msg("replay completed")
}

// selectTracks resolves the driver filter to exactly one track, or falls
// back to the first defaultTracks track IDs. An unknown filter reports a
// no-op run, not an error.
func (r *Replayer) selectTracks(byTrack map[int][]Point, driverFilter string, logger zerolog.Logger) ([]int, bool) {
	if driverFilter != "" {
		trackID, err := trackForDriver(driverFilter)
		if err != nil {
			logger.Warn().Str("driver", driverFilter).Msg("replay skipped: unrecognized driver filter")
			return nil, false
		}
		if _, exists := byTrack[trackID]; !exists {
			logger.Warn().Str("driver", driverFilter).Int("track", trackID).Msg("replay skipped: no track for driver")
			return nil, false
		}
		return []int{trackID}, true
	}

	all := make([]int, 0, len(byTrack))
	for id := range byTrack {
		all = append(all, id)
	}
	sort.Ints(all)
	if len(all) > r.defaultTracks {
		all = all[:r.defaultTracks]
	}
	return all, true
}

func (r *Replayer) replayTrack(ctx context.Context, trackID int, points []Point, logger zerolog.Logger) {
	driverID := fmt.Sprintf("driver_%d", trackID)
	trackRef := strconv.Itoa(trackID)
	logger.Info().Str("driver", driverID).Int("points", len(points)).Msg("replaying track")

	var prev *Point
	for i := range points {
		if ctx.Err() != nil {
			logger.Info().Str("driver", driverID).Msg("track stopped")
			return
		}
		p := points[i]

		// Speed comes from the previous point of this track; the first
		// point has no predecessor and moves at 0.
		speedKph := 0.0
		if prev != nil {
			speedKph = geo.SpeedKph(
				prev.Latitude, prev.Longitude, prev.Timestamp,
				p.Latitude, p.Longitude, p.Timestamp,
			)
		}

		// Acceleration reflects the detector's view of driver history,
		// not the replay-local previous point.
		accelKphS := 0.0
		if lastSpeed, lastTs, seen := r.states.Last(driverID); seen {
			accelKphS = geo.AccelerationKphS(lastSpeed, lastTs, speedKph, p.Timestamp)
		}

		sample := domain.TelemetrySample{
			DriverID:  driverID,
			TrackID:   trackRef,
			Timestamp: p.Timestamp,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			SpeedKph:  speedKph,
			AccelKphS: accelKphS,
		}

		events := r.detector.Observe(driverID, p.Timestamp, p.Latitude, p.Longitude, speedKph, accelKphS)
		state := r.states.Snapshot(driverID)
		score := r.scorer.Score(state)

		r.hub.Publish(domain.TelemetryMessage(sample))
		r.hub.Publish(domain.ScoreMessage(driverID, score, state))
		for _, e := range events {
			r.hub.Publish(domain.EventMessage(e))
		}
		metrics.PointsReplayed.Add(1)
		metrics.MessagesPublished.Add(int64(2 + len(events)))
		metrics.EventsDetected.Add(int64(len(events)))

		if r.sink != nil {
			r.sink.EnqueueState(persist.StateUpdate{Sample: sample, RiskScore: score})
			if len(events) > 0 {
				r.sink.EnqueueEvents(persist.EventBatch{
					Sample:    sample,
					Events:    events,
					State:     *state,
					RiskScore: score,
				})
			}
		}

		prev = &points[i]

		if r.pace > 0 {
			select {
			case <-ctx.Done():
				logger.Info().Str("driver", driverID).Msg("track stopped")
				return
			case <-time.After(r.pace):
			}
		}
	}
}

// trackForDriver maps "driver_7" to track 7.
func trackForDriver(driverID string) (int, error) {
	raw, found := strings.CutPrefix(driverID, "driver_")
	if !found {
		return 0, fmt.Errorf("driver id %q does not name a track", driverID)
	}
	return strconv.Atoi(raw)
}
