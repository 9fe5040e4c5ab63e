package replay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driver-analytics/internal/detect"
	"driver-analytics/internal/domain"
	"driver-analytics/internal/persist"
)

type stubSource struct {
	points []Point
	err    error
}

func (s *stubSource) Load(ctx context.Context) ([]Point, error) {
	return s.points, s.err
}

type recordingHub struct {
	mu       sync.Mutex
	messages []domain.WireMessage
}

func (h *recordingHub) Publish(msg domain.WireMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *recordingHub) all() []domain.WireMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.WireMessage(nil), h.messages...)
}

type recordingSink struct {
	mu      sync.Mutex
	batches []persist.EventBatch
	states  []persist.StateUpdate
}

func (s *recordingSink) EnqueueEvents(b persist.EventBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
}

func (s *recordingSink) EnqueueState(u persist.StateUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, u)
}

var base = time.Date(2014, 9, 13, 7, 0, 0, 0, time.UTC)

// twoTrackPoints builds two short stationary tracks.
func twoTrackPoints() []Point {
	return []Point{
		{TrackID: 1, Latitude: -10.93, Longitude: -37.06, Timestamp: base},
		{TrackID: 1, Latitude: -10.93, Longitude: -37.06, Timestamp: base.Add(5 * time.Second)},
		{TrackID: 2, Latitude: -10.95, Longitude: -37.08, Timestamp: base},
		{TrackID: 2, Latitude: -10.95, Longitude: -37.08, Timestamp: base.Add(5 * time.Second)},
	}
}

func newTestReplayer(source Source, hub Broadcaster, sink Sink, pace time.Duration) *Replayer {
	states := detect.NewStateStore()
	detector := detect.NewDetector(detect.Thresholds{
		OverspeedKph:    50,
		HarshBrakeKphS:  -5,
		SuddenAccelKphS: 5,
		IdleSeconds:     30,
	}, states)
	scorer := detect.NewScorer(detect.Weights{Base: 100, Overspeed: 2, HarshBrake: 3, Idle: 1}, states)
	return NewReplayer(source, detector, scorer, states, hub, sink, pace, 3)
}

func TestReplayPublishesInOrder(t *testing.T) {
	hub := &recordingHub{}
	r := newTestReplayer(&stubSource{points: twoTrackPoints()[:2]}, hub, nil, 0)

	require.Equal(t, Started, r.Start("driver_1"))
	r.Wait()
	assert.False(t, r.IsRunning())

	msgs := hub.all()
	// Two points, no events: telemetry then score per point.
	require.Len(t, msgs, 4)
	assert.Equal(t, domain.MessageTypeTelemetry, msgs[0].Type)
	assert.Equal(t, domain.MessageTypeScore, msgs[1].Type)
	assert.Equal(t, domain.MessageTypeTelemetry, msgs[2].Type)
	assert.Equal(t, domain.MessageTypeScore, msgs[3].Type)

	// First point of a track has no predecessor: speed 0.
	tp := msgs[0].Payload.(domain.TelemetryPayload)
	assert.Zero(t, tp.SpeedKph)
	assert.Equal(t, "driver_1", tp.DriverID)
}

func TestReplayDriverFilterSelectsOneTrack(t *testing.T) {
	hub := &recordingHub{}
	r := newTestReplayer(&stubSource{points: twoTrackPoints()}, hub, nil, 0)

	r.Start("driver_1")
	r.Wait()

	for _, msg := range hub.all() {
		switch p := msg.Payload.(type) {
		case domain.TelemetryPayload:
			assert.Equal(t, "1", p.TrackID)
			assert.Equal(t, "driver_1", p.DriverID)
		case domain.ScorePayload:
			assert.Equal(t, "driver_1", p.DriverID)
		case domain.EventPayload:
			assert.Equal(t, "driver_1", p.DriverID)
		}
	}
}

func TestReplayDefaultTrackSelection(t *testing.T) {
	points := twoTrackPoints()
	// Tracks 3..5 with one point each; only the first three of 1..5
	// should replay.
	for trackID := 3; trackID <= 5; trackID++ {
		points = append(points, Point{TrackID: trackID, Latitude: 0, Longitude: 0, Timestamp: base})
	}

	hub := &recordingHub{}
	r := newTestReplayer(&stubSource{points: points}, hub, nil, 0)

	r.Start("")
	r.Wait()

	seen := map[string]bool{}
	for _, msg := range hub.all() {
		if p, ok := msg.Payload.(domain.TelemetryPayload); ok {
			seen[p.TrackID] = true
		}
	}
	assert.Equal(t, map[string]bool{"1": true, "2": true, "3": true}, seen)
}

func TestReplayUnknownDriverFilterIsNoOp(t *testing.T) {
	hub := &recordingHub{}
	r := newTestReplayer(&stubSource{points: twoTrackPoints()}, hub, nil, 0)

	require.Equal(t, Started, r.Start("driver_99"))
	r.Wait()

	assert.Empty(t, hub.all())
	assert.False(t, r.IsRunning())
}

func TestReplayMalformedDriverFilterIsNoOp(t *testing.T) {
	hub := &recordingHub{}
	r := newTestReplayer(&stubSource{points: twoTrackPoints()}, hub, nil, 0)

	r.Start("bogus")
	r.Wait()

	assert.Empty(t, hub.all())
}

func TestReplaySourceFailureAbortsRun(t *testing.T) {
	hub := &recordingHub{}
	r := newTestReplayer(&stubSource{err: errors.New("disk gone")}, hub, nil, 0)

	require.Equal(t, Started, r.Start(""))
	r.Wait()

	assert.Empty(t, hub.all())
	assert.False(t, r.IsRunning())
}

func TestReplayStartWhileRunning(t *testing.T) {
	hub := &recordingHub{}
	r := newTestReplayer(&stubSource{points: twoTrackPoints()}, hub, nil, 50*time.Millisecond)

	require.Equal(t, Started, r.Start(""))
	assert.Equal(t, AlreadyRunning, r.Start(""))

	r.Stop()
	r.Stop() // idempotent
	r.Wait()
	assert.False(t, r.IsRunning())

	// Idle again: a new run may begin.
	require.Equal(t, Started, r.Start("driver_1"))
	r.Wait()
}

func TestConcurrentRestartsCloseTheirOwnRun(t *testing.T) {
	// An instant-completing source makes back-to-back restarts land while
	// the previous run's cleanup is still unwinding. Each run must close
	// the done channel it was spawned with; closing a successor's channel
	// would panic the second close.
	r := newTestReplayer(&stubSource{}, &recordingHub{}, nil, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if r.Start("") == Started {
					r.Wait()
				}
			}
		}()
	}
	wg.Wait()

	r.Wait()
	assert.False(t, r.IsRunning())

	// The replayer is still usable afterwards.
	require.Equal(t, Started, r.Start(""))
	r.Wait()
}

func TestReplayStopCancelsMidRun(t *testing.T) {
	// Many paced points so the run is still active when Stop lands.
	var points []Point
	for i := 0; i < 100; i++ {
		points = append(points, Point{
			TrackID:   1,
			Latitude:  -10.93,
			Longitude: -37.06,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	hub := &recordingHub{}
	r := newTestReplayer(&stubSource{points: points}, hub, nil, 10*time.Millisecond)

	r.Start("driver_1")
	time.Sleep(35 * time.Millisecond)
	r.Stop()
	r.Wait()

	assert.False(t, r.IsRunning())
	assert.Less(t, len(hub.all()), 2*100)
	assert.NotEmpty(t, hub.all())
}

func TestReplayEnqueuesPersistenceOnlyForEvents(t *testing.T) {
	// Second point jumps far enough in 5s to overspeed.
	points := []Point{
		{TrackID: 1, Latitude: -10.9000, Longitude: -37.0600, Timestamp: base},
		{TrackID: 1, Latitude: -10.9010, Longitude: -37.0600, Timestamp: base.Add(5 * time.Second)},
	}

	hub := &recordingHub{}
	sink := &recordingSink{}
	r := newTestReplayer(&stubSource{points: points}, hub, sink, 0)

	r.Start("driver_1")
	r.Wait()

	// Live state mirrors every point; durable writes only where events
	// fired.
	assert.Len(t, sink.states, 2)
	require.Len(t, sink.batches, 1)

	// The jump is both overspeeding and a sudden acceleration from rest.
	batch := sink.batches[0]
	require.Len(t, batch.Events, 2)
	assert.Equal(t, domain.EventOverspeeding, batch.Events[0].Type)
	assert.Equal(t, domain.EventSuddenAcceleration, batch.Events[1].Type)
	assert.Equal(t, 1, batch.State.OverspeedCount)
	assert.Equal(t, 98, batch.RiskScore)

	// Event messages follow telemetry and score for their sample.
	msgs := hub.all()
	require.Len(t, msgs, 6)
	assert.Equal(t, domain.MessageTypeTelemetry, msgs[2].Type)
	assert.Equal(t, domain.MessageTypeScore, msgs[3].Type)
	assert.Equal(t, domain.MessageTypeEvent, msgs[4].Type)
	assert.Equal(t, domain.MessageTypeEvent, msgs[5].Type)
}
