package detect

import (
	"time"

	"driver-analytics/internal/config"
	"driver-analytics/internal/domain"
)

// Thresholds are the behavioral limits a sample is classified against.
// Fixed for the lifetime of a Detector.
type Thresholds struct {
	OverspeedKph    float64
	HarshBrakeKphS  float64 // negative
	SuddenAccelKphS float64
	IdleSeconds     float64
}

func ThresholdsFromConfig(cfg *config.Config) Thresholds {
	return Thresholds{
		OverspeedKph:    cfg.OverspeedKph,
		HarshBrakeKphS:  cfg.HarshBrakeKphS,
		SuddenAccelKphS: cfg.SuddenAccelKphS,
		IdleSeconds:     cfg.IdleSecondsThreshold,
	}
}

// Detector classifies telemetry samples against the thresholds and keeps
// each driver's rolling counters in the state store.
type Detector struct {
	thresholds Thresholds
	states     *StateStore
}

func NewDetector(thresholds Thresholds, states *StateStore) *Detector {
	return &Detector{thresholds: thresholds, states: states}
}

// Observe classifies one sample, mutating the driver's state. The four
// rules are evaluated independently, so a single sample can produce
// several events at once. State is created lazily for unseen drivers.
func (d *Detector) Observe(driverID string, ts time.Time, lat, lon, speedKph, accelKphS float64) []domain.Event {
	d.states.mu.Lock()
	defer d.states.mu.Unlock()

	st := d.states.get(driverID, speedKph, ts)

	var events []domain.Event
	emit := func(t domain.EventType, meta domain.EventMeta) {
		events = append(events, domain.Event{
			Type:      t,
			DriverID:  driverID,
			Timestamp: ts,
			Latitude:  lat,
			Longitude: lon,
			SpeedKph:  speedKph,
			AccelKphS: accelKphS,
			Meta:      meta,
		})
	}

	if speedKph > d.thresholds.OverspeedKph {
		emit(domain.EventOverspeeding, domain.EventMeta{Threshold: d.thresholds.OverspeedKph})
		st.OverspeedCount++
	}

	if accelKphS < d.thresholds.HarshBrakeKphS {
		emit(domain.EventHarshBraking, domain.EventMeta{Threshold: d.thresholds.HarshBrakeKphS})
		st.HarshBrakeCount++
	}

	if accelKphS > d.thresholds.SuddenAccelKphS {
		emit(domain.EventSuddenAcceleration, domain.EventMeta{Threshold: d.thresholds.SuddenAccelKphS})
		st.SuddenAccelCount++
	}

	// Idling is stateful: a zero-speed sample opens an episode, a later
	// zero-speed sample at least IdleSeconds after the open fires one
	// event and closes the episode. A very long stop therefore produces
	// isolated events spaced at least one threshold apart, never a
	// continuous stream.
	if speedKph == 0 {
		if !st.IdleOpen() {
			st.IdleStartedAt = ts
		} else if idle := ts.Sub(st.IdleStartedAt).Seconds(); idle >= d.thresholds.IdleSeconds {
			emit(domain.EventIdling, domain.EventMeta{
				Threshold:           d.thresholds.IdleSeconds,
				IdleDurationSeconds: idle,
			})
			st.IdleCount++
			st.IdleStartedAt = time.Time{}
		}
	} else {
		st.IdleStartedAt = time.Time{}
	}

	st.LastSpeedKph = speedKph
	st.LastTimestamp = ts

	return events
}
