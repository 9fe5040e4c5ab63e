package domain

import "time"

// TelemetrySample is one observation of a vehicle, with speed derived from
// the previous point of the same track and acceleration derived from the
// driver's last recorded speed. Immutable once produced.
type TelemetrySample struct {
	DriverID  string
	TrackID   string
	Timestamp time.Time

	Latitude  float64
	Longitude float64

	SpeedKph  float64
	AccelKphS float64
}

type EventType string

const (
	EventOverspeeding       EventType = "overspeeding"
	EventHarshBraking       EventType = "harsh_braking"
	EventSuddenAcceleration EventType = "sudden_acceleration"
	EventIdling             EventType = "idling"
)

// EventMeta carries the kind-specific detail of a detected event: the
// threshold that was crossed and, for idling, the observed idle duration.
type EventMeta struct {
	Threshold           float64 `json:"threshold"`
	IdleDurationSeconds float64 `json:"idle_duration_seconds,omitempty"`
}

// Event is a classified infraction produced by the detector.
type Event struct {
	Type      EventType `json:"event_type"`
	DriverID  string    `json:"driver_id"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	SpeedKph  float64   `json:"speed_kph"`
	AccelKphS float64   `json:"acceleration_kph_s"`
	Meta      EventMeta `json:"meta"`
}

// DriverState holds a driver's detector memory and rolling counters.
// Owned and mutated by the detector; everyone else reads snapshots.
type DriverState struct {
	DriverID      string
	LastSpeedKph  float64
	LastTimestamp time.Time

	// Zero while no idle episode is open.
	IdleStartedAt time.Time

	OverspeedCount   int
	HarshBrakeCount  int
	SuddenAccelCount int
	IdleCount        int
}

// IdleOpen reports whether an idle episode is currently being tracked.
func (s *DriverState) IdleOpen() bool {
	return !s.IdleStartedAt.IsZero()
}
