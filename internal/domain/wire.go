package domain

import (
	"time"

	"github.com/goccy/go-json"
)

// Wire message types pushed to observer connections.
const (
	MessageTypeTelemetry = "telemetry"
	MessageTypeScore     = "score"
	MessageTypeEvent     = "event"
)

// WireMessage is the envelope delivered to every observer. Payload is one
// of TelemetryPayload, ScorePayload or EventPayload, matching Type.
type WireMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type TelemetryPayload struct {
	DriverID  string  `json:"driver_id"`
	TrackID   string  `json:"track_id"`
	Timestamp string  `json:"timestamp"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	SpeedKph  float64 `json:"speed_kph"`
}

type ScorePayload struct {
	DriverID         string `json:"driver_id"`
	RiskScore        int    `json:"risk_score"`
	OverspeedCount   int    `json:"overspeed_count"`
	HarshBrakeCount  int    `json:"harsh_brake_count"`
	SuddenAccelCount int    `json:"sudden_accel_count"`
	IdleCount        int    `json:"idle_count"`
}

type EventPayload struct {
	EventType EventType `json:"event_type"`
	DriverID  string    `json:"driver_id"`
	Timestamp string    `json:"timestamp"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	SpeedKph  float64   `json:"speed_kph"`
	AccelKphS float64   `json:"acceleration_kph_s"`
	Meta      EventMeta `json:"meta"`
}

// TelemetryMessage builds the wire envelope for one sample.
func TelemetryMessage(s TelemetrySample) WireMessage {
	return WireMessage{
		Type: MessageTypeTelemetry,
		Payload: TelemetryPayload{
			DriverID:  s.DriverID,
			TrackID:   s.TrackID,
			Timestamp: s.Timestamp.Format(time.RFC3339),
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			SpeedKph:  s.SpeedKph,
		},
	}
}

// ScoreMessage builds the wire envelope for a driver's current score.
func ScoreMessage(driverID string, riskScore int, s *DriverState) WireMessage {
	p := ScorePayload{DriverID: driverID, RiskScore: riskScore}
	if s != nil {
		p.OverspeedCount = s.OverspeedCount
		p.HarshBrakeCount = s.HarshBrakeCount
		p.SuddenAccelCount = s.SuddenAccelCount
		p.IdleCount = s.IdleCount
	}
	return WireMessage{Type: MessageTypeScore, Payload: p}
}

// EventMessage builds the wire envelope for one detected event.
func EventMessage(e Event) WireMessage {
	return WireMessage{
		Type: MessageTypeEvent,
		Payload: EventPayload{
			EventType: e.Type,
			DriverID:  e.DriverID,
			Timestamp: e.Timestamp.Format(time.RFC3339),
			Latitude:  e.Latitude,
			Longitude: e.Longitude,
			SpeedKph:  e.SpeedKph,
			AccelKphS: e.AccelKphS,
			Meta:      e.Meta,
		},
	}
}

// Marshal encodes the message for transport.
func (m WireMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}
