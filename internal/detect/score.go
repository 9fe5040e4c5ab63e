package detect

import (
	"driver-analytics/internal/config"
	"driver-analytics/internal/domain"
)

// Weights configure the risk score penalty per infraction counter. Sudden
// acceleration is tracked for observability but carries no penalty.
type Weights struct {
	Base       int
	Overspeed  int
	HarshBrake int
	Idle       int
}

func WeightsFromConfig(cfg *config.Config) Weights {
	return Weights{
		Base:       cfg.ScoreBase,
		Overspeed:  cfg.ScoreOverspeedWeight,
		HarshBrake: cfg.ScoreHarshBrakeWeight,
		Idle:       cfg.ScoreIdleWeight,
	}
}

// Scorer derives a risk score in [0,100] from a driver's counters. Higher
// is safer; an unseen driver scores the base value.
type Scorer struct {
	weights Weights
	states  *StateStore
}

func NewScorer(weights Weights, states *StateStore) *Scorer {
	return &Scorer{weights: weights, states: states}
}

// Score computes the risk score for a state snapshot. A nil state means
// the driver has never been observed.
func (sc *Scorer) Score(st *domain.DriverState) int {
	if st == nil {
		return clamp(sc.weights.Base)
	}
	penalty := st.OverspeedCount*sc.weights.Overspeed +
		st.HarshBrakeCount*sc.weights.HarshBrake +
		st.IdleCount*sc.weights.Idle

	return clamp(sc.weights.Base - penalty)
}

// ScoreFor looks up the driver's current state and scores it.
func (sc *Scorer) ScoreFor(driverID string) int {
	return sc.Score(sc.states.Snapshot(driverID))
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
