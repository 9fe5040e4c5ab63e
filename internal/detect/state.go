package detect

import (
	"sync"
	"time"

	"driver-analytics/internal/domain"
)

// StateStore is the process-wide table of per-driver detector state. The
// detector is the only writer; everyone else reads copies through Snapshot
// so a status query never races the run loop.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]*domain.DriverState
}

func NewStateStore() *StateStore {
	return &StateStore{states: make(map[string]*domain.DriverState)}
}

// get returns the live state for mutation by the detector, creating it on
// first sight of a driver. Callers must hold s.mu.
func (s *StateStore) get(driverID string, speedKph float64, ts time.Time) *domain.DriverState {
	st, ok := s.states[driverID]
	if !ok {
		st = &domain.DriverState{
			DriverID:      driverID,
			LastSpeedKph:  speedKph,
			LastTimestamp: ts,
		}
		s.states[driverID] = st
	}
	return st
}

// Snapshot returns a copy of the driver's state, or nil if the driver has
// not been observed yet.
func (s *StateStore) Snapshot(driverID string) *domain.DriverState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[driverID]
	if !ok {
		return nil
	}
	cp := *st
	return &cp
}

// Last returns the driver's last observed speed and timestamp. ok is false
// for an unseen driver; callers then treat acceleration as zero.
func (s *StateStore) Last(driverID string) (speedKph float64, ts time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, found := s.states[driverID]
	if !found {
		return 0, time.Time{}, false
	}
	return st.LastSpeedKph, st.LastTimestamp, true
}

// Reset discards a driver's state. Counters restart from zero on the next
// sample.
func (s *StateStore) Reset(driverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, driverID)
}
