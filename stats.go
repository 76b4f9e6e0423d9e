package adpulse

import (
	"sync"
	"time"
)

// PollStats holds polling statistics across all selections.
type PollStats struct {
	TotalPolls      int64
	SuccessfulPolls int64
	FailedPolls     int64
	ManualRetries   int64
	Discarded       int64 // late results dropped after a campaign switch
	CircuitTrips    int64

	NetworkFailures    int64
	ServerFailures     int64
	ClientFailures     int64
	ValidationFailures int64

	LastDuration time.Duration
}

// statsTracker provides thread-safe poll statistics tracking.
type statsTracker struct {
	mu    sync.RWMutex
	stats PollStats
}

func (s *statsTracker) recordPoll(err *ErrorDescriptor, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TotalPolls++
	s.stats.LastDuration = duration
	if err == nil {
		s.stats.SuccessfulPolls++
		return
	}

	s.stats.FailedPolls++
	switch err.Kind {
	case KindNetwork:
		s.stats.NetworkFailures++
	case KindServer:
		s.stats.ServerFailures++
	case KindClient:
		s.stats.ClientFailures++
	case KindValidation:
		s.stats.ValidationFailures++
	}
}

func (s *statsTracker) recordManualRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.ManualRetries++
}

func (s *statsTracker) recordDiscard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Discarded++
}

func (s *statsTracker) recordTrip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.CircuitTrips++
}

func (s *statsTracker) snapshot() PollStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
