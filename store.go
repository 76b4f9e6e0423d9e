package adpulse

import (
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerThreshold is the number of consecutive failed polls after
// which automatic refresh is paused.
const CircuitBreakerThreshold = 3

// DashboardState is the state of one campaign selection. A zero
// DashboardState means no campaign is selected.
type DashboardState struct {
	CampaignID int64
	Totals     Totals
	Recent     *Snapshot // nil until the first successful poll

	// Iteration counts successful polls since selection. It is also the
	// cursor sent as ?number= on the next poll.
	Iteration int

	LastSuccessfulFetch time.Time // zero until the first successful poll
	Error               *ErrorDescriptor
	CircuitOpen         bool
	ConsecutiveFailures int
}

// Selected reports whether the state belongs to a campaign.
func (s DashboardState) Selected() bool {
	return s.CampaignID != 0
}

func (s DashboardState) clone() DashboardState {
	if s.Recent != nil {
		r := *s.Recent
		s.Recent = &r
	}
	if s.Error != nil {
		e := *s.Error
		s.Error = &e
	}
	return s
}

// Event is a store transition. The set of events is closed: only the types
// in this file implement it.
type Event interface {
	event()
}

// SelectCampaign resets the state for a (re)selected campaign.
type SelectCampaign struct {
	ID int64
}

// FetchSucceeded folds a validated snapshot into the totals.
type FetchSucceeded struct {
	CampaignID int64
	Snapshot   Snapshot
	At         time.Time
}

// FetchFailed records a failed poll. Totals, Recent and Iteration are kept.
type FetchFailed struct {
	CampaignID int64
	Err        ErrorDescriptor
}

// ManualRetry optimistically clears the error and the open circuit when a
// user-initiated retry is issued.
type ManualRetry struct {
	CampaignID int64
}

func (SelectCampaign) event() {}
func (FetchSucceeded) event() {}
func (FetchFailed) event()    {}
func (ManualRetry) event()    {}

// Reduce applies ev to s using CircuitBreakerThreshold.
func Reduce(s DashboardState, ev Event) DashboardState {
	return reduce(s, ev, CircuitBreakerThreshold)
}

// reduce never mutates s. Events tagged with a campaign other than the
// selected one leave the state untouched.
func reduce(s DashboardState, ev Event, threshold int) DashboardState {
	s = s.clone()

	switch ev := ev.(type) {
	case SelectCampaign:
		return DashboardState{CampaignID: ev.ID}

	case FetchSucceeded:
		if !s.Selected() || ev.CampaignID != s.CampaignID {
			return s
		}
		snap := ev.Snapshot
		totals, ok := s.Totals.AddChecked(snap)
		if !ok {
			return reduce(s, FetchFailed{
				CampaignID: ev.CampaignID,
				Err: ErrorDescriptor{
					Kind:    KindValidation,
					Message: ErrTotalsOverflow.Error(),
					At:      ev.At,
				},
			}, threshold)
		}
		s.Totals = totals
		s.Recent = &snap
		s.Iteration++
		s.LastSuccessfulFetch = ev.At
		s.Error = nil
		s.CircuitOpen = false
		s.ConsecutiveFailures = 0
		return s

	case FetchFailed:
		if !s.Selected() || ev.CampaignID != s.CampaignID {
			return s
		}
		e := ev.Err
		s.Error = &e
		if s.ConsecutiveFailures < threshold {
			s.ConsecutiveFailures++
		}
		if s.ConsecutiveFailures >= threshold {
			s.CircuitOpen = true
		}
		return s

	case ManualRetry:
		if !s.Selected() || ev.CampaignID != s.CampaignID || !s.CircuitOpen {
			return s
		}
		s.Error = nil
		s.CircuitOpen = false
		return s

	default:
		panic(fmt.Sprintf("adpulse: unhandled event %T", ev))
	}
}

// Store holds the DashboardState of the active selection. All mutation
// goes through Dispatch.
type Store struct {
	threshold int

	mu    sync.RWMutex
	state DashboardState
}

// NewStore creates an empty store. A threshold <= 0 uses
// CircuitBreakerThreshold.
func NewStore(threshold int) *Store {
	if threshold <= 0 {
		threshold = CircuitBreakerThreshold
	}
	return &Store{threshold: threshold}
}

// Dispatch applies ev and returns the resulting state.
func (s *Store) Dispatch(ev Event) DashboardState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = reduce(s.state, ev, s.threshold)
	return s.state.clone()
}

// State returns a copy of the current state.
func (s *Store) State() DashboardState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Threshold returns the consecutive-failure count that opens the circuit.
func (s *Store) Threshold() int {
	return s.threshold
}

// Reset discards the current state.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = DashboardState{}
}
