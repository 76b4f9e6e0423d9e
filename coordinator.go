package adpulse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PollInterval is the time between the start of one successful poll cycle
// and the next scheduled attempt.
const PollInterval = 5 * time.Second

// Phase is the poll-loop state of the active selection.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScheduled
	PhaseFetching
	PhasePaused
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScheduled:
		return "scheduled"
	case PhaseFetching:
		return "fetching"
	case PhasePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Recorder receives a Sample after every successful poll.
type Recorder interface {
	Push(s *Sample)
}

// CoordinatorConfig configures a Coordinator. Zero values take defaults.
type CoordinatorConfig struct {
	Interval  time.Duration
	Threshold int
	Clock     Clock
	Logger    *slog.Logger
	Recorder  Recorder
}

// Coordinator owns the poll loop of the selected campaign. At most one
// timer and one request exist at any instant; a new selection abandons
// the previous loop and its late results.
type Coordinator struct {
	source   Source
	store    *Store
	clock    Clock
	logger   *slog.Logger
	recorder Recorder
	stats    statsTracker

	mu       sync.Mutex
	interval time.Duration
	active   *session
	closed   bool
	inflight sync.WaitGroup
}

// session is one selection of one campaign.
type session struct {
	id       uuid.UUID
	campaign Campaign
	ctx      context.Context
	cancel   context.CancelFunc
	timer    Timer
	phase    Phase
}

// NewCoordinator creates an idle coordinator polling source.
func NewCoordinator(source Source, cfg CoordinatorConfig) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = PollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		source:   source,
		store:    NewStore(cfg.Threshold),
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
		interval: cfg.Interval,
	}
}

// SelectCampaign abandons the current loop, resets the state and starts
// polling camp immediately. Selecting the same campaign again also resets.
func (c *Coordinator) SelectCampaign(camp Campaign) error {
	if camp.ID < 1 {
		return ErrInvalidCampaign
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:       uuid.New(),
		campaign: camp,
		ctx:      ctx,
		cancel:   cancel,
	}
	c.active = s
	c.store.Dispatch(SelectCampaign{ID: camp.ID})

	c.logger.Info("campaign selected", "campaign", camp.ID, "session", s.id)
	c.armLocked(s, 0)
	return nil
}

// RetryNow issues one manual poll while auto-refresh is paused. It reports
// whether the retry was accepted; calls while the circuit is closed or a
// retry is already pending are ignored.
func (c *Coordinator) RetryNow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.active
	if s == nil || s.phase != PhasePaused {
		return false
	}

	c.store.Dispatch(ManualRetry{CampaignID: s.campaign.ID})
	c.stats.recordManualRetry()
	c.logger.Info("manual retry", "campaign", s.campaign.ID, "session", s.id)

	s.phase = PhaseFetching
	s.timer = c.clock.AfterFunc(0, func() { c.fire(s, PhaseFetching, true) })
	return true
}

// State returns the state of the active selection.
func (c *Coordinator) State() DashboardState {
	return c.store.State()
}

// Phase returns the loop phase of the active selection.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return PhaseIdle
	}
	return c.active.phase
}

// Active returns the selected campaign, if any.
func (c *Coordinator) Active() (Campaign, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Campaign{}, false
	}
	return c.active.campaign, true
}

// Stats returns a snapshot of polling statistics.
func (c *Coordinator) Stats() PollStats {
	return c.stats.snapshot()
}

// SetInterval changes the poll interval. It applies from the next armed timer.
func (c *Coordinator) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = d
}

// Close stops the active loop, discards its state and waits for any
// in-flight poll to settle.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopLocked()
	c.store.Reset()
	c.mu.Unlock()

	c.inflight.Wait()
}

func (c *Coordinator) stopLocked() {
	s := c.active
	if s == nil {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.cancel()
	s.phase = PhaseIdle
	c.active = nil
	c.logger.Debug("campaign deselected", "campaign", s.campaign.ID, "session", s.id)
}

func (c *Coordinator) armLocked(s *session, d time.Duration) {
	s.phase = PhaseScheduled
	s.timer = c.clock.AfterFunc(d, func() { c.fire(s, PhaseScheduled, false) })
}

// fire runs a poll if s is still active and in the expected phase.
func (c *Coordinator) fire(s *session, want Phase, manual bool) {
	c.mu.Lock()
	if c.active != s || s.phase != want {
		c.mu.Unlock()
		return
	}
	s.phase = PhaseFetching
	iteration := c.store.State().Iteration
	c.inflight.Add(1)
	c.mu.Unlock()

	defer c.inflight.Done()
	c.poll(s, iteration, manual)
}

func (c *Coordinator) poll(s *session, iteration int, manual bool) {
	start := c.clock.Now()
	snap, err := c.source.Snapshot(s.ctx, s.campaign.ID, iteration)
	finished := c.clock.Now()
	elapsed := finished.Sub(start)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != s {
		c.stats.recordDiscard()
		c.logger.Debug("discarding late poll result",
			"campaign", s.campaign.ID,
			"session", s.id,
			"iteration", iteration,
		)
		return
	}

	if err == nil {
		if _, ok := c.store.State().Totals.AddChecked(snap); !ok {
			err = &FetchError{
				Endpoint: fmt.Sprintf("campaigns/%d", s.campaign.ID),
				Kind:     KindValidation,
				Attempts: 1,
				Err:      ErrTotalsOverflow,
			}
		}
	}

	if err != nil {
		desc := Describe(err, finished)
		c.stats.recordPoll(&desc, elapsed)

		state := c.store.Dispatch(FetchFailed{CampaignID: s.campaign.ID, Err: desc})
		if state.CircuitOpen {
			s.phase = PhasePaused
			if !manual {
				c.stats.recordTrip()
			}
			c.logger.Warn("auto-refresh paused",
				"campaign", s.campaign.ID,
				"session", s.id,
				"failures", state.ConsecutiveFailures,
				"manual", manual,
				"error", err,
			)
			return
		}

		c.logger.Warn("poll failed, retrying automatically",
			"campaign", s.campaign.ID,
			"session", s.id,
			"failures", state.ConsecutiveFailures,
			"error", err,
		)
		c.armLocked(s, c.interval)
		return
	}

	c.stats.recordPoll(nil, elapsed)
	state := c.store.Dispatch(FetchSucceeded{CampaignID: s.campaign.ID, Snapshot: snap, At: finished})

	c.logger.Debug("poll completed",
		"campaign", s.campaign.ID,
		"iteration", state.Iteration,
		"duration", elapsed,
	)

	if c.recorder != nil {
		c.recorder.Push(NewSample(s.campaign, state))
	}

	next := c.interval - elapsed
	if next < 0 {
		next = 0
	}
	c.armLocked(s, next)
}
