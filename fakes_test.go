package adpulse

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock fires timers only from Advance, on the calling goroutine, and
// never while holding its own lock.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	seq   int
	f     func()
	done  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Step moves the clock forward without firing anything, as if time passed
// inside a request.
func (c *fakeClock) Step(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Advance moves the clock forward by d and runs every timer that falls due,
// including timers armed by the callbacks themselves.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		t := c.nextDueLocked(target)
		if t == nil {
			if target.After(c.now) {
				c.now = target
			}
			c.mu.Unlock()
			return
		}
		if t.at.After(c.now) {
			c.now = t.at
		}
		t.done = true
		c.mu.Unlock()

		t.f()
	}
}

func (c *fakeClock) nextDueLocked(target time.Time) *fakeTimer {
	var due []*fakeTimer
	live := c.timers[:0]
	for _, t := range c.timers {
		if t.done {
			continue
		}
		live = append(live, t)
		if !t.at.After(target) {
			due = append(due, t)
		}
	}
	c.timers = live
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

// Pending returns how many timers are armed and not yet fired or stopped.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

type snapshotCall struct {
	id        int64
	iteration int
}

type snapshotFunc func(ctx context.Context, id int64, iteration int) (Snapshot, error)

// fakeSource serves a fixed campaign list and scripted snapshots.
type fakeSource struct {
	mu           sync.Mutex
	campaigns    []Campaign
	campaignsErr error
	listCalls    int
	snap         snapshotFunc
	calls        []snapshotCall
}

func newFakeSource(campaigns ...Campaign) *fakeSource {
	return &fakeSource{campaigns: campaigns}
}

func (f *fakeSource) Campaigns(ctx context.Context) ([]Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.campaignsErr != nil {
		return nil, f.campaignsErr
	}
	return append([]Campaign(nil), f.campaigns...), nil
}

func (f *fakeSource) Snapshot(ctx context.Context, id int64, iteration int) (Snapshot, error) {
	f.mu.Lock()
	f.calls = append(f.calls, snapshotCall{id: id, iteration: iteration})
	fn := f.snap
	f.mu.Unlock()

	if fn == nil {
		return Snapshot{Impressions: 100, Clicks: 5, Users: 40}, nil
	}
	return fn(ctx, id, iteration)
}

func (f *fakeSource) setSnapshot(fn snapshotFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = fn
}

func (f *fakeSource) setCampaignsErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaignsErr = err
}

func (f *fakeSource) snapshotCalls() []snapshotCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]snapshotCall(nil), f.calls...)
}

func (f *fakeSource) campaignCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// serverError is a poll failure as the fetcher reports it after giving up.
func serverError(status int) error {
	return &FetchError{Endpoint: "http://test/campaigns/1", Kind: KindServer, Status: status, Attempts: 2}
}

// sampleSink collects samples pushed by the coordinator.
type sampleSink struct {
	mu      sync.Mutex
	samples []*Sample
}

func (s *sampleSink) Push(sample *Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
}

func (s *sampleSink) all() []*Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Sample(nil), s.samples...)
}
