package adpulse

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failure(id int64) FetchFailed {
	return FetchFailed{CampaignID: id, Err: ErrorDescriptor{Kind: KindServer, Status: 503, Message: "unavailable"}}
}

func TestReduceAccumulates(t *testing.T) {
	snaps := []Snapshot{
		{Impressions: 100, Clicks: 3, Users: 50},
		{Impressions: 250, Clicks: 7, Users: 80},
		{Impressions: 0, Clicks: 0, Users: 0},
		{Impressions: 40, Clicks: 1, Users: 9},
	}

	s := Reduce(DashboardState{}, SelectCampaign{ID: 4})
	var want Totals
	for i, snap := range snaps {
		at := testEpoch.Add(time.Duration(i) * time.Second)
		s = Reduce(s, FetchSucceeded{CampaignID: 4, Snapshot: snap, At: at})
		want = want.Add(snap)

		assert.Equal(t, want, s.Totals)
		assert.Equal(t, i+1, s.Iteration)
		require.NotNil(t, s.Recent)
		assert.Equal(t, snap, *s.Recent)
		assert.Equal(t, at, s.LastSuccessfulFetch)
	}
	assert.Equal(t, Totals{Impressions: 390, Clicks: 11, Users: 139}, s.Totals)
}

func TestReduceRejectsOverflowingSnapshot(t *testing.T) {
	s := Reduce(DashboardState{}, SelectCampaign{ID: 4})
	s = Reduce(s, FetchSucceeded{CampaignID: 4, Snapshot: Snapshot{Impressions: math.MaxInt64, Clicks: 2}, At: testEpoch})
	require.Equal(t, int64(math.MaxInt64), s.Totals.Impressions)

	for i := 1; i <= CircuitBreakerThreshold; i++ {
		at := testEpoch.Add(time.Duration(i) * time.Second)
		s = Reduce(s, FetchSucceeded{CampaignID: 4, Snapshot: Snapshot{Impressions: 1}, At: at})

		assert.Equal(t, Totals{Impressions: math.MaxInt64, Clicks: 2}, s.Totals, "totals must never decrease")
		assert.Equal(t, 1, s.Iteration)
		assert.Equal(t, testEpoch, s.LastSuccessfulFetch)
		require.NotNil(t, s.Error)
		assert.Equal(t, KindValidation, s.Error.Kind)
		assert.Equal(t, at, s.Error.At)
		assert.Equal(t, i, s.ConsecutiveFailures)
	}
	assert.True(t, s.CircuitOpen)
}

func TestTotalsAddChecked(t *testing.T) {
	got, ok := Totals{Impressions: 10}.AddChecked(Snapshot{Impressions: 5, Clicks: 1})
	assert.True(t, ok)
	assert.Equal(t, Totals{Impressions: 15, Clicks: 1}, got)

	start := Totals{Users: math.MaxInt64 - 1}
	got, ok = start.AddChecked(Snapshot{Users: 1})
	assert.True(t, ok)
	assert.Equal(t, int64(math.MaxInt64), got.Users)

	got, ok = got.AddChecked(Snapshot{Users: 1})
	assert.False(t, ok)
	assert.Equal(t, int64(math.MaxInt64), got.Users)
}

func TestReduceSelectResets(t *testing.T) {
	s := Reduce(DashboardState{}, SelectCampaign{ID: 1})
	s = Reduce(s, FetchSucceeded{CampaignID: 1, Snapshot: Snapshot{Impressions: 10}, At: testEpoch})
	s = Reduce(s, failure(1))

	s = Reduce(s, SelectCampaign{ID: 2})
	assert.Equal(t, DashboardState{CampaignID: 2}, s)

	// Reselecting the same campaign resets too.
	s = Reduce(s, FetchSucceeded{CampaignID: 2, Snapshot: Snapshot{Impressions: 10}, At: testEpoch})
	s = Reduce(s, SelectCampaign{ID: 2})
	assert.Equal(t, DashboardState{CampaignID: 2}, s)
}

func TestReduceFailureKeepsData(t *testing.T) {
	s := Reduce(DashboardState{}, SelectCampaign{ID: 1})
	s = Reduce(s, FetchSucceeded{CampaignID: 1, Snapshot: Snapshot{Impressions: 10, Clicks: 2, Users: 3}, At: testEpoch})
	before := s

	s = Reduce(s, failure(1))

	assert.Equal(t, before.Totals, s.Totals)
	assert.Equal(t, before.Recent, s.Recent)
	assert.Equal(t, before.Iteration, s.Iteration)
	assert.Equal(t, before.LastSuccessfulFetch, s.LastSuccessfulFetch)
	require.NotNil(t, s.Error)
	assert.Equal(t, 503, s.Error.Status)
	assert.Equal(t, 1, s.ConsecutiveFailures)
	assert.False(t, s.CircuitOpen)
}

func TestReduceCircuitOpensAfterThreeConsecutiveFailures(t *testing.T) {
	s := Reduce(DashboardState{}, SelectCampaign{ID: 1})

	s = Reduce(s, failure(1))
	s = Reduce(s, failure(1))
	assert.False(t, s.CircuitOpen)
	assert.Equal(t, 2, s.ConsecutiveFailures)

	s = Reduce(s, failure(1))
	assert.True(t, s.CircuitOpen)
	assert.Equal(t, 3, s.ConsecutiveFailures)

	// Further failures keep the circuit open without growing the counter.
	s = Reduce(s, failure(1))
	assert.True(t, s.CircuitOpen)
	assert.Equal(t, 3, s.ConsecutiveFailures)
}

func TestReduceSuccessResetsFailures(t *testing.T) {
	s := Reduce(DashboardState{}, SelectCampaign{ID: 1})
	s = Reduce(s, failure(1))
	s = Reduce(s, failure(1))
	s = Reduce(s, FetchSucceeded{CampaignID: 1, Snapshot: Snapshot{Impressions: 1}, At: testEpoch})

	assert.Zero(t, s.ConsecutiveFailures)
	assert.Nil(t, s.Error)
	assert.False(t, s.CircuitOpen)

	// Two more failures are not enough: the count restarted.
	s = Reduce(s, failure(1))
	s = Reduce(s, failure(1))
	assert.False(t, s.CircuitOpen)
}

func TestReduceSuccessClosesOpenCircuit(t *testing.T) {
	s := Reduce(DashboardState{}, SelectCampaign{ID: 1})
	for range 3 {
		s = Reduce(s, failure(1))
	}
	require.True(t, s.CircuitOpen)

	s = Reduce(s, FetchSucceeded{CampaignID: 1, Snapshot: Snapshot{Clicks: 1}, At: testEpoch})
	assert.False(t, s.CircuitOpen)
	assert.Nil(t, s.Error)
	assert.Equal(t, 1, s.Iteration)
}

func TestReduceIgnoresOtherCampaigns(t *testing.T) {
	s := Reduce(DashboardState{}, SelectCampaign{ID: 1})
	s = Reduce(s, FetchSucceeded{CampaignID: 1, Snapshot: Snapshot{Impressions: 10}, At: testEpoch})
	before := s

	s = Reduce(s, FetchSucceeded{CampaignID: 2, Snapshot: Snapshot{Impressions: 999}, At: testEpoch})
	s = Reduce(s, failure(2))
	s = Reduce(s, ManualRetry{CampaignID: 2})

	assert.Equal(t, before, s)
}

func TestReduceIgnoresResultsWithoutSelection(t *testing.T) {
	s := Reduce(DashboardState{}, FetchSucceeded{CampaignID: 0, Snapshot: Snapshot{Impressions: 10}})
	assert.Equal(t, DashboardState{}, s)

	s = Reduce(DashboardState{}, failure(0))
	assert.Equal(t, DashboardState{}, s)
}

func TestReduceManualRetry(t *testing.T) {
	s := Reduce(DashboardState{}, SelectCampaign{ID: 1})
	s = Reduce(s, failure(1))

	// Circuit closed: nothing to retry.
	same := Reduce(s, ManualRetry{CampaignID: 1})
	assert.Equal(t, s, same)

	s = Reduce(s, failure(1))
	s = Reduce(s, failure(1))
	require.True(t, s.CircuitOpen)

	s = Reduce(s, ManualRetry{CampaignID: 1})
	assert.False(t, s.CircuitOpen)
	assert.Nil(t, s.Error)
	assert.Equal(t, 3, s.ConsecutiveFailures)

	// A failed manual retry reopens the circuit immediately.
	s = Reduce(s, failure(1))
	assert.True(t, s.CircuitOpen)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	s := Reduce(DashboardState{}, SelectCampaign{ID: 1})
	s = Reduce(s, FetchSucceeded{CampaignID: 1, Snapshot: Snapshot{Impressions: 10}, At: testEpoch})
	s = Reduce(s, failure(1))

	recent := s.Recent
	errPtr := s.Error
	next := Reduce(s, FetchSucceeded{CampaignID: 1, Snapshot: Snapshot{Impressions: 20}, At: testEpoch})

	assert.Equal(t, int64(10), recent.Impressions)
	assert.NotNil(t, s.Error)
	assert.Same(t, errPtr, s.Error)
	assert.NotSame(t, s.Recent, next.Recent)
	assert.Equal(t, 1, s.Iteration)
}

type bogusEvent struct{}

func (bogusEvent) event() {}

func TestReduceUnknownEventPanics(t *testing.T) {
	assert.Panics(t, func() { Reduce(DashboardState{}, bogusEvent{}) })
}

func TestStore(t *testing.T) {
	st := NewStore(0)
	assert.Equal(t, CircuitBreakerThreshold, st.Threshold())

	st.Dispatch(SelectCampaign{ID: 9})
	got := st.Dispatch(FetchSucceeded{CampaignID: 9, Snapshot: Snapshot{Clicks: 2}, At: testEpoch})
	assert.Equal(t, 1, got.Iteration)

	// Mutating a returned state does not leak into the store.
	got.Recent.Clicks = 1000
	assert.Equal(t, int64(2), st.State().Recent.Clicks)

	st.Reset()
	assert.False(t, st.State().Selected())
}

func TestStoreCustomThreshold(t *testing.T) {
	st := NewStore(1)
	st.Dispatch(SelectCampaign{ID: 1})
	s := st.Dispatch(failure(1))
	assert.True(t, s.CircuitOpen)
}
