package adpulse

import "time"

// Status summarises a DashboardState for the presentation layer.
type Status int

const (
	StatusIdle     Status = iota // no campaign selected
	StatusLoading                // selected, no data yet
	StatusLive                   // last poll succeeded
	StatusRetrying               // last poll failed, auto-refresh still active
	StatusPaused                 // circuit open, waiting for a manual retry
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusLive:
		return "live"
	case StatusRetrying:
		return "retrying"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Indicator is the human-readable banner for the status, if any.
func (s Status) Indicator() string {
	switch s {
	case StatusRetrying:
		return "retrying automatically"
	case StatusPaused:
		return "auto-refresh paused"
	default:
		return ""
	}
}

// StatusOf derives the Status of s.
func StatusOf(s DashboardState) Status {
	switch {
	case !s.Selected():
		return StatusIdle
	case s.CircuitOpen:
		return StatusPaused
	case s.Error != nil:
		return StatusRetrying
	case s.Recent == nil:
		return StatusLoading
	default:
		return StatusLive
	}
}

// View is a read-only projection of the dashboard for rendering.
type View struct {
	State       DashboardState
	Status      Status
	Indicator   string
	TotalCTR    string
	RecentCTR   string
	LastUpdated string
	CanRetry    bool
}

// NewView projects s at time now.
func NewView(s DashboardState, now time.Time) View {
	return newView(s, now, nil)
}

func newView(s DashboardState, now time.Time, sel *CTRSelector) View {
	st := StatusOf(s)
	v := View{
		State:       s,
		Status:      st,
		Indicator:   st.Indicator(),
		LastUpdated: LastUpdated(s, now),
		CanRetry:    st == StatusPaused,
	}
	if sel != nil {
		v.TotalCTR = sel.Total(s)
		v.RecentCTR = sel.Recent(s)
	} else {
		v.TotalCTR = TotalCTR(s)
		v.RecentCTR = RecentCTR(s)
	}
	return v
}
