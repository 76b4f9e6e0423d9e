package adpulse

import "math"

// MaxCount is the largest counter value a payload may carry. JSON numbers
// above 2^53 cannot be represented exactly by most producers.
const MaxCount = 1 << 53

// Campaign is one entry of the remote campaign list. Identity is ID.
type Campaign struct {
	ID   int64  `json:"id" validate:"gte=1"`
	Name string `json:"name" validate:"required"`
}

// Snapshot is one polling interval's worth of newly observed activity.
// It is a delta, not a running total.
type Snapshot struct {
	Impressions int64 `json:"impressions" validate:"gte=0,lte=9007199254740992"`
	Clicks      int64 `json:"clicks" validate:"gte=0,lte=9007199254740992"`
	Users       int64 `json:"users" validate:"gte=0,lte=9007199254740992"`
}

// Totals accumulates every validated Snapshot received for a campaign.
type Totals struct {
	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
	Users       int64 `json:"users"`
}

// Add returns t with s folded in. Callers that cannot rule out overflow
// use AddChecked.
func (t Totals) Add(s Snapshot) Totals {
	return Totals{
		Impressions: t.Impressions + s.Impressions,
		Clicks:      t.Clicks + s.Clicks,
		Users:       t.Users + s.Users,
	}
}

// AddChecked is Add that reports false, leaving t unchanged, when a
// counter would leave [0, MaxInt64].
func (t Totals) AddChecked(s Snapshot) (Totals, bool) {
	if !fits(t.Impressions, s.Impressions) || !fits(t.Clicks, s.Clicks) || !fits(t.Users, s.Users) {
		return t, false
	}
	return t.Add(s), true
}

func fits(total, delta int64) bool {
	return total >= 0 && delta >= 0 && total <= math.MaxInt64-delta
}
