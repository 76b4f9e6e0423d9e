package adpulse

import (
	"fmt"
	"math/big"
	"sync"
	"time"
)

var hundred = big.NewRat(100, 1)

// ctr formats clicks/impressions*100 with two decimals, computed exactly
// and rounding ties up (1/800 is "0.13"). Zero impressions yield "0.00"
// rather than NaN or Inf.
func ctr(clicks, impressions int64) string {
	if impressions <= 0 {
		return "0.00"
	}
	r := new(big.Rat).SetFrac64(clicks, impressions)
	return r.Mul(r, hundred).FloatString(2)
}

// TotalCTR is the click-through rate over the accumulated totals.
func TotalCTR(s DashboardState) string {
	return ctr(s.Totals.Clicks, s.Totals.Impressions)
}

// RecentCTR is the click-through rate of the most recent snapshot.
func RecentCTR(s DashboardState) string {
	if s.Recent == nil {
		return "0.00"
	}
	return ctr(s.Recent.Clicks, s.Recent.Impressions)
}

// CTRSelector memoises TotalCTR and RecentCTR. Each value is recomputed
// only when the sub-field it reads changes. Safe for concurrent use.
type CTRSelector struct {
	mu sync.Mutex

	totalKey Totals
	total    string
	haveTot  bool

	recentKey  Snapshot
	recentNil  bool
	recent     string
	haveRecent bool
}

// Total returns TotalCTR(s), reusing the last result when Totals is unchanged.
func (c *CTRSelector) Total(s DashboardState) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.haveTot && c.totalKey == s.Totals {
		return c.total
	}
	c.totalKey = s.Totals
	c.total = TotalCTR(s)
	c.haveTot = true
	return c.total
}

// Recent returns RecentCTR(s), reusing the last result when Recent is unchanged.
func (c *CTRSelector) Recent(s DashboardState) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	isNil := s.Recent == nil
	var key Snapshot
	if !isNil {
		key = *s.Recent
	}

	if c.haveRecent && c.recentNil == isNil && c.recentKey == key {
		return c.recent
	}
	c.recentKey = key
	c.recentNil = isNil
	c.recent = RecentCTR(s)
	c.haveRecent = true
	return c.recent
}

// LastUpdated renders how long ago the last successful poll happened.
func LastUpdated(s DashboardState, now time.Time) string {
	if s.LastSuccessfulFetch.IsZero() {
		return "never"
	}

	age := now.Sub(s.LastSuccessfulFetch)
	switch {
	case age < time.Second:
		return "just now"
	case age < time.Minute:
		return plural(int(age/time.Second), "second") + " ago"
	case age < time.Hour:
		return plural(int(age/time.Minute), "minute") + " ago"
	default:
		return plural(int(age/time.Hour), "hour") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
