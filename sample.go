package adpulse

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SampleMeasurement is the measurement name samples are written under.
const SampleMeasurement = "campaign_metrics"

// Sample is one successful poll as delivered to the sink backends.
type Sample struct {
	CampaignID int64
	Campaign   string
	Iteration  int
	Delta      Snapshot
	Totals     Totals
	Timestamp  time.Time
}

// NewSample builds a Sample from the state produced by a successful poll.
func NewSample(c Campaign, state DashboardState) *Sample {
	s := &Sample{
		CampaignID: c.ID,
		Campaign:   c.Name,
		Iteration:  state.Iteration,
		Totals:     state.Totals,
		Timestamp:  state.LastSuccessfulFetch,
	}
	if state.Recent != nil {
		s.Delta = *state.Recent
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	return s
}

// Validate checks if the sample is valid for sending.
func (s *Sample) Validate() error {
	if s.CampaignID < 1 {
		return fmt.Errorf("campaign id is required")
	}
	if s.Iteration < 1 {
		return fmt.Errorf("iteration must be >= 1, got %d", s.Iteration)
	}
	return nil
}

// Tags returns the identifying tags of the sample.
func (s *Sample) Tags() map[string]string {
	return map[string]string{
		"campaign_id": strconv.FormatInt(s.CampaignID, 10),
		"campaign":    s.Campaign,
	}
}

// Fields returns the numeric values of the sample.
func (s *Sample) Fields() map[string]interface{} {
	return map[string]interface{}{
		"impressions":       s.Delta.Impressions,
		"clicks":            s.Delta.Clicks,
		"users":             s.Delta.Users,
		"total_impressions": s.Totals.Impressions,
		"total_clicks":      s.Totals.Clicks,
		"total_users":       s.Totals.Users,
		"iteration":         int64(s.Iteration),
		"ctr":               ctrValue(s.Delta.Clicks, s.Delta.Impressions),
		"total_ctr":         ctrValue(s.Totals.Clicks, s.Totals.Impressions),
	}
}

func ctrValue(clicks, impressions int64) float64 {
	if impressions == 0 {
		return 0
	}
	return float64(clicks) * 100 / float64(impressions)
}

// ToLineProtocol converts the sample to InfluxDB line protocol. Tags and
// fields are written in key order so the output is stable.
func (s *Sample) ToLineProtocol() string {
	var sb strings.Builder

	sb.WriteString(escapeKey(SampleMeasurement))

	tags := s.Tags()
	for _, k := range sortedKeys(tags) {
		if tags[k] == "" {
			continue
		}
		sb.WriteByte(',')
		sb.WriteString(escapeKey(k))
		sb.WriteByte('=')
		sb.WriteString(escapeKey(tags[k]))
	}

	sb.WriteByte(' ')

	fields := s.Fields()
	for i, k := range sortedKeys(fields) {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(escapeKey(k))
		sb.WriteByte('=')
		sb.WriteString(formatFieldValue(fields[k]))
	}

	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatInt(s.Timestamp.UnixNano(), 10))

	return sb.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escapeKey(s string) string {
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "=", "\\=")
	s = strings.ReplaceAll(s, " ", "\\ ")
	return s
}

func formatFieldValue(v interface{}) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10) + "i"
	default:
		return strconv.Quote(fmt.Sprint(val))
	}
}
