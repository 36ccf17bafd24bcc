package types

import "time"

// Well-known metric names.
const (
	MetricStressLevel              = "stress_level"
	MetricRelationshipSatisfaction = "relationship_satisfaction"
	MetricWorkSatisfaction         = "work_satisfaction"
)

// MetricSample is one append-only point on a user's temporal timeline.
type MetricSample struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"` // 1-10
	Context    string    `json:"context,omitempty"`
	MemoryID   string    `json:"memory_id,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Validate checks the sample before it is appended.
func (s *MetricSample) Validate() error {
	if s.UserID == "" {
		return invalid("user_id", "is required")
	}
	if s.Metric == "" {
		return invalid("metric", "is required")
	}
	if s.Value < 1 || s.Value > 10 {
		return invalid("value", "must be within 1-10, got %v", s.Value)
	}
	return nil
}

// TrendDirection classifies a metric's movement over a window.
type TrendDirection string

// Trend direction constants
const (
	TrendImproving     TrendDirection = "improving"
	TrendDeclining     TrendDirection = "declining"
	TrendStable        TrendDirection = "stable"
	TrendNotEnoughData TrendDirection = "not_enough_data"
)

// Trend is the computed view over a metric's samples. It is never stored.
type Trend struct {
	UserID     string          `json:"user_id"`
	Metric     string          `json:"metric"`
	WindowDays int             `json:"window_days"`
	Samples    []*MetricSample `json:"samples"`
	Direction  TrendDirection  `json:"direction"`
	Change     float64         `json:"change"` // newest minus oldest
	Insight    string          `json:"insight,omitempty"`
}
