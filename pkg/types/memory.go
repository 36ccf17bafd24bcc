package types

import (
	"strings"
	"time"
)

// SurfaceLayer records what happened.
type SurfaceLayer struct {
	Event    string   `json:"event"`              // Short description of the event
	Date     string   `json:"date,omitempty"`     // When it happened, as stated by the user
	People   []string `json:"people,omitempty"`   // People involved
	Location string   `json:"location,omitempty"` // Where it happened
}

// EmotionalLayer records how the user felt about it.
type EmotionalLayer struct {
	Weight        float64  `json:"weight"`               // Emotional weight (0-10); doubles as importance
	Emotions      []string `json:"emotions,omitempty"`   // Emotion tags (e.g. "anxious", "proud")
	Trajectory    string   `json:"trajectory,omitempty"` // Direction of feeling (e.g. "improving")
	Vulnerability float64  `json:"vulnerability"`        // How exposed the user was (0-10)
	Confidence    float64  `json:"confidence"`           // Extraction confidence (0.0-1.0)
}

// ContextualLayer records where the memory sits in the user's life.
type ContextualLayer struct {
	LifeArea       LifeArea     `json:"life_area"`
	RecurringTheme bool         `json:"recurring_theme"`
	Significance   Significance `json:"significance"`
}

// PredictiveLayer records what should happen next.
type PredictiveLayer struct {
	FollowUpNeeded     bool     `json:"followup_needed"`
	BestFollowUpTiming string   `json:"best_followup_timing,omitempty"` // RFC3339, date or relative phrase
	SuggestedAngle     string   `json:"suggested_angle,omitempty"`
	TriggerKeywords    []string `json:"trigger_keywords,omitempty"`
	Confidence         float64  `json:"confidence"` // Prediction confidence (0.0-1.0)
}

// Memory is a four-layer structured fact about a user, extracted from
// conversation. All four layers are always present together.
type Memory struct {
	// Core identification fields
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`

	// Layers
	Surface    *SurfaceLayer    `json:"surface"`
	Emotional  *EmotionalLayer  `json:"emotional"`
	Contextual *ContextualLayer `json:"contextual"`
	Predictive *PredictiveLayer `json:"predictive"`

	// Usage signals, bumped only by retrieval
	ReferenceCount   int        `json:"reference_count"`
	LastReferencedAt *time.Time `json:"last_referenced_at,omitempty"`

	// Verification
	VerificationStatus VerificationStatus `json:"verification_status"`
	ClarificationNote  string             `json:"clarification_note,omitempty"`

	// Transcript is the raw conversation the memory was extracted from (audit trail).
	Transcript string `json:"transcript,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Importance returns the memory's importance on a 0-10 scale.
func (m *Memory) Importance() float64 {
	if m.Emotional == nil {
		return 0
	}
	return m.Emotional.Weight
}

// LastMentionedAt returns the last time the memory was surfaced, or its
// creation time if it has never been referenced.
func (m *Memory) LastMentionedAt() time.Time {
	if m.LastReferencedAt != nil && !m.LastReferencedAt.IsZero() {
		return *m.LastReferencedAt
	}
	return m.CreatedAt
}

// Summary returns a one-line description used in prompts and logs.
func (m *Memory) Summary() string {
	if m.Surface == nil {
		return ""
	}
	return m.Surface.Event
}

// SearchText returns the text used for keyword heuristics and embeddings.
func (m *Memory) SearchText() string {
	var b strings.Builder
	if m.Surface != nil {
		b.WriteString(m.Surface.Event)
		for _, p := range m.Surface.People {
			b.WriteString(" ")
			b.WriteString(p)
		}
		if m.Surface.Location != "" {
			b.WriteString(" ")
			b.WriteString(m.Surface.Location)
		}
	}
	if m.Emotional != nil {
		for _, e := range m.Emotional.Emotions {
			b.WriteString(" ")
			b.WriteString(e)
		}
	}
	if m.Predictive != nil {
		for _, k := range m.Predictive.TriggerKeywords {
			b.WriteString(" ")
			b.WriteString(k)
		}
	}
	return strings.TrimSpace(b.String())
}

// HasEmotion reports whether the emotional layer carries any of the given tags
// (case-insensitive).
func (m *Memory) HasEmotion(tags ...string) bool {
	if m.Emotional == nil {
		return false
	}
	for _, e := range m.Emotional.Emotions {
		for _, t := range tags {
			if strings.EqualFold(strings.TrimSpace(e), t) {
				return true
			}
		}
	}
	return false
}

// Validate checks the memory before it is persisted. Partial memories
// (any layer missing) are rejected.
func (m *Memory) Validate() error {
	if m == nil {
		return invalid("memory", "is nil")
	}
	if m.UserID == "" {
		return invalid("user_id", "is required")
	}
	if m.Surface == nil {
		return invalid("surface", "layer is missing")
	}
	if m.Emotional == nil {
		return invalid("emotional", "layer is missing")
	}
	if m.Contextual == nil {
		return invalid("contextual", "layer is missing")
	}
	if m.Predictive == nil {
		return invalid("predictive", "layer is missing")
	}

	if strings.TrimSpace(m.Surface.Event) == "" {
		return invalid("surface.event", "is required")
	}
	if m.Emotional.Weight < 0 || m.Emotional.Weight > 10 {
		return invalid("emotional.weight", "must be within 0-10, got %v", m.Emotional.Weight)
	}
	if m.Emotional.Vulnerability < 0 || m.Emotional.Vulnerability > 10 {
		return invalid("emotional.vulnerability", "must be within 0-10, got %v", m.Emotional.Vulnerability)
	}
	if m.Emotional.Confidence < 0 || m.Emotional.Confidence > 1 {
		return invalid("emotional.confidence", "must be within 0-1, got %v", m.Emotional.Confidence)
	}
	if !m.Contextual.LifeArea.IsValid() {
		return invalid("contextual.life_area", "unknown value %q", m.Contextual.LifeArea)
	}
	if !m.Contextual.Significance.IsValid() {
		return invalid("contextual.significance", "unknown value %q", m.Contextual.Significance)
	}
	if m.Predictive.Confidence < 0 || m.Predictive.Confidence > 1 {
		return invalid("predictive.confidence", "must be within 0-1, got %v", m.Predictive.Confidence)
	}
	if m.VerificationStatus != "" && !m.VerificationStatus.IsValid() {
		return invalid("verification_status", "unknown value %q", m.VerificationStatus)
	}

	return nil
}
