package types

import "time"

// TriggerType names the kind of proactive message.
type TriggerType string

// Trigger type constants
const (
	TriggerFollowUp    TriggerType = "followup"
	TriggerCheckIn     TriggerType = "check_in"
	TriggerSupport     TriggerType = "support"
	TriggerCelebration TriggerType = "celebration"
	TriggerAdvice      TriggerType = "advice"
	TriggerMissYou     TriggerType = "miss_you"
	TriggerGoodMorning TriggerType = "good_morning"
	TriggerGoodNight   TriggerType = "good_night"
)

// IsValid reports whether t is a known trigger type.
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerFollowUp, TriggerCheckIn, TriggerSupport, TriggerCelebration,
		TriggerAdvice, TriggerMissYou, TriggerGoodMorning, TriggerGoodNight:
		return true
	}
	return false
}

// EngagementTrigger is a scheduled, at-most-once proactive message.
// Sent moves from false to true exactly once and is never updated afterwards.
type EngagementTrigger struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Type         TriggerType `json:"type"`
	ScheduledFor time.Time   `json:"scheduled_for"`
	Message      string      `json:"message"`
	MemoryID     string      `json:"memory_id,omitempty"`
	Confidence   float64     `json:"confidence"` // 0-100
	Sent         bool        `json:"sent"`
	SentAt       *time.Time  `json:"sent_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Validate checks the trigger before it is created.
func (t *EngagementTrigger) Validate() error {
	if t.UserID == "" {
		return invalid("user_id", "is required")
	}
	if !t.Type.IsValid() {
		return invalid("type", "unknown value %q", t.Type)
	}
	if t.ScheduledFor.IsZero() {
		return invalid("scheduled_for", "is required")
	}
	if t.Message == "" {
		return invalid("message", "is required")
	}
	if t.Confidence < 0 || t.Confidence > 100 {
		return invalid("confidence", "must be within 0-100, got %v", t.Confidence)
	}
	return nil
}
